// ABOUTME: NATS message handler for analysis requests
// ABOUTME: Validates requests, runs the batch analysis, and builds the reply

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// BatchAnalyzer runs an ordered batch analysis.
type BatchAnalyzer interface {
	AnalyzeBatch(ctx context.Context, files []types.FileInput, opts types.AnalysisOptions, convo *types.ConversationContext) types.BatchResult
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Analyzer BatchAnalyzer

	// MaxContentBytes bounds each file's content. Zero means unbounded.
	MaxContentBytes int

	// MaxFiles bounds the files in one request. Zero means unbounded.
	MaxFiles int
}

// Handler processes analysis requests.
type Handler struct {
	cfg HandlerConfig
	now func() time.Time
}

// NewHandler creates a new message handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg, now: time.Now}
}

// ProcessRequest validates and runs a single analysis request.
func (h *Handler) ProcessRequest(ctx context.Context, req AnalyzeRequest) AnalyzeResponse {
	resp := AnalyzeResponse{RequestID: req.RequestID}

	if err := h.validate(req); err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		resp.CompletedAt = h.now().UTC()
		return resp
	}

	var convo *types.ConversationContext
	if turns := types.TurnsFromLines(req.History); len(turns) > 0 {
		convo = &types.ConversationContext{History: turns}
	}

	batch := h.cfg.Analyzer.AnalyzeBatch(ctx, req.Files, req.Options, convo)
	resp.Status = StatusCompleted
	resp.Batch = &batch
	resp.CompletedAt = h.now().UTC()
	return resp
}

// ProcessMessage decodes a raw message, processes it, and encodes the reply.
// Undecodable messages get an error reply.
func (h *Handler) ProcessMessage(ctx context.Context, data []byte) (AnalyzeRequest, AnalyzeResponse) {
	var req AnalyzeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, AnalyzeResponse{
			Status:      StatusError,
			Error:       "invalid request format: " + err.Error(),
			CompletedAt: h.now().UTC(),
		}
	}
	return req, h.ProcessRequest(ctx, req)
}

func (h *Handler) validate(req AnalyzeRequest) error {
	if h.cfg.Analyzer == nil {
		return fmt.Errorf("analysis is not configured")
	}
	if len(req.Files) == 0 {
		return fmt.Errorf("at least one file is required")
	}
	if h.cfg.MaxFiles > 0 && len(req.Files) > h.cfg.MaxFiles {
		return fmt.Errorf("request has %d files, limit is %d", len(req.Files), h.cfg.MaxFiles)
	}
	for i, f := range req.Files {
		if err := f.Validate(h.cfg.MaxContentBytes); err != nil {
			return fmt.Errorf("files[%d]: %w", i, err)
		}
	}
	return nil
}
