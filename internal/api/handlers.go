// ABOUTME: HTTP handlers for hikmaai-codescan API endpoints
// ABOUTME: Provides file and batch analysis, chat, cached report lookup, health, and metrics

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/chat"
	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
	"github.com/hikmaai-io/hikmaai-codescan/internal/resilience"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// Defaults for HandlerConfig.
const (
	DefaultMaxContentBytes = 5 << 20
	DefaultMaxBatchFiles   = 50
)

// Analyzer runs analyses and exposes cached provider reports.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, name, content string, opts types.AnalysisOptions, convo *types.ConversationContext) types.AggregatedResult
	AnalyzeBatch(ctx context.Context, files []types.FileInput, opts types.AnalysisOptions, convo *types.ConversationContext) types.BatchResult
	CachedReports(ctx context.Context, fingerprint string) ([]types.ProviderReport, error)
}

// CacheStatus reports the state of the report cache.
type CacheStatus interface {
	Backend() string
	Count(ctx context.Context) (int64, error)
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	analyzer        Analyzer
	sessions        *chat.SessionStore
	cache           CacheStatus
	breakers        *resilience.Registry
	metrics         *observability.Metrics
	logger          *slog.Logger
	maxContentBytes int
	maxBatchFiles   int
	now             func() time.Time
}

// HandlerConfig holds configuration for API handlers.
type HandlerConfig struct {
	Analyzer Analyzer

	// Sessions backs the chat endpoint. Nil disables chat.
	Sessions *chat.SessionStore

	// Cache is reported by the health endpoint. Nil reports "none".
	Cache CacheStatus

	Breakers *resilience.Registry
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	// MaxContentBytes bounds a single file's content.
	MaxContentBytes int

	// MaxBatchFiles bounds the files in one batch request.
	MaxBatchFiles int
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = DefaultMaxContentBytes
	}
	if cfg.MaxBatchFiles <= 0 {
		cfg.MaxBatchFiles = DefaultMaxBatchFiles
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	return &Handler{
		analyzer:        cfg.Analyzer,
		sessions:        cfg.Sessions,
		cache:           cfg.Cache,
		breakers:        cfg.Breakers,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		maxContentBytes: cfg.MaxContentBytes,
		maxBatchFiles:   cfg.MaxBatchFiles,
		now:             time.Now,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/analyze", h.HandleAnalyze)
	mux.HandleFunc("POST /api/v1/analyze/batch", h.HandleAnalyzeBatch)
	mux.HandleFunc("POST /api/v1/chat", h.HandleChat)
	mux.HandleFunc("DELETE /api/v1/chat/{id}", h.HandleDeleteChat)
	mux.HandleFunc("GET /api/v1/reports/{hash}", h.HandleGetReports)
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
	mux.HandleFunc("GET /api/v1/metrics", h.HandleMetrics)
}

// AnalyzeRequest is the body of a single-file analysis.
type AnalyzeRequest struct {
	Name                string                `json:"name"`
	Content             string                `json:"content"`
	Options             types.AnalysisOptions `json:"options"`
	ConversationHistory []string              `json:"conversation_history,omitempty"`
}

// BatchRequest is the body of a batch analysis.
type BatchRequest struct {
	Files               []types.FileInput     `json:"files"`
	Options             types.AnalysisOptions `json:"options"`
	ConversationHistory []string              `json:"conversation_history,omitempty"`
}

// ChatRequest is the body of a chat message.
type ChatRequest struct {
	SessionID       string          `json:"session_id,omitempty"`
	Message         string          `json:"message"`
	Files           []string        `json:"files,omitempty"`
	AnalysisResults json.RawMessage `json:"analysis_results,omitempty"`
}

// ChatResponse is the answer to a chat message.
type ChatResponse struct {
	SessionID string               `json:"session_id"`
	Text      string               `json:"text"`
	Context   *chat.MessageContext `json:"context,omitempty"`
	Degraded  bool                 `json:"degraded"`
}

// ReportsResponse lists the cached provider reports for a fingerprint.
type ReportsResponse struct {
	Fingerprint string                 `json:"fingerprint"`
	Reports     []types.ProviderReport `json:"reports"`
}

// HandleAnalyze analyzes one file.
// POST /api/v1/analyze
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !h.decode(w, r, h.bodyLimit(1), &req) {
		return
	}

	file := types.FileInput{Name: req.Name, Content: req.Content}
	if err := file.Validate(h.maxContentBytes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.analyzer.AnalyzeFile(r.Context(), req.Name, req.Content, req.Options, conversation(req.ConversationHistory))
	writeJSON(w, http.StatusOK, result)
}

// HandleAnalyzeBatch analyzes several files and returns results in input order.
// POST /api/v1/analyze/batch
func (h *Handler) HandleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, h.bodyLimit(h.maxBatchFiles), &req) {
		return
	}

	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required")
		return
	}
	if len(req.Files) > h.maxBatchFiles {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch has %d files, limit is %d", len(req.Files), h.maxBatchFiles))
		return
	}
	for i, f := range req.Files {
		if err := f.Validate(h.maxContentBytes); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("files[%d]: %v", i, err))
			return
		}
	}

	batch := h.analyzer.AnalyzeBatch(r.Context(), req.Files, req.Options, conversation(req.ConversationHistory))
	writeJSON(w, http.StatusOK, batch)
}

// HandleChat sends one message to a chat session, creating it when needed.
// POST /api/v1/chat
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not enabled")
		return
	}

	var req ChatRequest
	if !h.decode(w, r, h.bodyLimit(1), &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sess, err := h.sessions.Acquire(req.SessionID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "acquiring chat session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "chat session unavailable")
		return
	}

	var mctx *chat.MessageContext
	if len(req.Files) > 0 || hasJSON(req.AnalysisResults) {
		mctx = &chat.MessageContext{Files: req.Files}
		if hasJSON(req.AnalysisResults) {
			mctx.AnalysisResults = req.AnalysisResults
		}
	}

	reply := sess.SendMessage(r.Context(), req.Message, mctx)
	writeJSON(w, http.StatusOK, ChatResponse{
		SessionID: sess.ID(),
		Text:      reply.Text,
		Context:   reply.Context,
		Degraded:  reply.Degraded,
	})
}

// HandleDeleteChat ends a chat session.
// DELETE /api/v1/chat/{id}
func (h *Handler) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not enabled")
		return
	}
	if !h.sessions.Delete(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "chat session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetReports returns cached provider reports for a SHA256 fingerprint,
// optionally narrowed to one provider with ?provider=.
// GET /api/v1/reports/{hash}
func (h *Handler) HandleGetReports(w http.ResponseWriter, r *http.Request) {
	hashStr := r.PathValue("hash")
	if hashStr == "" {
		writeError(w, http.StatusBadRequest, "hash is required")
		return
	}

	hash, err := types.ParseHash(hashStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid hash: %v", err))
		return
	}
	if hash.Type != types.HashTypeSHA256 {
		writeError(w, http.StatusBadRequest, "reports are keyed by sha256 fingerprint")
		return
	}

	var role types.ProviderRole
	if p := r.URL.Query().Get("provider"); p != "" {
		role, err = types.ParseProviderRole(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	cached, err := h.analyzer.CachedReports(r.Context(), hash.Value)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "reading cached reports", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "report lookup failed")
		return
	}
	reports := make([]types.ProviderReport, 0, len(cached))
	for _, rep := range cached {
		if role == "" || rep.Role == role {
			reports = append(reports, rep)
		}
	}

	writeJSON(w, http.StatusOK, ReportsResponse{Fingerprint: hash.Value, Reports: reports})
}

// HandleHealth handles health check requests.
// GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]any)

	if h.breakers != nil {
		stats := h.breakers.Statistics()
		for _, s := range stats {
			if s.State == "open" {
				status = "degraded"
			}
		}
		checks["breakers"] = stats
	}

	if h.cache != nil {
		count, err := h.cache.Count(r.Context())
		if err != nil {
			status = "degraded"
			checks["cache"] = fmt.Sprintf("%s: error: %v", h.cache.Backend(), err)
		} else {
			checks["cache"] = fmt.Sprintf("%s: ok (reports: %d)", h.cache.Backend(), count)
		}
	} else {
		checks["cache"] = "none"
	}

	checks["chat"] = h.sessions != nil
	if h.sessions != nil {
		checks["chat_sessions"] = h.sessions.Len()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": h.now().UTC(),
		"checks":    checks,
	})
}

// HandleMetrics returns the metrics snapshot.
// GET /api/v1/metrics
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// bodyLimit bounds a request body carrying up to files files.
func (h *Handler) bodyLimit(files int) int64 {
	// JSON escaping can double content; leave headroom for the envelope.
	return int64(files)*int64(h.maxContentBytes)*2 + 64<<10
}

// decode reads a JSON body into dst, writing the error response on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func conversation(history []string) *types.ConversationContext {
	turns := types.TurnsFromLines(history)
	if len(turns) == 0 {
		return nil
	}
	return &types.ConversationContext{History: turns}
}

func hasJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
