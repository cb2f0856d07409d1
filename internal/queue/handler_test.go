// ABOUTME: Tests for NATS message handler
// ABOUTME: Covers request decoding, validation, and batch replies

package queue_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hikmaai-io/hikmaai-codescan/internal/queue"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

type recordingAnalyzer struct {
	calls int
	files []types.FileInput
	opts  types.AnalysisOptions
	convo *types.ConversationContext
}

func (r *recordingAnalyzer) AnalyzeBatch(_ context.Context, files []types.FileInput, opts types.AnalysisOptions, convo *types.ConversationContext) types.BatchResult {
	r.calls++
	r.files = files
	r.opts = opts
	r.convo = convo
	batch := types.BatchResult{ID: "batch-1"}
	for _, f := range files {
		batch.Results = append(batch.Results, types.AggregatedResult{FileName: f.Name, Options: opts})
	}
	return batch
}

func TestHandler_ProcessRequest(t *testing.T) {
	t.Parallel()

	analyzer := &recordingAnalyzer{}
	h := queue.NewHandler(queue.HandlerConfig{Analyzer: analyzer, MaxContentBytes: 1024, MaxFiles: 4})

	resp := h.ProcessRequest(context.Background(), queue.AnalyzeRequest{
		RequestID: "req-1",
		Files:     []types.FileInput{{Name: "b.go", Content: "package b"}, {Name: "a.go", Content: "package a"}},
		Options:   types.AnalysisOptions{Malware: true},
		History:   []string{"user: check these"},
	})

	if resp.Status != queue.StatusCompleted || resp.Error != "" {
		t.Fatalf("response = %+v, want completed", resp)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("RequestID = %q", resp.RequestID)
	}
	if resp.Batch == nil || len(resp.Batch.Results) != 2 || resp.Batch.Results[0].FileName != "b.go" {
		t.Errorf("Batch = %+v, want results in input order", resp.Batch)
	}
	if resp.CompletedAt.IsZero() {
		t.Error("CompletedAt is zero")
	}

	want := &types.ConversationContext{History: []types.Turn{{Role: types.TurnUser, Text: "check these"}}}
	if diff := cmp.Diff(want, analyzer.convo); diff != "" {
		t.Errorf("conversation mismatch (-want +got):\n%s", diff)
	}
}

func TestHandler_ProcessRequest_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       queue.HandlerConfig
		req       queue.AnalyzeRequest
		wantError string
	}{
		{
			name:      "no files",
			req:       queue.AnalyzeRequest{RequestID: "r"},
			wantError: "at least one file",
		},
		{
			name:      "too many files",
			cfg:       queue.HandlerConfig{MaxFiles: 1},
			req:       queue.AnalyzeRequest{Files: []types.FileInput{{Name: "a"}, {Name: "b"}}},
			wantError: "limit is 1",
		},
		{
			name:      "oversized content",
			cfg:       queue.HandlerConfig{MaxContentBytes: 4},
			req:       queue.AnalyzeRequest{Files: []types.FileInput{{Name: "a", Content: "12345"}}},
			wantError: "files[0]",
		},
		{
			name:      "unnamed file",
			req:       queue.AnalyzeRequest{Files: []types.FileInput{{Content: "x"}}},
			wantError: "name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			analyzer := &recordingAnalyzer{}
			tt.cfg.Analyzer = analyzer
			resp := queue.NewHandler(tt.cfg).ProcessRequest(context.Background(), tt.req)

			if resp.Status != queue.StatusError || !strings.Contains(resp.Error, tt.wantError) {
				t.Errorf("response = %+v, want error containing %q", resp, tt.wantError)
			}
			if resp.Batch != nil || analyzer.calls != 0 {
				t.Error("analysis ran for an invalid request")
			}
		})
	}
}

func TestHandler_ProcessMessage(t *testing.T) {
	t.Parallel()

	analyzer := &recordingAnalyzer{}
	h := queue.NewHandler(queue.HandlerConfig{Analyzer: analyzer})

	t.Run("valid", func(t *testing.T) {
		req, resp := h.ProcessMessage(context.Background(), []byte(`{
			"request_id": "abc",
			"files": [{"name": "x.py", "content": "import os"}],
			"options": {"security": true, "prompt_injection": true}
		}`))
		if req.RequestID != "abc" || resp.Status != queue.StatusCompleted {
			t.Fatalf("req = %+v, resp = %+v", req, resp)
		}
		if !analyzer.opts.Security || !analyzer.opts.PromptInjection || analyzer.opts.Malware {
			t.Errorf("options = %+v", analyzer.opts)
		}
		if analyzer.convo != nil {
			t.Errorf("conversation = %+v, want nil", analyzer.convo)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		_, resp := h.ProcessMessage(context.Background(), []byte(`{"files": [`))
		if resp.Status != queue.StatusError || !strings.HasPrefix(resp.Error, "invalid request format") {
			t.Errorf("response = %+v", resp)
		}
	})
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	if _, err := queue.NewClient(queue.DefaultNATSConfig(), nil, nil); err == nil {
		t.Error("NewClient() without handler should fail")
	}

	cfg := queue.DefaultNATSConfig()
	cfg.Subject = ""
	if _, err := queue.NewClient(cfg, queue.NewHandler(queue.HandlerConfig{}), nil); err == nil {
		t.Error("NewClient() without subject should fail")
	}

	c, err := queue.NewClient(queue.DefaultNATSConfig(), queue.NewHandler(queue.HandlerConfig{}), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() before Connect error = %v", err)
	}
	if err := c.Subscribe(context.Background()); err == nil {
		t.Error("Subscribe() before Connect should fail")
	}
}
