// ABOUTME: Tests for API handlers including analysis, chat, report lookup, and health
// ABOUTME: Validates request/response handling, limits, and error cases

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hikmaai-io/hikmaai-codescan/internal/chat"
	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
	"github.com/hikmaai-io/hikmaai-codescan/internal/resilience"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

const testFingerprint = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

type fakeAnalyzer struct {
	mu      sync.Mutex
	files   []types.FileInput
	opts    types.AnalysisOptions
	convo   *types.ConversationContext
	reports []types.ProviderReport
	err     error
}

func (f *fakeAnalyzer) AnalyzeFile(_ context.Context, name, content string, opts types.AnalysisOptions, convo *types.ConversationContext) types.AggregatedResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, types.FileInput{Name: name, Content: content})
	f.opts = opts
	f.convo = convo
	return types.AggregatedResult{FileName: name, Fingerprint: types.Fingerprint([]byte(content)).Value, Options: opts}
}

func (f *fakeAnalyzer) AnalyzeBatch(ctx context.Context, files []types.FileInput, opts types.AnalysisOptions, convo *types.ConversationContext) types.BatchResult {
	batch := types.BatchResult{ID: "batch-1"}
	for _, file := range files {
		batch.Results = append(batch.Results, f.AnalyzeFile(ctx, file.Name, file.Content, opts, convo))
	}
	return batch
}

func (f *fakeAnalyzer) CachedReports(context.Context, string) ([]types.ProviderReport, error) {
	return f.reports, f.err
}

type fakeCache struct {
	count int64
	err   error
}

func (c fakeCache) Backend() string { return "badger" }

func (c fakeCache) Count(context.Context) (int64, error) { return c.count, c.err }

type echoBackend struct{}

func (echoBackend) Name() string { return "echo" }

func (echoBackend) Generate(_ context.Context, turns []types.Turn) (string, error) {
	return "echo: " + turns[len(turns)-1].Text, nil
}

func setupMux(t *testing.T, cfg HandlerConfig) *http.ServeMux {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = observability.DiscardLogger()
	}
	mux := http.NewServeMux()
	NewHandler(cfg).RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_HandleAnalyze(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{}
	mux := setupMux(t, HandlerConfig{Analyzer: fa})

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/analyze", AnalyzeRequest{
		Name:                "main.py",
		Content:             "print('hi')",
		Options:             types.AnalysisOptions{Malware: true, Security: true},
		ConversationHistory: []string{"what does this do?", " "},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var result types.AggregatedResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if result.FileName != "main.py" || !result.Options.Malware || result.Options.Generative {
		t.Errorf("result = %+v", result)
	}

	want := &types.ConversationContext{History: []types.Turn{{Role: types.TurnUser, Text: "what does this do?"}}}
	if diff := cmp.Diff(want, fa.convo); diff != "" {
		t.Errorf("conversation mismatch (-want +got):\n%s", diff)
	}
}

func TestHandler_HandleAnalyze_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     any
		wantCode int
	}{
		{name: "malformed json", body: "{", wantCode: http.StatusBadRequest},
		{name: "missing name", body: AnalyzeRequest{Content: "x"}, wantCode: http.StatusBadRequest},
		{name: "content too large", body: AnalyzeRequest{Name: "a.go", Content: strings.Repeat("a", 65)}, wantCode: http.StatusBadRequest},
		{name: "body too large", body: AnalyzeRequest{Name: "a.go", Content: strings.Repeat("a", 80<<10)}, wantCode: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fa := &fakeAnalyzer{}
			mux := setupMux(t, HandlerConfig{Analyzer: fa, MaxContentBytes: 64})

			rec := doJSON(t, mux, http.MethodPost, "/api/v1/analyze", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("Status = %d, want %d; body: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if len(fa.files) != 0 {
				t.Error("analyzer was called for an invalid request")
			}
		})
	}
}

func TestHandler_HandleAnalyzeBatch(t *testing.T) {
	t.Parallel()

	fa := &fakeAnalyzer{}
	mux := setupMux(t, HandlerConfig{Analyzer: fa, MaxBatchFiles: 3})

	files := []types.FileInput{{Name: "a.js", Content: "a"}, {Name: "b.js", Content: "b"}}
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/analyze/batch", BatchRequest{
		Files:   files,
		Options: types.AnalysisOptions{Generative: true},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d; body: %s", rec.Code, rec.Body.String())
	}

	var batch types.BatchResult
	if err := json.NewDecoder(rec.Body).Decode(&batch); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if len(batch.Results) != 2 || batch.Results[0].FileName != "a.js" || batch.Results[1].FileName != "b.js" {
		t.Errorf("batch results = %+v", batch.Results)
	}
	if fa.convo != nil {
		t.Errorf("conversation = %+v, want nil without history", fa.convo)
	}
}

func TestHandler_HandleAnalyzeBatch_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files []types.FileInput
	}{
		{name: "no files", files: nil},
		{name: "too many files", files: []types.FileInput{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}},
		{name: "unnamed file", files: []types.FileInput{{Name: "a"}, {Content: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := setupMux(t, HandlerConfig{Analyzer: &fakeAnalyzer{}, MaxBatchFiles: 3})
			rec := doJSON(t, mux, http.MethodPost, "/api/v1/analyze/batch", BatchRequest{Files: tt.files})
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandler_HandleChat(t *testing.T) {
	t.Parallel()

	store := chat.NewSessionStore(chat.StoreConfig{
		Template: chat.SessionConfig{Backend: echoBackend{}, Logger: observability.DiscardLogger()},
	})
	mux := setupMux(t, HandlerConfig{Analyzer: &fakeAnalyzer{}, Sessions: store})

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/chat", ChatRequest{
		Message:         "explain",
		Files:           []string{"main.py"},
		AnalysisResults: json.RawMessage(`{"risk":"high"}`),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d; body: %s", rec.Code, rec.Body.String())
	}

	var first ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&first); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if first.SessionID == "" || first.Degraded {
		t.Fatalf("first reply = %+v", first)
	}
	if !strings.HasPrefix(first.Text, "echo: explain") || !strings.Contains(first.Text, "- main.py") {
		t.Errorf("Text = %q, want prompt with files", first.Text)
	}
	if first.Context == nil || len(first.Context.Files) != 1 {
		t.Errorf("Context = %+v, want files echoed", first.Context)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/chat", ChatRequest{SessionID: first.SessionID, Message: "and then?"})
	var second ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&second); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("SessionID = %q, want resumed %q", second.SessionID, first.SessionID)
	}
	if second.Context != nil {
		t.Errorf("Context = %+v, want nil without attachments", second.Context)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
}

func TestHandler_HandleChat_Errors(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		mux := setupMux(t, HandlerConfig{Analyzer: &fakeAnalyzer{}})
		rec := doJSON(t, mux, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "hi"})
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})

	t.Run("empty message", func(t *testing.T) {
		t.Parallel()

		store := chat.NewSessionStore(chat.StoreConfig{Template: chat.SessionConfig{Backend: echoBackend{}}})
		mux := setupMux(t, HandlerConfig{Analyzer: &fakeAnalyzer{}, Sessions: store})
		rec := doJSON(t, mux, http.MethodPost, "/api/v1/chat", ChatRequest{Message: "  "})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestHandler_HandleDeleteChat(t *testing.T) {
	t.Parallel()

	store := chat.NewSessionStore(chat.StoreConfig{
		Template: chat.SessionConfig{Backend: echoBackend{}, Logger: observability.DiscardLogger()},
	})
	mux := setupMux(t, HandlerConfig{Analyzer: &fakeAnalyzer{}, Sessions: store})

	sess, err := store.Acquire("")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	rec := doJSON(t, mux, http.MethodDelete, "/api/v1/chat/"+sess.ID(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want %d; body: %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}
	if store.Len() != 0 {
		t.Errorf("store.Len() = %d, want 0", store.Len())
	}

	rec = doJSON(t, mux, http.MethodDelete, "/api/v1/chat/"+sess.ID(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete Status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	disabled := setupMux(t, HandlerConfig{Analyzer: &fakeAnalyzer{}})
	if rec := doJSON(t, disabled, http.MethodDelete, "/api/v1/chat/x", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled Status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandler_HandleGetReports(t *testing.T) {
	t.Parallel()

	report := types.ProviderReport{Role: types.RoleVirusTotal, Fingerprint: testFingerprint, Found: true, Cached: true}

	tests := []struct {
		name     string
		hash     string
		analyzer *fakeAnalyzer
		wantCode int
		wantLen  int
	}{
		{name: "found", hash: strings.ToUpper(testFingerprint), analyzer: &fakeAnalyzer{reports: []types.ProviderReport{report}}, wantCode: http.StatusOK, wantLen: 1},
		{name: "provider filter keeps match", hash: testFingerprint + "?provider=virustotal", analyzer: &fakeAnalyzer{reports: []types.ProviderReport{report}}, wantCode: http.StatusOK, wantLen: 1},
		{name: "provider filter drops others", hash: testFingerprint + "?provider=malshare", analyzer: &fakeAnalyzer{reports: []types.ProviderReport{report}}, wantCode: http.StatusOK, wantLen: 0},
		{name: "unknown provider", hash: testFingerprint + "?provider=clamav", analyzer: &fakeAnalyzer{}, wantCode: http.StatusBadRequest},
		{name: "nothing cached", hash: testFingerprint, analyzer: &fakeAnalyzer{}, wantCode: http.StatusOK, wantLen: 0},
		{name: "invalid hash", hash: "invalid", analyzer: &fakeAnalyzer{}, wantCode: http.StatusBadRequest},
		{name: "md5 rejected", hash: strings.Repeat("a", 32), analyzer: &fakeAnalyzer{}, wantCode: http.StatusBadRequest},
		{name: "cache failure", hash: testFingerprint, analyzer: &fakeAnalyzer{err: errors.New("redis down")}, wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := setupMux(t, HandlerConfig{Analyzer: tt.analyzer})
			rec := doJSON(t, mux, http.MethodGet, "/api/v1/reports/"+tt.hash, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("Status = %d, want %d; body: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp ReportsResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Decoding response: %v", err)
			}
			if resp.Fingerprint != testFingerprint {
				t.Errorf("Fingerprint = %q, want lowercase", resp.Fingerprint)
			}
			if resp.Reports == nil || len(resp.Reports) != tt.wantLen {
				t.Errorf("Reports = %v, want %d entries", resp.Reports, tt.wantLen)
			}
		})
	}
}

func TestHandler_HandleHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		openVT     bool
		cache      CacheStatus
		wantStatus string
	}{
		{name: "healthy", cache: fakeCache{count: 3}, wantStatus: "ok"},
		{name: "no cache", wantStatus: "ok"},
		{name: "open breaker", openVT: true, cache: fakeCache{}, wantStatus: "degraded"},
		{name: "cache error", cache: fakeCache{err: errors.New("closed")}, wantStatus: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{MaxFailures: 1, Logger: observability.DiscardLogger()})
			vt := breakers.Get(string(types.RoleVirusTotal))
			if tt.openVT {
				_ = vt.Execute(context.Background(), func(context.Context) error { return errors.New("502") })
			}

			mux := setupMux(t, HandlerConfig{Analyzer: &fakeAnalyzer{}, Cache: tt.cache, Breakers: breakers})
			rec := doJSON(t, mux, http.MethodGet, "/api/v1/health", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("Status = %d", rec.Code)
			}

			var resp struct {
				Status string `json:"status"`
				Checks struct {
					Breakers []resilience.Statistics `json:"breakers"`
					Cache    string                  `json:"cache"`
				} `json:"checks"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Decoding response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if len(resp.Checks.Breakers) != 1 || resp.Checks.Breakers[0].Name != "virustotal" {
				t.Errorf("breakers = %+v", resp.Checks.Breakers)
			}
			if tt.cache == nil && resp.Checks.Cache != "none" {
				t.Errorf("cache = %q, want none", resp.Checks.Cache)
			}
		})
	}
}

func TestHandler_HandleMetrics(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics()
	metrics.RecordProviderCall("virustotal", 20*time.Millisecond, "")
	metrics.RecordChat(true)

	mux := setupMux(t, HandlerConfig{Analyzer: &fakeAnalyzer{}, Metrics: metrics})
	rec := doJSON(t, mux, http.MethodGet, "/api/v1/metrics", nil)

	var snap observability.MetricsSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if snap.ChatMessages != 1 || snap.ChatDegraded != 1 {
		t.Errorf("chat counters = %d/%d", snap.ChatMessages, snap.ChatDegraded)
	}
	if _, ok := snap.Providers["virustotal"]; !ok {
		t.Errorf("Providers = %v, want virustotal", snap.Providers)
	}
}

func TestNewRouter_Middleware(t *testing.T) {
	t.Parallel()

	h := NewHandler(HandlerConfig{Analyzer: &fakeAnalyzer{}, Logger: observability.DiscardLogger()})
	router := NewRouter(h, RouterConfig{
		AllowedOrigins: []string{"https://ui.example.com"},
		Logger:         observability.DiscardLogger(),
	})

	t.Run("correlation id echoed", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Header().Get(observability.CorrelationIDHeader) == "" {
			t.Error("response lacks a correlation id")
		}
	})

	t.Run("cors preflight", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil)
		req.Header.Set("Origin", "https://ui.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ui.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
	})

	t.Run("foreign origin", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
	})
}
