// ABOUTME: Hybrid Analysis adapter: hash search, sandbox submission, state polling
// ABOUTME: Normalizes threat score, verdict, family, behavior counts, and signatures

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// Hybrid Analysis defaults.
const (
	DefaultHybridAnalysisBaseURL      = "https://www.hybrid-analysis.com/api/v2"
	DefaultHybridAnalysisPollInterval = 5 * time.Second
	DefaultHybridAnalysisPollAttempts = 10
	// DefaultHybridAnalysisEnvironment is the Windows 10 64-bit sandbox.
	DefaultHybridAnalysisEnvironment = 160
	DefaultHybridAnalysisUserAgent   = "Falcon Sandbox"
)

// Sandbox job states reported by /report/{id}/state.
const (
	haStateSuccess = "SUCCESS"
	haStateError   = "ERROR"
)

// HybridAnalysisConfig configures the Hybrid Analysis adapter.
type HybridAnalysisConfig struct {
	APIKey        string
	BaseURL       string
	EnvironmentID int
	UserAgent     string

	PollInterval    time.Duration
	MaxPollAttempts int

	HTTPClient *http.Client
	Logger     *slog.Logger

	now func() time.Time
}

// HybridAnalysis drives the lookup-submit-poll protocol against Hybrid Analysis.
type HybridAnalysis struct {
	cfg      HybridAnalysisConfig
	upstream upstream
}

// NewHybridAnalysis creates a Hybrid Analysis adapter.
func NewHybridAnalysis(cfg HybridAnalysisConfig) *HybridAnalysis {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHybridAnalysisBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.EnvironmentID == 0 {
		cfg.EnvironmentID = DefaultHybridAnalysisEnvironment
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultHybridAnalysisUserAgent
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultHybridAnalysisPollInterval
	}
	if cfg.MaxPollAttempts == 0 {
		cfg.MaxPollAttempts = DefaultHybridAnalysisPollAttempts
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	return &HybridAnalysis{
		cfg:      cfg,
		upstream: newUpstream(types.RoleHybridAnalysis, cfg.HTTPClient, cfg.Logger, cfg.APIKey),
	}
}

// Role returns the provider role.
func (h *HybridAnalysis) Role() types.ProviderRole {
	return types.RoleHybridAnalysis
}

// Analyze searches by SHA-256 and submits the content to the sandbox only
// when no report exists yet.
func (h *HybridAnalysis) Analyze(ctx context.Context, content []byte) Outcome {
	fp := types.Fingerprint(content)
	logger := h.upstream.logger.With(slog.String("sha256", fp.Short()))

	existing, err := h.search(ctx, fp.Value)
	if err != nil {
		return failed(err)
	}
	if existing != nil {
		logger.DebugContext(ctx, "hybrid analysis lookup hit")
		return complete(h.normalize(fp.Value, existing, ""))
	}

	submitID, err := h.submit(ctx, fp.Value, content)
	if err != nil {
		return failed(err)
	}
	logger.InfoContext(ctx, "hybrid analysis submission accepted", slog.String("submit_id", submitID))

	attempts, err := poll(ctx, PollConfig{Interval: h.cfg.PollInterval, MaxAttempts: h.cfg.MaxPollAttempts},
		func(ctx context.Context) (bool, error) {
			state, err := h.state(ctx, submitID)
			if err != nil {
				return false, err
			}
			switch state {
			case haStateSuccess:
				return true, nil
			case haStateError:
				return false, ErrAnalysisFailed
			}
			return false, nil
		})
	if err != nil {
		o := failed(err)
		o.SubmissionID = submitID
		o.PollAttempts = attempts
		logger.WarnContext(ctx, "hybrid analysis polling stopped",
			slog.String("state", o.State.String()),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return o
	}

	report, err := h.search(ctx, fp.Value)
	if err == nil && report == nil {
		report, err = h.summary(ctx, submitID)
	}
	if err != nil {
		o := failed(err)
		o.SubmissionID = submitID
		o.PollAttempts = attempts
		return o
	}

	o := complete(h.normalize(fp.Value, report, submitID))
	o.SubmissionID = submitID
	o.PollAttempts = attempts
	return o
}

// search returns the first report for the hash, or nil when none exists.
func (h *HybridAnalysis) search(ctx context.Context, sha256 string) (*haReport, error) {
	const op = "search hash"

	q := url.Values{"hash": {sha256}}
	req, err := h.newRequest(ctx, http.MethodGet, h.cfg.BaseURL+"/search/hash?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	status, body, err := h.upstream.do(req, op)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status != http.StatusOK:
		return nil, h.upstream.unexpectedStatus(op, status, body)
	}

	var reports []haReport
	if err := json.Unmarshal(body, &reports); err != nil {
		return nil, h.upstream.transportError(op, status, fmt.Errorf("decoding search results: %w", err))
	}
	if len(reports) == 0 {
		return nil, nil
	}
	return &reports[0], nil
}

func (h *HybridAnalysis) submit(ctx context.Context, name string, content []byte) (string, error) {
	const op = "submit file"

	body, contentType, err := multipartFile(name, content, map[string]string{
		"environment_id": strconv.Itoa(h.cfg.EnvironmentID),
	})
	if err != nil {
		return "", h.upstream.transportError(op, 0, err)
	}
	req, err := h.newRequest(ctx, http.MethodPost, h.cfg.BaseURL+"/submit/file", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	status, respBody, err := h.upstream.do(req, op)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", h.upstream.unexpectedStatus(op, status, respBody)
	}

	var resp struct {
		SubmitID     string `json:"submit_id"`
		SubmissionID string `json:"submission_id"`
		JobID        string `json:"job_id"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", h.upstream.transportError(op, status, fmt.Errorf("decoding submission: %w", err))
	}
	for _, id := range []string{resp.SubmitID, resp.SubmissionID, resp.JobID} {
		if id != "" {
			return id, nil
		}
	}
	return "", h.upstream.transportError(op, status, errors.New("submission response carries no id"))
}

func (h *HybridAnalysis) state(ctx context.Context, submitID string) (string, error) {
	const op = "get report state"

	req, err := h.newRequest(ctx, http.MethodGet, h.cfg.BaseURL+"/report/"+url.PathEscape(submitID)+"/state", nil)
	if err != nil {
		return "", err
	}
	status, body, err := h.upstream.do(req, op)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	if status != http.StatusOK {
		return "", h.upstream.unexpectedStatus(op, status, body)
	}

	var resp struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", h.upstream.transportError(op, status, fmt.Errorf("decoding state: %w", err))
	}
	return strings.ToUpper(resp.State), nil
}

// summary fetches the report by submission id when the hash index lags behind.
func (h *HybridAnalysis) summary(ctx context.Context, submitID string) (*haReport, error) {
	const op = "get report summary"

	req, err := h.newRequest(ctx, http.MethodGet, h.cfg.BaseURL+"/report/"+url.PathEscape(submitID)+"/summary", nil)
	if err != nil {
		return nil, err
	}
	status, body, err := h.upstream.do(req, op)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, h.upstream.unexpectedStatus(op, status, body)
	}

	var report haReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, h.upstream.transportError(op, status, fmt.Errorf("decoding summary: %w", err))
	}
	return &report, nil
}

func (h *HybridAnalysis) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, h.upstream.transportError("build request", 0, err)
	}
	req.Header.Set("api-key", h.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.cfg.UserAgent)
	return req, nil
}

func (h *HybridAnalysis) normalize(sha256 string, r *haReport, submitID string) types.ProviderReport {
	family := r.MalwareFamily
	if family == "" {
		family = r.VXFamily
	}

	var sigs []types.HybridSignature
	for _, s := range r.Signatures {
		sigs = append(sigs, types.HybridSignature{
			Name:        s.Name,
			Severity:    int(s.Severity.or(s.ThreatLevel)),
			Description: s.Description,
		})
	}

	if submitID == "" {
		submitID = r.JobID
	}

	return types.ProviderReport{
		Role:        types.RoleHybridAnalysis,
		Fingerprint: sha256,
		Found:       true,
		RetrievedAt: h.cfg.now().UTC(),
		HybridAnalysis: &types.HybridAnalysisReport{
			ThreatScore:        int(r.ThreatScore),
			Verdict:            r.Verdict,
			MalwareFamily:      family,
			Tags:               r.Tags,
			Processes:          len(r.Processes),
			NetworkConnections: len(r.NetworkConnections),
			Signatures:         sigs,
			SubmitID:           submitID,
		},
	}
}

type haReport struct {
	JobID              string            `json:"job_id"`
	ThreatScore        flexInt           `json:"threat_score"`
	Verdict            string            `json:"verdict"`
	MalwareFamily      string            `json:"malware_family"`
	VXFamily           string            `json:"vx_family"`
	Tags               []string          `json:"tags"`
	Processes          []json.RawMessage `json:"processes"`
	NetworkConnections []json.RawMessage `json:"network_connections"`
	Signatures         []haSignature     `json:"signatures"`
}

type haSignature struct {
	Name        string  `json:"name"`
	Severity    flexInt `json:"severity"`
	ThreatLevel flexInt `json:"threat_level"`
	Description string  `json:"description"`
}

// flexInt decodes a number that may arrive as a JSON number, a numeric
// string, or null.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("expected a number, got %s", data)
	}
	*n = flexInt(f)
	return nil
}

// or returns n, or fallback when n is zero.
func (n flexInt) or(fallback flexInt) flexInt {
	if n != 0 {
		return n
	}
	return fallback
}
