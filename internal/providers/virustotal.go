// ABOUTME: VirusTotal adapter: hash lookup, upload on miss, poll until the file report completes
// ABOUTME: Normalizes per-engine verdicts into detection counts, scan date, and permalink

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// VirusTotal defaults.
const (
	DefaultVirusTotalBaseURL      = "https://www.virustotal.com/api/v3"
	DefaultVirusTotalGUIURL       = "https://www.virustotal.com/gui/file/"
	DefaultVirusTotalPollInterval = 15 * time.Second
	DefaultVirusTotalPollAttempts = 10
)

// VirusTotalConfig configures the VirusTotal adapter.
type VirusTotalConfig struct {
	APIKey string

	// BaseURL of the v3 API. Empty uses DefaultVirusTotalBaseURL.
	BaseURL string

	// GUIURL prefixes permalinks. Empty uses DefaultVirusTotalGUIURL.
	GUIURL string

	// PollInterval between report checks after upload.
	PollInterval time.Duration

	// MaxPollAttempts bounds report checks after upload.
	MaxPollAttempts int

	HTTPClient *http.Client
	Logger     *slog.Logger

	now func() time.Time
}

// VirusTotal drives the lookup-submit-poll protocol against VirusTotal.
type VirusTotal struct {
	cfg      VirusTotalConfig
	upstream upstream
}

// NewVirusTotal creates a VirusTotal adapter.
func NewVirusTotal(cfg VirusTotalConfig) *VirusTotal {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultVirusTotalBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.GUIURL == "" {
		cfg.GUIURL = DefaultVirusTotalGUIURL
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultVirusTotalPollInterval
	}
	if cfg.MaxPollAttempts == 0 {
		cfg.MaxPollAttempts = DefaultVirusTotalPollAttempts
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	return &VirusTotal{
		cfg:      cfg,
		upstream: newUpstream(types.RoleVirusTotal, cfg.HTTPClient, cfg.Logger, cfg.APIKey),
	}
}

// Role returns the provider role.
func (v *VirusTotal) Role() types.ProviderRole {
	return types.RoleVirusTotal
}

// Analyze looks the content up by SHA-256 and uploads it only when VirusTotal
// has never seen it. A known file that is still being analyzed is polled, not
// uploaded again.
func (v *VirusTotal) Analyze(ctx context.Context, content []byte) Outcome {
	fp := types.Fingerprint(content)
	logger := v.upstream.logger.With(slog.String("sha256", fp.Short()))

	file, found, err := v.fetchFile(ctx, fp.Value)
	if err != nil {
		return failed(err)
	}
	if found && file.completed() {
		logger.DebugContext(ctx, "virustotal lookup hit")
		return complete(v.normalize(fp.Value, file))
	}

	var analysisID string
	if !found {
		uploadURL, err := v.uploadURL(ctx)
		if err != nil {
			return failed(err)
		}
		analysisID, err = v.upload(ctx, uploadURL, fp.Value, content)
		if err != nil {
			return failed(err)
		}
		logger.InfoContext(ctx, "virustotal upload submitted", slog.String("analysis_id", analysisID))
	}

	var final *vtFile
	attempts, err := poll(ctx, PollConfig{Interval: v.cfg.PollInterval, MaxAttempts: v.cfg.MaxPollAttempts},
		func(ctx context.Context) (bool, error) {
			f, ok, err := v.fetchFile(ctx, fp.Value)
			if err != nil || !ok {
				return false, err
			}
			if f.completed() {
				final = f
				return true, nil
			}
			return false, nil
		})
	if err != nil {
		o := failed(err)
		o.SubmissionID = analysisID
		o.PollAttempts = attempts
		logger.WarnContext(ctx, "virustotal polling stopped",
			slog.String("state", o.State.String()),
			slog.Int("attempts", attempts),
		)
		return o
	}

	o := complete(v.normalize(fp.Value, final))
	o.SubmissionID = analysisID
	o.PollAttempts = attempts
	return o
}

// fetchFile returns the file object, or found=false on 404.
func (v *VirusTotal) fetchFile(ctx context.Context, sha256 string) (*vtFile, bool, error) {
	const op = "get file report"

	req, err := v.newRequest(ctx, http.MethodGet, v.cfg.BaseURL+"/files/"+sha256, nil)
	if err != nil {
		return nil, false, err
	}
	status, body, err := v.upstream.do(req, op)
	if err != nil {
		return nil, false, err
	}

	switch {
	case status == http.StatusNotFound:
		return nil, false, nil
	case status != http.StatusOK:
		return nil, false, v.upstream.unexpectedStatus(op, status, body)
	}

	var resp vtFileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, v.upstream.transportError(op, status, fmt.Errorf("decoding file report: %w", err))
	}
	return &resp.Data, true, nil
}

func (v *VirusTotal) uploadURL(ctx context.Context) (string, error) {
	const op = "get upload url"

	req, err := v.newRequest(ctx, http.MethodGet, v.cfg.BaseURL+"/files/upload_url", nil)
	if err != nil {
		return "", err
	}
	status, body, err := v.upstream.do(req, op)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", v.upstream.unexpectedStatus(op, status, body)
	}

	var resp struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == "" {
		return "", v.upstream.transportError(op, status, errors.New("response carries no upload url"))
	}
	return resp.Data, nil
}

// upload posts the content and returns the analysis id VirusTotal assigned, if any.
func (v *VirusTotal) upload(ctx context.Context, uploadURL, name string, content []byte) (string, error) {
	const op = "upload file"

	body, contentType, err := multipartFile(name, content, nil)
	if err != nil {
		return "", v.upstream.transportError(op, 0, err)
	}
	req, err := v.newRequest(ctx, http.MethodPost, uploadURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	status, respBody, err := v.upstream.do(req, op)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", v.upstream.unexpectedStatus(op, status, respBody)
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_ = json.Unmarshal(respBody, &resp)
	return resp.Data.ID, nil
}

func (v *VirusTotal) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, v.upstream.transportError("build request", 0, err)
	}
	req.Header.Set("x-apikey", v.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (v *VirusTotal) normalize(sha256 string, f *vtFile) types.ProviderReport {
	results := f.Attributes.engineResults()

	detections := make(map[string]string, len(results))
	var malicious, suspicious int
	for engine, r := range results {
		detections[engine] = r.Category
		switch r.Category {
		case "malicious":
			malicious++
		case "suspicious":
			suspicious++
		}
	}

	id := f.ID
	if id == "" {
		id = sha256
	}

	return types.ProviderReport{
		Role:        types.RoleVirusTotal,
		Fingerprint: sha256,
		Found:       true,
		RetrievedAt: v.cfg.now().UTC(),
		VirusTotal: &types.VirusTotalReport{
			ID:           id,
			Status:       f.Attributes.Status,
			TotalEngines: len(results),
			Positives:    malicious,
			Suspicious:   suspicious,
			Detections:   detections,
			ScanDate:     f.Attributes.LastAnalysisDate.Time,
			Permalink:    v.cfg.GUIURL + id,
		},
	}
}

type vtFileResponse struct {
	Data vtFile `json:"data"`
}

type vtFile struct {
	ID         string       `json:"id"`
	Attributes vtAttributes `json:"attributes"`
}

type vtAttributes struct {
	Status              string                    `json:"status"`
	LastAnalysisResults map[string]vtEngineResult `json:"last_analysis_results"`
	Results             map[string]vtEngineResult `json:"results"`
	LastAnalysisDate    vtTimestamp               `json:"last_analysis_date"`
}

type vtEngineResult struct {
	Category string `json:"category"`
	Result   string `json:"result"`
}

func (a vtAttributes) engineResults() map[string]vtEngineResult {
	if len(a.LastAnalysisResults) > 0 {
		return a.LastAnalysisResults
	}
	return a.Results
}

// completed is true once VirusTotal marks the analysis done or engine results exist.
func (f *vtFile) completed() bool {
	return f.Attributes.Status == "completed" || len(f.Attributes.engineResults()) > 0
}

// vtTimestamp accepts unix seconds as a number or string, or an RFC 3339 string.
type vtTimestamp struct {
	time.Time
}

func (t *vtTimestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t.Time = time.Unix(secs, 0).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("unrecognized timestamp %q", raw)
	}
	t.Time = parsed.UTC()
	return nil
}
