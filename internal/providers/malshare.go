// ABOUTME: MalShare adapter: single MD5 lookup against the sample index, no submission
// ABOUTME: Unknown samples are a normal not-found report; only transport faults are errors

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// DefaultMalShareURL is the MalShare API endpoint.
const DefaultMalShareURL = "https://malshare.com/api.php"

// MalShareConfig configures the MalShare adapter.
type MalShareConfig struct {
	APIKey string

	// URL of api.php. Empty uses DefaultMalShareURL.
	URL string

	HTTPClient *http.Client
	Logger     *slog.Logger

	now func() time.Time
}

// MalShare checks content hashes against the MalShare sample index.
type MalShare struct {
	cfg      MalShareConfig
	upstream upstream
}

// NewMalShare creates a MalShare adapter.
func NewMalShare(cfg MalShareConfig) *MalShare {
	if cfg.URL == "" {
		cfg.URL = DefaultMalShareURL
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &MalShare{
		cfg:      cfg,
		upstream: newUpstream(types.RoleMalShare, cfg.HTTPClient, cfg.Logger, cfg.APIKey, url.QueryEscape(cfg.APIKey)),
	}
}

// Role returns the provider role.
func (m *MalShare) Role() types.ProviderRole {
	return types.RoleMalShare
}

// Analyze runs CheckHash and wraps it in an Outcome.
func (m *MalShare) Analyze(ctx context.Context, content []byte) Outcome {
	report, err := m.CheckHash(ctx, content)
	if err != nil {
		return failed(err)
	}
	return complete(report)
}

// CheckHash looks up the MD5 of content. A sample MalShare does not know
// yields Found=false with an empty match list.
func (m *MalShare) CheckHash(ctx context.Context, content []byte) (types.ProviderReport, error) {
	const op = "hash details"

	md5 := types.FingerprintMD5(content)
	sha256 := types.Fingerprint(content)

	q := url.Values{
		"api_key": {m.cfg.APIKey},
		"action":  {"details"},
		"hash":    {md5.Value},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.URL+"?"+q.Encode(), nil)
	if err != nil {
		return types.ProviderReport{}, m.upstream.transportError("build request", 0, err)
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := m.upstream.do(req, op)
	if err != nil {
		return types.ProviderReport{}, err
	}

	notFound := types.NewNotFoundReport(types.RoleMalShare, sha256.Value, m.cfg.now().UTC())
	switch {
	case status == http.StatusNotFound:
		return notFound, nil
	case status != http.StatusOK:
		return types.ProviderReport{}, m.upstream.unexpectedStatus(op, status, body)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.HasPrefix(bytes.ToUpper(trimmed), []byte("ERROR")) {
		m.upstream.logger.DebugContext(ctx, "malshare sample unknown", slog.String("md5", md5.Value))
		return notFound, nil
	}

	var details msDetails
	if err := json.Unmarshal(trimmed, &details); err != nil {
		return types.ProviderReport{}, m.upstream.transportError(op, status, fmt.Errorf("decoding details: %w", err))
	}
	if (len(details.Error) > 0 && string(details.Error) != "null") || details.MD5 == "" {
		return notFound, nil
	}

	fileType := details.FType
	if fileType == "" {
		fileType = details.Type
	}
	return types.ProviderReport{
		Role:        types.RoleMalShare,
		Fingerprint: sha256.Value,
		Found:       true,
		RetrievedAt: m.cfg.now().UTC(),
		MalShare: &types.MalShareReport{
			Matches: []types.MalShareMatch{{
				MD5:      strings.ToLower(details.MD5),
				SHA1:     strings.ToLower(details.SHA1),
				SHA256:   strings.ToLower(details.SHA256),
				FileType: fileType,
				SSDeep:   details.SSDeep,
				Sources:  details.Sources,
			}},
		},
	}, nil
}

type msDetails struct {
	MD5     string   `json:"MD5"`
	SHA1    string   `json:"SHA1"`
	SHA256  string   `json:"SHA256"`
	FType   string   `json:"F_TYPE"`
	Type    string   `json:"TYPE"`
	SSDeep  string   `json:"SSDEEP"`
	Sources []string `json:"SOURCES"`
	// Error is a string or an object depending on the API version.
	Error json.RawMessage `json:"ERROR"`
}
