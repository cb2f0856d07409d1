// ABOUTME: Shared HTTP plumbing for provider adapters
// ABOUTME: Bounded body reads, multipart uploads, and redacted transport errors

package providers

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

const (
	// DefaultRequestTimeout bounds each individual upstream request.
	DefaultRequestTimeout = 60 * time.Second

	maxResponseBytes = 8 << 20
	errorBodySnippet = 256
)

// upstream performs requests against one provider.
type upstream struct {
	role    types.ProviderRole
	http    *http.Client
	secrets []string
	logger  *slog.Logger
}

func newUpstream(role types.ProviderRole, client *http.Client, logger *slog.Logger, secrets ...string) upstream {
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return upstream{
		role:    role,
		http:    client,
		secrets: secrets,
		logger:  logger.With(slog.String("provider", string(role))),
	}
}

func (u upstream) transportError(op string, status int, err error) *TransportError {
	return &TransportError{
		Provider:   u.role,
		Op:         op,
		StatusCode: status,
		Err:        err,
		secrets:    u.secrets,
	}
}

// do sends req and returns the status and the bounded body.
// Only network and read failures are errors here; callers judge status codes.
func (u upstream) do(req *http.Request, op string) (int, []byte, error) {
	start := time.Now()
	resp, err := u.http.Do(req)
	if err != nil {
		return 0, nil, u.transportError(op, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, u.transportError(op, resp.StatusCode, fmt.Errorf("reading body: %w", err))
	}

	attrs := []slog.Attr{
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	}
	if resp.StatusCode >= http.StatusBadRequest {
		attrs = append(attrs, slog.Any("request_headers", observability.RedactHeaders(req.Header)))
	}
	u.logger.LogAttrs(req.Context(), slog.LevelDebug, "provider request", attrs...)
	return resp.StatusCode, body, nil
}

// unexpectedStatus builds the error for a status the protocol does not expect.
func (u upstream) unexpectedStatus(op string, status int, body []byte) *TransportError {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > errorBodySnippet {
		snippet = snippet[:errorBodySnippet] + "..."
	}
	if snippet == "" {
		snippet = http.StatusText(status)
	}
	return u.transportError(op, status, fmt.Errorf("unexpected response: %s", snippet))
}

// multipartFile encodes content as a single file part plus extra form fields.
func multipartFile(fileName string, content []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", k, err)
		}
	}

	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("writing file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
