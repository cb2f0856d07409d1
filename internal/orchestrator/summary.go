// ABOUTME: Slot error classification and the human-readable analysis summary
// ABOUTME: Typed upstream errors map to stable slot error kinds consumers can branch on

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hikmaai-io/hikmaai-codescan/internal/generative"
	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
	"github.com/hikmaai-io/hikmaai-codescan/internal/providers"
	"github.com/hikmaai-io/hikmaai-codescan/internal/resilience"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// ClassifyError turns an adapter error into a slot error marker.
func ClassifyError(err error) *types.SlotError {
	if err == nil {
		return nil
	}
	se := &types.SlotError{Kind: types.SlotErrorInternal, Message: observability.RedactSensitive(err.Error())}

	var (
		te *providers.TransportError
		be *generative.BackendError
	)
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		se.Kind = types.SlotErrorCircuitOpen
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		se.Kind = types.SlotErrorCanceled
	case errors.Is(err, providers.ErrTimedOut):
		se.Kind = types.SlotErrorTimedOut
	case errors.Is(err, providers.ErrAnalysisFailed):
		se.Kind = types.SlotErrorUpstreamFailed
	case generative.IsDecodeError(err):
		se.Kind = types.SlotErrorDecode
	case errors.As(err, &te):
		se.Kind = types.SlotErrorTransport
		se.StatusCode = te.StatusCode
	case errors.As(err, &be):
		se.Kind = types.SlotErrorTransport
	}
	return se
}

// SlotErrorContext describes a failed slot for operator logs.
func SlotErrorContext(provider types.ProviderRole, se *types.SlotError) *observability.ErrorContext {
	code, category := observability.CodeInternal, observability.CategoryPermanent
	switch se.Kind {
	case types.SlotErrorTransport:
		code, category = observability.CodeProviderTransport, observability.CategoryTransient
	case types.SlotErrorTimedOut:
		code, category = observability.CodeProviderTimeout, observability.CategoryTransient
	case types.SlotErrorUpstreamFailed:
		code = observability.CodeProviderRejected
	case types.SlotErrorDecode:
		code = observability.CodeGenerativeDecode
	case types.SlotErrorCircuitOpen:
		code, category = observability.CodeCircuitOpen, observability.CategoryTransient
	case types.SlotErrorCanceled:
		code, category = observability.CodeCanceled, observability.CategoryUserError
	}

	ec := observability.NewErrorContext(code, category, "provider."+string(provider)).
		WithDetail("kind", string(se.Kind)).
		WithError(errors.New(se.Message))
	if se.StatusCode != 0 {
		ec.WithDetail("status", se.StatusCode)
	}
	return ec
}

// BuildSummary derives the summary from the generative result, including only
// the parts the options asked for. Parts are separated by a blank line.
func BuildSummary(opts types.AnalysisOptions, r *types.GenerativeAnalysisResult) string {
	if r == nil {
		return ""
	}

	var parts []string
	if opts.Security && len(r.Vulnerabilities) > 0 {
		parts = append(parts, fmt.Sprintf("Security vulnerabilities found: %d", len(r.Vulnerabilities)))
	}
	if opts.PromptInjection && len(r.PromptInjectionRisks) > 0 {
		parts = append(parts, fmt.Sprintf("Prompt injection risks found: %d", len(r.PromptInjectionRisks)))
	}
	if s := strings.TrimSpace(r.Summary); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}
