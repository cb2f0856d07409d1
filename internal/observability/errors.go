// ABOUTME: Structured error context for operator-facing logs
// ABOUTME: Error codes and transient/permanent categories with slog integration

package observability

import (
	"fmt"
	"log/slog"
)

// Error categories.
const (
	CategoryTransient = "transient"  // Worth retrying later (network, overload, timeout).
	CategoryPermanent = "permanent"  // Will fail again on the same input.
	CategoryUserError = "user_error" // Caused by the request itself.
)

// Error codes surfaced in logs.
const (
	CodeProviderTransport = "PROVIDER_TRANSPORT"
	CodeProviderTimeout   = "PROVIDER_TIMEOUT"
	CodeProviderRejected  = "PROVIDER_REJECTED"
	CodeGenerativeDecode  = "GENERATIVE_DECODE"
	CodeCircuitOpen       = "CIRCUIT_OPEN"
	CodeCanceled          = "CANCELED"
	CodeConfiguration     = "CONFIGURATION"
	CodeChatOverloaded    = "CHAT_OVERLOADED"
	CodeChatFailed        = "CHAT_FAILED"
	CodeInternal          = "INTERNAL"
)

// ErrorContext attaches a code, category, and operation to an error.
type ErrorContext struct {
	// Code is a stable identifier such as PROVIDER_TIMEOUT.
	Code string `json:"code"`

	// Category is transient, permanent, or user_error.
	Category string `json:"category"`

	// Operation names what failed, e.g. "provider.virustotal".
	Operation string `json:"operation"`

	// Details holds extra structured context.
	Details map[string]any `json:"details,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// NewErrorContext creates an error context.
func NewErrorContext(code, category, operation string) *ErrorContext {
	return &ErrorContext{
		Code:      code,
		Category:  category,
		Operation: operation,
	}
}

// WithDetail adds one key to Details.
func (e *ErrorContext) WithDetail(key string, value any) *ErrorContext {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithError attaches the underlying error.
func (e *ErrorContext) WithError(err error) *ErrorContext {
	e.Err = err
	return e
}

// IsRetryable returns true for transient errors.
func (e *ErrorContext) IsRetryable() bool {
	return e.Category == CategoryTransient
}

// Error implements the error interface.
func (e *ErrorContext) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Operation, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Operation)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ErrorContext) Unwrap() error {
	return e.Err
}

// LogValue implements slog.LogValuer. Error text is redacted.
func (e *ErrorContext) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", e.Code),
		slog.String("category", e.Category),
		slog.String("operation", e.Operation),
		slog.Bool("retryable", e.IsRetryable()),
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", RedactSensitive(e.Err.Error())))
	}
	return slog.GroupValue(attrs...)
}
