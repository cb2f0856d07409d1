// ABOUTME: Correlation ids tying HTTP, queue, and CLI requests to their log lines
// ABOUTME: Extracts or generates ids, validates inbound values, and stores them in context

package observability

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationIDHeader is the HTTP header carrying correlation ids.
const CorrelationIDHeader = "X-Correlation-ID"

// maxCorrelationIDLength bounds inbound ids.
const maxCorrelationIDLength = 128

type correlationIDKey struct{}

// CorrelationID identifies one logical request across components.
type CorrelationID string

// String returns the id.
func (c CorrelationID) String() string {
	return string(c)
}

// NewCorrelationID generates a random id.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// ParseCorrelationID accepts a caller-supplied id if it is short and printable ASCII.
func ParseCorrelationID(s string) (CorrelationID, bool) {
	if s == "" || len(s) > maxCorrelationIDLength {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return "", false
		}
	}
	return CorrelationID(s), true
}

// WithCorrelationID returns ctx carrying id.
func WithCorrelationID(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// FromContext returns the correlation id in ctx, or "".
func FromContext(ctx context.Context) CorrelationID {
	id, _ := ctx.Value(correlationIDKey{}).(CorrelationID)
	return id
}

// EnsureCorrelationID returns ctx with an id, reusing one already present or the
// candidate when valid, and generating one otherwise.
func EnsureCorrelationID(ctx context.Context, candidate string) (context.Context, CorrelationID) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id, ok := ParseCorrelationID(candidate)
	if !ok {
		id = NewCorrelationID()
	}
	return WithCorrelationID(ctx, id), id
}

// CorrelationMiddleware tags each request with a correlation id and echoes it back.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := EnsureCorrelationID(r.Context(), r.Header.Get(CorrelationIDHeader))
		w.Header().Set(CorrelationIDHeader, id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
