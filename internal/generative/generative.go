// ABOUTME: Generative backend contract plus the overload and decode error kinds
// ABOUTME: Backends take role-tagged turns and return the model's free text

package generative

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// Backend sends a conversation to a generative model and returns its reply.
// The last turn is the message being answered.
type Backend interface {
	Name() string
	Generate(ctx context.Context, turns []types.Turn) (string, error)
}

// ErrOverloaded marks an upstream that is refusing work due to load.
var ErrOverloaded = errors.New("generative backend overloaded")

// ErrEmptyResponse is returned when the backend answers with no text.
var ErrEmptyResponse = errors.New("generative backend returned no text")

// IsOverloaded reports whether err is an overload signal, either classified
// by a backend or carrying the upstream's 503/overloaded wording.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOverloaded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "503") || strings.Contains(msg, "overloaded")
}

// overloaded wraps err so errors.Is(err, ErrOverloaded) holds.
func overloaded(backend string, err error) error {
	return fmt.Errorf("%s: %w: %w", backend, ErrOverloaded, err)
}

// BackendError is a failure calling the generative backend itself.
type BackendError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("generative backend %s: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// DecodeError means a response had no usable structured payload.
// It is never retried: the same prompt is unlikely to fix itself.
type DecodeError struct {
	Reason string
	// Snippet is the start of the offending response text.
	Snippet string
	Err     error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding generative response: %s: %v", e.Reason, e.Err)
	}
	return "decoding generative response: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

const snippetLen = 120

func snippet(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= snippetLen {
		return s
	}
	return string(r[:snippetLen]) + "..."
}
