// ABOUTME: Common adapter contract for malware-scan providers and their typed errors
// ABOUTME: Explicit per-invocation state, outcome carrying a report or a classified error

package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// State is where one adapter invocation ended up.
type State int

const (
	// StateNotStarted means no upstream call was made.
	StateNotStarted State = iota
	// StateSubmitted means content was uploaded and a submission id obtained.
	StateSubmitted
	// StatePolling means the adapter is waiting for the upstream to finish.
	StatePolling
	// StateComplete means a normalized report is available.
	StateComplete
	// StateTimedOut means the polling budget ran out.
	StateTimedOut
	// StateFailed means a transport or upstream failure stopped the invocation.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateSubmitted:
		return "submitted"
	case StatePolling:
		return "polling"
	case StateComplete:
		return "complete"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrTimedOut is returned when polling exhausts its attempt budget.
var ErrTimedOut = errors.New("analysis did not complete within the polling budget")

// ErrAnalysisFailed is returned when the upstream reports its own analysis failed.
var ErrAnalysisFailed = errors.New("upstream analysis failed")

// TransportError is a network or HTTP failure talking to a provider.
// Error text is redacted so it is safe to log and return to clients.
type TransportError struct {
	Provider   types.ProviderRole
	Op         string
	StatusCode int
	Err        error

	secrets []string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	var msg string
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	} else {
		msg = fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return observability.RedactValues(msg, e.secrets...)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying could help: network errors, 429, and 5xx.
func (e *TransportError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Outcome is the result of one adapter invocation.
// Report is set exactly when State is StateComplete.
type Outcome struct {
	State        State
	Report       *types.ProviderReport
	Err          error
	SubmissionID string
	PollAttempts int
}

// Result unpacks the outcome into the report/error pair callers usually want.
func (o Outcome) Result() (*types.ProviderReport, error) {
	if o.State == StateComplete && o.Report != nil {
		return o.Report, nil
	}
	if o.Err != nil {
		return nil, o.Err
	}
	return nil, fmt.Errorf("adapter stopped in state %s without a report", o.State)
}

func complete(report types.ProviderReport) Outcome {
	return Outcome{State: StateComplete, Report: &report}
}

func failed(err error) Outcome {
	if errors.Is(err, ErrTimedOut) {
		return Outcome{State: StateTimedOut, Err: err}
	}
	return Outcome{State: StateFailed, Err: err}
}

// Adapter is one malware-scan provider behind a uniform interface.
// Adapters never retry; callers layer retries and breakers on top.
type Adapter interface {
	Role() types.ProviderRole
	Analyze(ctx context.Context, content []byte) Outcome
}
