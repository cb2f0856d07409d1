// ABOUTME: Aggregated per-file results with per-provider slots and error markers
// ABOUTME: A failed provider degrades its own slot without discarding sibling results

package types

import (
	"sort"
	"time"
)

// SlotStatus is the outcome of one provider invocation within an aggregated result.
type SlotStatus string

const (
	// SlotOK means the provider produced a report.
	SlotOK SlotStatus = "ok"
	// SlotFailed means the provider failed; the slot carries an error marker.
	SlotFailed SlotStatus = "failed"
)

// SlotErrorKind classifies a slot failure so consumers can branch on it.
type SlotErrorKind string

const (
	// SlotErrorTransport is a network or HTTP failure talking to an upstream.
	SlotErrorTransport SlotErrorKind = "transport"
	// SlotErrorTimedOut is an exhausted polling budget.
	SlotErrorTimedOut SlotErrorKind = "timed_out"
	// SlotErrorUpstreamFailed means the upstream reported its own analysis failed.
	SlotErrorUpstreamFailed SlotErrorKind = "upstream_failed"
	// SlotErrorDecode is a generative response without a usable payload.
	SlotErrorDecode SlotErrorKind = "decode"
	// SlotErrorCircuitOpen means the provider was skipped by its circuit breaker.
	SlotErrorCircuitOpen SlotErrorKind = "circuit_open"
	// SlotErrorCanceled means the request context ended first.
	SlotErrorCanceled SlotErrorKind = "canceled"
	// SlotErrorInternal covers anything else, including recovered panics.
	SlotErrorInternal SlotErrorKind = "internal"
)

// SlotError is the error marker stored in a failed slot.
type SlotError struct {
	Kind       SlotErrorKind `json:"kind"`
	Message    string        `json:"message"`
	StatusCode int           `json:"status_code,omitempty"`
}

// Error implements the error interface.
func (e *SlotError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// ProviderSlot holds one malware-scan provider's outcome.
type ProviderSlot struct {
	Status   SlotStatus      `json:"status"`
	Report   *ProviderReport `json:"report,omitempty"`
	Error    *SlotError      `json:"error,omitempty"`
	Duration time.Duration   `json:"duration_ns"`
}

// GenerativeSlot holds the generative backend's outcome.
type GenerativeSlot struct {
	Status   SlotStatus                `json:"status"`
	Result   *GenerativeAnalysisResult `json:"result,omitempty"`
	Error    *SlotError                `json:"error,omitempty"`
	Duration time.Duration             `json:"duration_ns"`
}

// AggregatedResult merges every selected provider's outcome for one file.
// Providers only contains roles that were selected by the options.
type AggregatedResult struct {
	FileName    string                        `json:"file_name"`
	Fingerprint string                        `json:"fingerprint"`
	Options     AnalysisOptions               `json:"options"`
	Providers   map[ProviderRole]ProviderSlot `json:"providers"`
	Generative  *GenerativeSlot               `json:"generative,omitempty"`
	Summary     string                        `json:"summary,omitempty"`
	StartedAt   time.Time                     `json:"started_at"`
	CompletedAt time.Time                     `json:"completed_at"`
}

// FailedProviders returns the roles whose slots failed, sorted by name.
func (r AggregatedResult) FailedProviders() []ProviderRole {
	var failed []ProviderRole
	for role, slot := range r.Providers {
		if slot.Status == SlotFailed {
			failed = append(failed, role)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	return failed
}

// HasErrors reports whether any selected slot failed.
func (r AggregatedResult) HasErrors() bool {
	if len(r.FailedProviders()) > 0 {
		return true
	}
	return r.Generative != nil && r.Generative.Status == SlotFailed
}

// Detected reports whether any provider report carries a malicious verdict.
func (r AggregatedResult) Detected() bool {
	for _, slot := range r.Providers {
		if slot.Report != nil && slot.Report.Verdict() == VerdictMalicious {
			return true
		}
	}
	return false
}

// BatchResult holds one aggregated result per input file in input order.
type BatchResult struct {
	ID        string             `json:"id"`
	Results   []AggregatedResult `json:"results"`
	CreatedAt time.Time          `json:"created_at"`
	Duration  time.Duration      `json:"duration_ns"`
}
