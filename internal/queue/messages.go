// ABOUTME: Message types for NATS request/reply communication
// ABOUTME: Defines AnalyzeRequest and AnalyzeResponse structures

package queue

import (
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

// AnalyzeRequest is the message sent to request analysis of a set of files.
type AnalyzeRequest struct {
	// Optional request ID for correlation.
	RequestID string `json:"request_id,omitempty"`

	// Files to analyze, in the order results should come back.
	Files []types.FileInput `json:"files"`

	// Analyses to run.
	Options types.AnalysisOptions `json:"options"`

	// Prior conversation lines, oldest first.
	History []string `json:"history,omitempty"`
}

// Response statuses.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// AnalyzeResponse is the reply to an AnalyzeRequest.
type AnalyzeResponse struct {
	// Request ID for correlation.
	RequestID string `json:"request_id,omitempty"`

	// Status is "completed" or "error".
	Status string `json:"status"`

	// Batch holds one result per file when completed.
	Batch *types.BatchResult `json:"batch,omitempty"`

	// Error message if status is "error".
	Error string `json:"error,omitempty"`

	// Timestamp of the reply.
	CompletedAt time.Time `json:"completed_at"`
}
