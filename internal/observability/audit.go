// ABOUTME: Audit trail for analysis requests, chat turns, and provider failures
// ABOUTME: Emits one structured audit_event record per event with correlation id

package observability

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types.
const (
	EventTypeAnalysis = "ANALYSIS"
	EventTypeChat     = "CHAT"
	EventTypeProvider = "PROVIDER"
)

// Audit actions.
const (
	ActionRequest  = "REQUEST"
	ActionMessage  = "MESSAGE"
	ActionFailure  = "FAILURE"
	ActionComplete = "COMPLETE"
)

// Audit results.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultDegraded = "degraded"
)

// AuditLogger records audit events on a dedicated logger.
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates an audit logger. Nil uses slog.Default().
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger, now: time.Now}
}

func (a *AuditLogger) emit(ctx context.Context, level slog.Level, eventType, action, result string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("action", action),
		slog.String("result", result),
		slog.String("correlation_id", FromContext(ctx).String()),
		slog.Time("timestamp", a.now().UTC()),
	}
	a.logger.LogAttrs(ctx, level, "audit_event", append(base, attrs...)...)
}

// LogAnalysisRequested records an incoming single-file or batch analysis.
func (a *AuditLogger) LogAnalysisRequested(ctx context.Context, batchID string, files int, options string) {
	a.emit(ctx, slog.LevelInfo, EventTypeAnalysis, ActionRequest, ResultSuccess,
		slog.String("batch_id", batchID),
		slog.Int("files", files),
		slog.String("options", options),
	)
}

// LogAnalysisCompleted records a finished analysis and how many slots failed.
func (a *AuditLogger) LogAnalysisCompleted(ctx context.Context, fileName, fingerprint string, failedSlots int) {
	result := ResultSuccess
	if failedSlots > 0 {
		result = ResultDegraded
	}
	a.emit(ctx, slog.LevelInfo, EventTypeAnalysis, ActionComplete, result,
		slog.String("file_name", fileName),
		slog.String("fingerprint", fingerprint),
		slog.Int("failed_slots", failedSlots),
	)
}

// LogChatMessage records a chat turn. Message text is never logged.
func (a *AuditLogger) LogChatMessage(ctx context.Context, sessionID string, files int, degraded bool) {
	result := ResultSuccess
	if degraded {
		result = ResultDegraded
	}
	a.emit(ctx, slog.LevelInfo, EventTypeChat, ActionMessage, result,
		slog.String("session_id", sessionID),
		slog.Int("files", files),
	)
}

// LogProviderFailure records a provider slot that failed.
func (a *AuditLogger) LogProviderFailure(ctx context.Context, provider, fingerprint string, ec *ErrorContext) {
	a.emit(ctx, slog.LevelWarn, EventTypeProvider, ActionFailure, ResultFailure,
		slog.String("provider", provider),
		slog.String("fingerprint", fingerprint),
		slog.Any("error", ec),
	)
}
