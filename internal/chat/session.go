// ABOUTME: Conversational wrapper over a generative backend with a fixed assistant preamble
// ABOUTME: Retries with backoff and degrades to fixed replies when the backend is overloaded or failing

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hikmaai-io/hikmaai-codescan/internal/backoff"
	"github.com/hikmaai-io/hikmaai-codescan/internal/generative"
	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
	"github.com/hikmaai-io/hikmaai-codescan/internal/types"
)

const (
	preambleInstruction = "You are a code analysis assistant. You help users understand code security issues, vulnerabilities, and potential risks. You can analyze files and explain the results in a clear, concise way."

	preambleAcknowledgement = "I understand my role as a code analysis assistant. I will help users by: 1. Analyzing code for security vulnerabilities and risks 2. Explaining analysis results in clear, understandable terms 3. Providing specific recommendations for improvements 4. Maintaining context of files and previous analyses 5. Guiding users on which analysis types would be most relevant I will format my responses to be clear and actionable, focusing on the most critical findings first."

	// BusyText is returned when the backend is overloaded.
	BusyText = "I apologize, but the AI service is currently experiencing high load. Please try again in a few moments."

	// ErrorText is returned for any other backend failure.
	ErrorText = "I encountered an error processing your request. Please try again or contact support if the issue persists."
)

// Defaults for SessionConfig.
const (
	DefaultMaxTurns  = 50
	DefaultBusyDelay = 1 * time.Second
)

// MessageContext is optional context attached to one message.
type MessageContext struct {
	Files           []string `json:"files,omitempty"`
	AnalysisResults any      `json:"analysisResults,omitempty"`
}

// Reply is the answer to one message. Degraded replies carry a fixed text
// and leave the history untouched.
type Reply struct {
	Text     string          `json:"text"`
	Context  *MessageContext `json:"context,omitempty"`
	Degraded bool            `json:"degraded"`
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// ID names the session in logs and audit events. Empty generates one.
	ID string

	Backend generative.Backend

	// Retry wraps each backend call. Zero fields use the backoff defaults.
	Retry backoff.Config

	// MaxTurns caps messages kept after the preamble. Zero uses DefaultMaxTurns.
	MaxTurns int

	// BusyDelay is waited before answering with BusyText. Zero waits nothing.
	BusyDelay time.Duration

	Metrics *observability.Metrics
	Audit   *observability.AuditLogger
	Logger  *slog.Logger
}

// Session is one conversation with the assistant. Messages on a session are
// handled one at a time.
type Session struct {
	id        string
	backend   generative.Backend
	retry     backoff.Config
	maxTurns  int
	busyDelay time.Duration
	metrics   *observability.Metrics
	audit     *observability.AuditLogger
	logger    *slog.Logger

	mu    sync.Mutex
	turns []types.Turn
}

// NewSession creates a session seeded with the assistant preamble.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Backend == nil {
		return nil, errors.New("chat session: backend is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	if cfg.Audit == nil {
		cfg.Audit = observability.NewAuditLogger(cfg.Logger)
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = cfg.Logger
	}

	return &Session{
		id:        cfg.ID,
		backend:   cfg.Backend,
		retry:     cfg.Retry,
		maxTurns:  cfg.MaxTurns,
		busyDelay: cfg.BusyDelay,
		metrics:   cfg.Metrics,
		audit:     cfg.Audit,
		logger:    cfg.Logger.With(slog.String("session_id", cfg.ID)),
		turns:     preamble(),
	}, nil
}

func preamble() []types.Turn {
	return []types.Turn{
		{Role: types.TurnUser, Text: preambleInstruction},
		{Role: types.TurnModel, Text: preambleAcknowledgement},
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// History returns a copy of the conversation, preamble included.
func (s *Session) History() []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Conversation returns a copy of the exchanged turns without the preamble.
func (s *Session) Conversation() []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	head := len(preamble())
	out := make([]types.Turn, len(s.turns)-head)
	copy(out, s.turns[head:])
	return out
}

// SendMessage sends text with optional file and result context. It never
// returns an error: backend failures become degraded replies.
func (s *Session) SendMessage(ctx context.Context, text string, mctx *MessageContext) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "chat.send", attribute.String("session.id", s.id))

	reply := Reply{Context: echoContext(mctx)}

	prompt, err := BuildPrompt(text, mctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "building chat prompt failed",
			slog.Any("error", observability.NewErrorContext(observability.CodeInternal, observability.CategoryPermanent, "chat.prompt").WithError(err)))
		reply.Text, reply.Degraded = ErrorText, true
		s.finish(ctx, span, reply, mctx, err)
		return reply
	}

	turns := make([]types.Turn, 0, len(s.turns)+1)
	turns = append(turns, s.turns...)
	turns = append(turns, types.Turn{Role: types.TurnUser, Text: prompt})
	answer, err := backoff.Execute(ctx, s.retry, func(ctx context.Context) (string, error) {
		out, err := s.backend.Generate(ctx, turns)
		if err == nil && strings.TrimSpace(out) == "" {
			return "", generative.ErrEmptyResponse
		}
		return out, err
	})

	switch {
	case err == nil:
		s.turns = append(s.turns,
			types.Turn{Role: types.TurnUser, Text: prompt},
			types.Turn{Role: types.TurnModel, Text: answer},
		)
		s.prune()
		reply.Text = answer
	case generative.IsOverloaded(err):
		s.logger.WarnContext(ctx, "chat backend overloaded", slog.Any("error", s.failureContext(observability.CodeChatOverloaded, err)))
		s.wait(ctx)
		reply.Text, reply.Degraded = BusyText, true
	default:
		code := observability.CodeChatFailed
		if ctx.Err() != nil {
			code = observability.CodeCanceled
		}
		s.logger.ErrorContext(ctx, "chat backend failed", slog.Any("error", s.failureContext(code, err)))
		reply.Text, reply.Degraded = ErrorText, true
	}

	s.finish(ctx, span, reply, mctx, err)
	return reply
}

func (s *Session) failureContext(code string, err error) *observability.ErrorContext {
	category := observability.CategoryTransient
	if code == observability.CodeCanceled {
		category = observability.CategoryUserError
	}
	return observability.NewErrorContext(code, category, "chat."+s.backend.Name()).WithError(err)
}

func (s *Session) finish(ctx context.Context, span trace.Span, reply Reply, mctx *MessageContext, err error) {
	files := 0
	if mctx != nil {
		files = len(mctx.Files)
	}
	span.SetAttributes(attribute.Bool("chat.degraded", reply.Degraded))
	observability.EndSpan(span, err)
	s.metrics.RecordChat(reply.Degraded)
	s.audit.LogChatMessage(ctx, s.id, files, reply.Degraded)
}

// prune drops the oldest exchanges beyond maxTurns, keeping the preamble.
// Callers hold s.mu.
func (s *Session) prune() {
	head := len(preamble())
	excess := len(s.turns) - head - s.maxTurns
	if excess <= 0 {
		return
	}
	if excess%2 == 1 {
		excess++
	}
	s.turns = append(s.turns[:head], s.turns[head+excess:]...)
}

func (s *Session) wait(ctx context.Context) {
	if s.busyDelay <= 0 {
		return
	}
	t := time.NewTimer(s.busyDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// BuildPrompt appends the available files and indented analysis results to text.
func BuildPrompt(text string, mctx *MessageContext) (string, error) {
	if mctx == nil {
		return text, nil
	}

	var b strings.Builder
	b.WriteString(text)
	if len(mctx.Files) > 0 {
		b.WriteString("\n\nAvailable files:\n")
		for i, f := range mctx.Files {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- ")
			b.WriteString(f)
		}
	}
	if mctx.AnalysisResults != nil {
		data, err := json.MarshalIndent(mctx.AnalysisResults, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding analysis results: %w", err)
		}
		b.WriteString("\n\nAnalysis Results:\n")
		b.Write(data)
	}
	return b.String(), nil
}

func echoContext(mctx *MessageContext) *MessageContext {
	if mctx == nil {
		return nil
	}
	return &MessageContext{Files: append([]string(nil), mctx.Files...), AnalysisResults: mctx.AnalysisResults}
}
