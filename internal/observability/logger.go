package observability

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldRequestID is the field name for request ID.
	LogFieldRequestID = "request_id"
	// LogFieldSessionID is the field name for the dataset session.
	LogFieldSessionID = "session_id"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldQuestionLen is the field name for question length.
	LogFieldQuestionLen = "question_length"
	// LogFieldAction is the field name for the interpreted agent action.
	LogFieldAction = "action"
	// LogFieldOutcome is the field name for the sandbox outcome kind.
	LogFieldOutcome = "outcome"
	// LogFieldStatus is the field name for agent status.
	LogFieldStatus = "status"
)

// TurnContext carries structured logging state for a single analyst turn.
type TurnContext struct {
	RequestID string
	SessionID string
	StartTime time.Time
	Logger    *slog.Logger
}

// NewTurnContext creates a turn context with a generated request ID.
func NewTurnContext(logger *slog.Logger, sessionID string) *TurnContext {
	return NewTurnContextWithID(logger, uuid.New().String(), sessionID)
}

// NewTurnContextWithID creates a turn context with a specific request ID.
func NewTurnContextWithID(logger *slog.Logger, requestID, sessionID string) *TurnContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnContext{
		RequestID: requestID,
		SessionID: sessionID,
		StartTime: time.Now(),
		Logger:    logger,
	}
}

// WithFields returns a new logger with additional fields.
func (t *TurnContext) WithFields(attrs ...slog.Attr) *slog.Logger {
	combined := t.baseAttrsAppended(attrs...)
	args := make([]any, 0, len(combined))
	for _, attr := range combined {
		args = append(args, attr)
	}
	return t.Logger.With(args...)
}

// Info logs an info message.
func (t *TurnContext) Info(msg string, attrs ...slog.Attr) {
	t.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, t.baseAttrsAppended(attrs...)...)
}

// Debug logs a debug message.
func (t *TurnContext) Debug(msg string, attrs ...slog.Attr) {
	t.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, t.baseAttrsAppended(attrs...)...)
}

// Warn logs a warning message.
func (t *TurnContext) Warn(msg string, attrs ...slog.Attr) {
	t.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, t.baseAttrsAppended(attrs...)...)
}

// Error logs an error message with the error.
func (t *TurnContext) Error(msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	t.Logger.LogAttrs(context.Background(), slog.LevelError, msg, t.baseAttrsAppended(attrs...)...)
}

// Done logs the end of the turn together with its duration.
func (t *TurnContext) Done(msg string, attrs ...slog.Attr) {
	attrs = append(attrs, slog.Int64(LogFieldDuration, t.DurationMs()))
	t.Info(msg, attrs...)
}

// Duration returns the elapsed time since the turn started.
func (t *TurnContext) Duration() time.Duration {
	return time.Since(t.StartTime)
}

// DurationMs returns the elapsed time in milliseconds.
func (t *TurnContext) DurationMs() int64 {
	return t.Duration().Milliseconds()
}

func (t *TurnContext) baseAttrsAppended(attrs ...slog.Attr) []slog.Attr {
	base := []slog.Attr{
		slog.String(LogFieldRequestID, t.RequestID),
		slog.String(LogFieldSessionID, t.SessionID),
	}
	return append(base, attrs...)
}

type ctxKey struct{}

// WithTurnContext adds the turn context to the context.
func WithTurnContext(ctx context.Context, turnCtx *TurnContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, turnCtx)
}

// FromContext extracts the turn context from the context.
func FromContext(ctx context.Context) (*TurnContext, bool) {
	turnCtx, ok := ctx.Value(ctxKey{}).(*TurnContext)
	return turnCtx, ok
}

// NewLogger builds the process logger from CLI flags.
// Unknown levels fall back to info and unknown formats to text.
func NewLogger(level, format string, out io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
