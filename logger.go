package spann

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with spann-specific context, grounded on the
// teacher's own Logger wrapper (vecgo's logger.go).
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler falls
// back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(1000)}))}
}

// LogAppend logs an append-worker outcome (spec section 4.3).
func (l *Logger) LogAppend(ctx context.Context, hid uint32, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "append failed", "hid", hid, "count", count, "error", err)
		return
	}
	l.DebugContext(ctx, "append completed", "hid", hid, "count", count)
}

// LogSplit logs a split-engine outcome (spec section 4.4).
func (l *Logger) LogSplit(ctx context.Context, hid uint32, ok bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "split failed", "hid", hid, "error", err)
		return
	}
	if !ok {
		l.DebugContext(ctx, "split aborted (failsplit)", "hid", hid)
		return
	}
	l.InfoContext(ctx, "split completed", "hid", hid)
}

// LogReassign logs a reassign-worker outcome (spec section 4.5).
func (l *Logger) LogReassign(ctx context.Context, vid uint32, heads int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "reassign failed", "vid", vid, "error", err)
		return
	}
	l.DebugContext(ctx, "reassign completed", "vid", vid, "heads", heads)
}

// LogDispatch logs one dispatcher drain batch (spec section 4.2).
func (l *Logger) LogDispatch(ctx context.Context, batchSize int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "dispatch batch failed", "batch_size", batchSize, "error", err)
		return
	}
	l.DebugContext(ctx, "dispatch batch drained", "batch_size", batchSize)
}

// LogBackendIO logs a transient backend IO failure (spec section 7).
func (l *Logger) LogBackendIO(ctx context.Context, op string, hid uint32, err error) {
	l.WarnContext(ctx, "backend io error", "op", op, "hid", hid, "error", err)
}

// LogSearch logs a read-path query (spec section 4.6).
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "error", err)
		return
	}
	l.DebugContext(ctx, "search completed", "k", k, "results", resultsFound)
}

// LogCheckpoint logs a checkpoint/snapshot pass.
func (l *Logger) LogCheckpoint(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed", "error", err)
		return
	}
	l.InfoContext(ctx, "checkpoint completed")
}
