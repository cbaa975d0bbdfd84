// Package eventlog reports server transitions as structured log records
// carrying a stable numeric event identifier.
package eventlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type EventID uint32

const (
	ServerStarted EventID = iota + 1
	ServerStopped
	ServerFailed
	ConnectionFailed
	ConnectionAccepted
	PayloadPublished
	PayloadDiscarded
)

var eventName = map[EventID]string{
	ServerStarted:      "server started",
	ServerStopped:      "server stopped",
	ServerFailed:       "server failed",
	ConnectionFailed:   "connection failed",
	ConnectionAccepted: "connection accepted",
	PayloadPublished:   "payload published",
	PayloadDiscarded:   "payload discarded",
}

func (id EventID) String() string {
	if name, ok := eventName[id]; ok {
		return name
	}
	return fmt.Sprintf("event %d", uint32(id))
}

// Logger writes one record per reported event.
type Logger struct {
	logger *slog.Logger
}

// New wraps l. A nil l uses slog.Default at report time.
func New(l *slog.Logger) *Logger {
	return &Logger{logger: l}
}

func (l *Logger) ReportDebug(ctx context.Context, id EventID, args ...any) {
	l.report(ctx, slog.LevelDebug, id, args)
}

func (l *Logger) ReportInfo(ctx context.Context, id EventID, args ...any) {
	l.report(ctx, slog.LevelInfo, id, args)
}

func (l *Logger) ReportWarn(ctx context.Context, id EventID, args ...any) {
	l.report(ctx, slog.LevelWarn, id, args)
}

func (l *Logger) ReportError(ctx context.Context, id EventID, args ...any) {
	l.report(ctx, slog.LevelError, id, args)
}

func (l *Logger) report(ctx context.Context, level slog.Level, id EventID, args []any) {
	logger := slog.Default()
	if l != nil && l.logger != nil {
		logger = l.logger
	}
	logger.Log(ctx, level, id.String(), append([]any{"event_id", uint32(id)}, args...)...)
}

type Options struct {
	Debug  bool
	Format string // text or json
	Writer io.Writer
}

// Setup builds the process logger and installs it as the slog default.
func Setup(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: opts.Debug,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
