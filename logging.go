package normcache

import (
	"context"
	"log/slog"
	"time"
)

// LogLevel grades a LogEvent.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// LogEvent describes a diagnostic emitted by the cache.
type LogEvent struct {
	Level    LogLevel
	Op       string
	Message  string
	EntityID string
	LayerID  string
	WatchID  string
	Duration time.Duration
	Err      error
}

// Logger receives cache diagnostics. It is supplied at construction; the
// cache keeps no global sink.
type Logger interface {
	LogEvent(LogEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(LogEvent)

// LogEvent implements Logger.
func (f LoggerFunc) LogEvent(event LogEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) LogEvent(LogEvent) {}

// NewSlogLogger forwards events to a slog.Logger.
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return noopLogger{}
	}
	return slogLogger{logger: logger}
}

type slogLogger struct {
	logger *slog.Logger
}

func (l slogLogger) LogEvent(event LogEvent) {
	attrs := []slog.Attr{slog.String("op", event.Op)}
	if event.EntityID != "" {
		attrs = append(attrs, slog.String("entity_id", event.EntityID))
	}
	if event.LayerID != "" {
		attrs = append(attrs, slog.String("layer_id", event.LayerID))
	}
	if event.WatchID != "" {
		attrs = append(attrs, slog.String("watch_id", event.WatchID))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}
	if event.Err != nil {
		attrs = append(attrs, slog.Any("error", event.Err))
	}
	msg := event.Message
	if msg == "" {
		msg = event.Op
	}
	l.logger.LogAttrs(context.Background(), slogLevel(event.Level), msg, attrs...)
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
