// Package observability holds the core's logging, tracing, and metrics
// facilities. Unlike the teacher, none of it is package-global (spec.md
// §9 "no process-global mutable state"): every facility is owned by a
// Handle instance that pkg/core constructs once and threads through.
package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel mirrors the teacher's four-level scheme.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Logger is a small context-aware logger. Debug logging is gated by an
// env var read once at construction, matching the teacher's
// DEBUG/BETRACE_DEBUG convention (renamed to the new env prefix).
type Logger struct {
	level *log.Logger
	min   LogLevel
}

// NewLogger builds a Logger writing to stderr. Debug logging is enabled
// when ZEROUI_DEBUG is set in the environment.
func NewLogger() *Logger {
	min := LogLevelInfo
	if os.Getenv("ZEROUI_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		min = LogLevelDebug
	}
	return &Logger{level: log.New(os.Stderr, "", 0), min: min}
}

func (l *Logger) Debug(ctx context.Context, format string, args ...any) { l.log(ctx, LogLevelDebug, format, args...) }
func (l *Logger) Info(ctx context.Context, format string, args ...any)  { l.log(ctx, LogLevelInfo, format, args...) }
func (l *Logger) Warn(ctx context.Context, format string, args ...any)  { l.log(ctx, LogLevelWarn, format, args...) }
func (l *Logger) Error(ctx context.Context, format string, args ...any) { l.log(ctx, LogLevelError, format, args...) }

func (l *Logger) log(ctx context.Context, level LogLevel, format string, args ...any) {
	if level < l.min {
		return
	}
	ts := time.Now().Format("2006/01/02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	name := levelName(level)

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		traceID := span.SpanContext().TraceID().String()
		l.level.Printf("%s [%s] [trace=%s] %s", ts, name, traceID[:8], msg)
		return
	}
	l.level.Printf("%s [%s] %s", ts, name, msg)
}

func levelName(l LogLevel) string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsDebugEnabled reports whether debug-level logging is active.
func (l *Logger) IsDebugEnabled() bool { return l.min <= LogLevelDebug }
