// Package logger builds the process-wide slog logger and provides the
// attribute helpers used across the CosmicDS services.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config configures the logger.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Format is json or text. Unknown values mean text.
	Format Format

	// Output defaults to os.Stdout.
	Output io.Writer

	// AddSource records the caller position.
	AddSource bool
}

// ParseLevel parses a level name.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger from cfg.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that writes nothing. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// RequestIDKey is the attribute key of request ids.
const RequestIDKey = "request_id"

func RequestID(id string) slog.Attr     { return slog.String(RequestIDKey, id) }
func StudentID(id int) slog.Attr        { return slog.Int("student_id", id) }
func ClassID(id int) slog.Attr          { return slog.Int("class_id", id) }
func Story(id string) slog.Attr         { return slog.String("story", id) }
func Stage(id string) slog.Attr         { return slog.String("stage_id", id) }
func PatchID(id string) slog.Attr       { return slog.String("patch_id", id) }
func Component(name string) slog.Attr   { return slog.String("component", name) }
func Operation(name string) slog.Attr   { return slog.String("operation", name) }
func Latency(d time.Duration) slog.Attr { return slog.Duration("latency", d) }

// Err returns an error attribute; a nil error logs as an empty string.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
