// Package logger builds the structured slog logger used across the reminder
// service and provides attribute helpers for the delivery domain.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format is the output encoding of log records.
type Format string

const (
	// FormatJSON emits one JSON object per record (production).
	FormatJSON Format = "json"
	// FormatText emits logfmt-style records (development).
	FormatText Format = "text"
)

// ParseLevel parses a string into a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     slog.Level
	Format    Format
	AddSource bool
	Service   string
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Output: os.Stdout,
		Level:  slog.LevelInfo,
		Format: FormatJSON,
	}
}

// New creates a new *slog.Logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatText {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With(slog.String("service", opts.Service))
	}
	return log
}

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// Context key for logger.
type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Delivery-related logging helpers.
func Obligation(name string) slog.Attr   { return slog.String("obligation", name) }
func RunID(id string) slog.Attr          { return slog.String("run_id", id) }
func RunKind(kind string) slog.Attr      { return slog.String("run_kind", kind) }
func Signal(name string) slog.Attr       { return slog.String("signal", name) }
func Reason(reason string) slog.Attr     { return slog.String("reason", reason) }
func Component(name string) slog.Attr    { return slog.String("component", name) }
func Latency(d time.Duration) slog.Attr  { return slog.String("latency", d.String()) }
func Err(err error) slog.Attr            { return slog.Any("error", err) }
