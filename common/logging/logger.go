package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/telhawk-systems/telhawk-beacon/common/middleware"
)

// Logger wraps slog.Logger to provide context-aware structured logging.
// It automatically extracts request IDs set by the host server middleware.
type Logger struct {
	*slog.Logger
}

// Option configures a Logger built by New.
type Option func(*settings)

type settings struct {
	w      io.Writer
	redact func(string) string
	keys   map[string]struct{}
}

// WithWriter sends output to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(s *settings) { s.w = w }
}

// WithRedactor rewrites the string value of every attribute named in keys
// before it is written. Attributes nested in groups are matched by their
// own key.
func WithRedactor(fn func(string) string, keys ...string) Option {
	return func(s *settings) {
		s.redact = fn
		s.keys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			s.keys[k] = struct{}{}
		}
	}
}

// New creates a Logger with the specified level and format.
// format can be "json" or "text" (default is json).
func New(level slog.Level, format string, opts ...Option) *Logger {
	s := settings{w: os.Stdout}
	for _, opt := range opts {
		opt(&s)
	}

	handlerOpts := &slog.HandlerOptions{
		Level: level,
		// Add source location for errors and above
		AddSource: level <= slog.LevelError,
	}
	if s.redact != nil && len(s.keys) > 0 {
		handlerOpts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if _, ok := s.keys[a.Key]; ok && a.Value.Kind() == slog.KindString {
				return slog.String(a.Key, s.redact(a.Value.String()))
			}
			return a
		}
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(s.w, handlerOpts)
	default:
		handler = slog.NewJSONHandler(s.w, handlerOpts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Default returns the default logger (uses slog.Default).
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithContext returns a logger carrying the request id found in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		return l.Logger.With(slog.String(FieldRequestID, reqID))
	}
	return l.Logger
}

// With returns a new logger with the given attributes added.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ParseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
// Anything else yields slog.LevelInfo.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs l as slog's default logger.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}
