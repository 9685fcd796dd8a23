package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance configured for the application.
var Logger *slog.Logger

// Output formats accepted by InitLogger.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// InitLogger configures the global logger writing to stderr. JSON output
// carries Datadog reserved attributes; text output is meant for terminals.
func InitLogger(level, service, format string) *slog.Logger {
	return InitLoggerTo(os.Stderr, level, service, format)
}

// InitLoggerTo is InitLogger with an explicit destination.
func InitLoggerTo(w io.Writer, level, service, format string) *slog.Logger {
	options := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case FormatText:
		handler = slog.NewTextHandler(w, options).WithAttrs([]slog.Attr{slog.String("service", service)})
	default:
		handler = &datadogHandler{
			next:    slog.NewJSONHandler(w, options),
			service: service,
		}
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
	return Logger
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	return Logger
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

type datadogHandler struct {
	next    slog.Handler
	service string
}

func (h *datadogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *datadogHandler) Handle(ctx context.Context, record slog.Record) error {
	clone := record.Clone()
	clone.AddAttrs(
		slog.String("service", h.service),
		slog.String("status", levelToStatus(clone.Level)),
		slog.String("message", clone.Message),
	)
	return h.next.Handle(ctx, clone)
}

func (h *datadogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &datadogHandler{
		next:    h.next.WithAttrs(attrs),
		service: h.service,
	}
}

func (h *datadogHandler) WithGroup(name string) slog.Handler {
	return &datadogHandler{
		next:    h.next.WithGroup(name),
		service: h.service,
	}
}

func levelToStatus(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warning"
	case level < slog.LevelInfo:
		return "debug"
	default:
		return "info"
	}
}
