// Package observability wires structured logging and OpenTelemetry export
// for the tracing subsystem itself: the subsystem records LLM traces, and
// this package is how its own health is observed.
package observability

import (
	"io"
	"log/slog"
	"strings"

	"github.com/draftforge/tracebook/internal/config"
)

// NewLogger builds the process logger from configuration. Records are
// enriched with otel trace/span ids when a span is active, so log lines
// and exported spans correlate.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.ToLower(strings.TrimSpace(cfg.Format)) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewSpanContextHandler(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
