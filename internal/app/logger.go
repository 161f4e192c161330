package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger. Hornero logs human-readable text
// by default and switches to JSON when LOG_FORMAT=json, which is what the
// deployment manifests set.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
