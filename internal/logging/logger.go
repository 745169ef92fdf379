package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger. Production gets JSON output for
// log aggregation, everything else the text handler. LOG_LEVEL overrides
// the default level (debug, info, warn, error).
func Init() {
	level := slog.LevelDebug
	if strings.ToLower(os.Getenv("ENVIRONMENT")) == "production" {
		level = slog.LevelInfo
	}
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("ENVIRONMENT")) == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// WithJob returns a logger with background-job context fields attached.
// Use this for all logging within a scheduled job run.
func WithJob(jobName, runID string) *slog.Logger {
	return slog.With(
		"job", jobName,
		"run_id", runID,
	)
}
