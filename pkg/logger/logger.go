package logger

import (
	"log/slog"
	"os"
)

// New creates a JSON structured logger that writes to stdout. Debug level is
// opt-in via LOG_DEBUG so production logs stay at info.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_DEBUG") != "" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}
