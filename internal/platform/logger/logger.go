package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. JSON output keeps the
// payment and audit fields machine-indexable.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
