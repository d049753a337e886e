package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. Level defaults to
// info; set XPARKING_LOG_LEVEL=debug to see per-poll reconciliation
// chatter.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("XPARKING_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
