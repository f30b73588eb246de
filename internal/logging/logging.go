// Package logging builds the process-wide slog.Logger.
//
// Output always goes to stdout. When a log file is configured, the same
// records are also written to a size-rotated file managed by lumberjack.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sakif/channelhub/internal/config"
)

// New returns the logger and a close function that flushes the rotating file.
func New(cfg config.Log) (*slog.Logger, func() error) {
	var w io.Writer = os.Stdout
	closeFn := func() error { return nil }

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    max(1, cfg.MaxSizeMB),
			MaxBackups: max(0, cfg.MaxBackups),
			MaxAge:     max(0, cfg.MaxAgeDays),
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(os.Stdout, rotator)
		closeFn = rotator.Close
	}

	return slog.New(newHandler(w, cfg)), closeFn
}

func newHandler(w io.Writer, cfg config.Log) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.JSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
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
