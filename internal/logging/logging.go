// Package logging configures structured logging for a service.
//
// Each service writes to ./logs/{service}.log (truncated on start) and
// mirrors to stdout unless it runs under the process monitor, in which
// case console output is suppressed (MANAGED_BY_MONITOR).
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options controls logger construction.
type Options struct {
	// Dir is the log directory. Defaults to "./logs".
	Dir string

	// Level is the minimum level. Defaults to Info, overridable via
	// SESSION_TRACKING_LOG_LEVEL (debug|info|warn|error).
	Level slog.Level

	// SuppressConsole disables stdout output. Also forced on when
	// MANAGED_BY_MONITOR is set.
	SuppressConsole bool
}

// Setup builds the service logger and installs it as slog's default.
// The returned closer releases the log file.
func Setup(service string, opts Options) (*slog.Logger, io.Closer, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}

	// Rewritten each start so a log always covers exactly one run.
	path := filepath.Join(dir, service+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, err
	}

	level := opts.Level
	if env := os.Getenv("SESSION_TRACKING_LOG_LEVEL"); env != "" {
		level = parseLevel(env, level)
	}

	var w io.Writer = f
	if !opts.SuppressConsole && os.Getenv("MANAGED_BY_MONITOR") == "" {
		w = io.MultiWriter(f, os.Stdout)
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})).With("service", service)
	slog.SetDefault(logger)

	return logger, f, nil
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return fallback
}
