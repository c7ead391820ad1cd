// Package log builds the application slog.Logger.
// SPDX-License-Identifier: AGPL-3.0-or-later
package log

import (
	"io"
	"log/slog"
	"os"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/config"
)

// Bootstrap is the logger used before configuration has been validated:
// JSON to stderr at info level.
func Bootstrap(w ...io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(output(w), &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// New initializes a new slog.Logger based on the application config.
// It accepts an optional io.Writer to override stdout, which is primarily
// used for testing.
func New(cfg *config.Config, w ...io.Writer) *slog.Logger {
	var dst io.Writer = os.Stdout
	if len(w) > 0 && w[0] != nil {
		dst = w[0]
	}

	// This check handles the case where a nil config is passed.
	level := slog.LevelInfo
	format := "json"
	if cfg != nil {
		level = cfg.LogLevel()
		format = cfg.Log.Format
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(dst, opts)
	} else {
		h = slog.NewJSONHandler(dst, opts)
	}

	logger := slog.New(h)
	if cfg != nil {
		logger = logger.With("env", cfg.App.NodeEnv)
	}
	return logger
}

func output(w []io.Writer) io.Writer {
	if len(w) > 0 && w[0] != nil {
		return w[0]
	}
	return os.Stderr
}
