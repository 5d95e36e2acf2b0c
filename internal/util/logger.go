// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"io"
	"log/slog"
	"os"
)

var Logger *slog.Logger

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// InitLogger initializes the global logger with appropriate log level
// Set KEYRESOLVE_DEBUG=1 environment variable to enable debug logging
func InitLogger() {
	InitLoggerTo(os.Stderr)
}

// InitLoggerTo is InitLogger writing to w.
func InitLoggerTo(w io.Writer) {
	level := slog.LevelInfo // Default: only show Info, Warn, Error

	if os.Getenv("KEYRESOLVE_DEBUG") != "" {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		// Remove timestamp for cleaner CLI output
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})

	Logger = slog.New(handler)
}

// Log returns the global logger, or a discarding logger before InitLogger.
func Log() *slog.Logger {
	if Logger == nil {
		return discard
	}
	return Logger
}

// Debug logs a debug message (only shown when KEYRESOLVE_DEBUG is set)
func Debug(msg string, args ...any) {
	Log().Debug(msg, args...)
}
