// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package logger builds the single slog.Logger energat's cmd wires into
// every long-lived piece: the sampling loop, the RAPL reader, the
// baseline calibrator, and the thread inventory. A host running energat
// is almost always running it unattended (attached to one target PID),
// so the level and encoding are picked once at startup --
// "text" for a human watching a terminal, "json" for a log shipper --
// and every subsequent log line on the process follows that choice.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
)

// sourceDepth is how many path components of a %s/%s/file.go source
// location survive ReplaceAttr's shortening in text mode, e.g.
// "internal/sampler/sampler.go" rather than a full GOPATH-rooted path.
const sourceDepth = 3

var activeLevel slog.Level

// New builds a logger at the given level ("debug", "info", "warn",
// "error"; anything else is treated as "info") writing format-encoded
// ("json" or "text") records to w. Any other format is a misconfigured
// attach and is not worth limping along with a fallback: New panics.
func New(level, format string, w io.Writer) *slog.Logger {
	activeLevel = parseLogLevel(level)
	return slog.New(handlerForFormat(format, activeLevel, w))
}

// LogLevel reports the level most recently passed to New, so components
// built after the logger (e.g. the sampler deciding whether to bother
// formatting a debug-only trace line) can skip work the handler would
// just discard.
func LogLevel() slog.Level {
	return activeLevel
}

func handlerForFormat(format string, level slog.Level, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, AddSource: true}
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		opts.ReplaceAttr = shortenSource
		return slog.NewTextHandler(w, opts)
	default:
		panic(fmt.Sprintf("invalid log format: %s", format))
	}
}

// shortenSource trims a source-code file attribute down to its last
// sourceDepth path components so a terminal-attached operator sees
// "internal/device/rapl_reader.go" instead of the full build-time path.
func shortenSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	src, ok := a.Value.Any().(*slog.Source)
	if !ok {
		return a
	}
	parts := strings.Split(filepath.ToSlash(src.File), "/")
	switch {
	case len(parts) > sourceDepth-1:
		src.File = filepath.Join(parts[len(parts)-sourceDepth:]...)
	case len(parts) > 0:
		src.File = filepath.Join(parts...)
	}
	return a
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
