// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package logging provides the minimal Logger interface used by netevent
// endpoints and transports, plus an slog adapter and a discarding logger.
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LevelInfo, "json", os.Stderr)
//	srv, err := netevent.NewServer(hub, netevent.WithServerLogger(logger))
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Level is a small level enum decoupled from slog so configuration can
// parse it without importing slog.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps a level name to a Level. Unknown names report false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// Logger is the structured logging contract. Arguments after msg are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

// SlogAdapter wraps *slog.Logger to implement Logger.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{Logger: logger}
}

func (s *SlogAdapter) Debug(msg string, keyvals ...any) { s.Logger.Debug(msg, keyvals...) }
func (s *SlogAdapter) Info(msg string, keyvals ...any)  { s.Logger.Info(msg, keyvals...) }
func (s *SlogAdapter) Warn(msg string, keyvals ...any)  { s.Logger.Warn(msg, keyvals...) }
func (s *SlogAdapter) Error(msg string, keyvals ...any) { s.Logger.Error(msg, keyvals...) }

// With returns a logger that attaches keyvals to every entry.
func (s *SlogAdapter) With(keyvals ...any) Logger {
	return &SlogAdapter{Logger: s.Logger.With(keyvals...)}
}

// NewSlogLogger builds a Logger writing json (default) or text to w.
func NewSlogLogger(level Level, format string, w io.Writer) Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(level)}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return NewSlogAdapter(slog.New(handler))
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...any) {}
func (NoOpLogger) Info(string, ...any)  {}
func (NoOpLogger) Warn(string, ...any)  {}
func (NoOpLogger) Error(string, ...any) {}
func (n NoOpLogger) With(...any) Logger { return n }

// Ensure returns l, or a NoOpLogger when l is nil.
func Ensure(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}
