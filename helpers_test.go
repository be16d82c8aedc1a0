// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import (
	"sync"
	"time"

	"github.com/luxfi/netevent/logging"
)

type logEntry struct {
	level   logging.Level
	msg     string
	keyvals []any
}

// recordLogger keeps every entry for assertions. Children created by With
// share the parent's entries.
type recordLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	with    []any
}

func newRecordLogger() *recordLogger {
	return &recordLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (r *recordLogger) add(level logging.Level, msg string, keyvals []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kv := append(append([]any{}, r.with...), keyvals...)
	*r.entries = append(*r.entries, logEntry{level: level, msg: msg, keyvals: kv})
}

func (r *recordLogger) Debug(msg string, kv ...any) { r.add(logging.LevelDebug, msg, kv) }
func (r *recordLogger) Info(msg string, kv ...any)  { r.add(logging.LevelInfo, msg, kv) }
func (r *recordLogger) Warn(msg string, kv ...any)  { r.add(logging.LevelWarn, msg, kv) }
func (r *recordLogger) Error(msg string, kv ...any) { r.add(logging.LevelError, msg, kv) }

func (r *recordLogger) With(kv ...any) logging.Logger {
	return &recordLogger{mu: r.mu, entries: r.entries, with: append(append([]any{}, r.with...), kv...)}
}

// warnings returns the messages logged at Warn.
func (r *recordLogger) warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range *r.entries {
		if e.level == logging.LevelWarn {
			out = append(out, e.msg)
		}
	}
	return out
}

func (r *recordLogger) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// at returns a time d after the clock's start.
func at(start time.Time, d time.Duration) time.Time {
	return start.Add(d)
}
