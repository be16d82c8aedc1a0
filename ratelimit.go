// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package netevent

import "time"

// RateWindow is the sliding window over which an event's RateLimit applies.
const RateWindow = time.Second

// admit decides whether one more message fits in the window ending at now.
// The log is chronological. Entries outside [now-RateWindow, now] are pruned
// in place while the window is counted from the newest entry backwards, so
// the cost is bounded by the window size rather than the whole history.
// A rejected attempt is not recorded.
func admit(log []time.Time, now time.Time, limit int) ([]time.Time, bool) {
	lo := now.Add(-RateWindow)

	end := len(log)
	for end > 0 && log[end-1].After(now) {
		end--
	}
	start := end
	for start > 0 && !log[start-1].Before(lo) {
		start--
	}
	count := end - start

	if start > 0 || end < len(log) {
		n := copy(log, log[start:end])
		log = log[:n]
	}
	if count >= limit {
		return log, false
	}
	return append(log, now), true
}
