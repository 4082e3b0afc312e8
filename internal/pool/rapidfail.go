package pool

import (
	"sync/atomic"
	"time"
)

const rapidFailWindow = time.Minute

// rapidFailTracker counts worker-start failures over a fixed one-minute
// window. The window rolls forward lazily on query rather than on a
// timer, so a burst straddling a window boundary can briefly exceed the
// intended rate. That approximation is deliberate and covered by tests.
//
// RecordFailure is safe to call concurrently without a lock; Exceeded
// and ResetWindow must run under the manager's exclusive lock because
// they read and write the window start.
type rapidFailTracker struct {
	failures    atomic.Int64
	windowStart time.Time
}

// RecordFailure counts one worker-start failure.
func (t *rapidFailTracker) RecordFailure() {
	t.failures.Add(1)
}

// Exceeded reports whether more than limit failures were recorded in
// the current window. A window older than one minute is reset first.
func (t *rapidFailTracker) Exceeded(limit int, now time.Time) bool {
	if now.Sub(t.windowStart) >= rapidFailWindow {
		t.failures.Store(0)
		t.windowStart = now
	}
	return t.failures.Load() > int64(limit)
}

// ResetWindow restarts the accounting window at now.
func (t *rapidFailTracker) ResetWindow(now time.Time) {
	t.windowStart = now
}
