// Package ratelimit throttles repetitive log lines such as reconnect failures
// and dropped feed messages.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Counter counts occurrences and admits at most one log per interval.
// It is safe for concurrent use.
type Counter struct {
	interval   time.Duration
	lastLog    atomic.Int64
	total      atomic.Uint64
	suppressed atomic.Uint64
}

// NewCounter returns a counter that admits one log per interval. A zero or
// negative interval admits every call.
func NewCounter(interval time.Duration) *Counter {
	return &Counter{interval: interval}
}

// Purpose: Count one occurrence and decide whether it may be logged.
// Key aspects: When admitted, skipped reports how many occurrences were
// swallowed since the previous admitted one so the log line can say so.
// Upstream: viewer failure logging, feed drop logging.
// Downstream: None.
func (c *Counter) Inc() (skipped uint64, ok bool) {
	if c == nil {
		return 0, true
	}
	c.total.Add(1)
	if c.interval > 0 {
		now := time.Now().UnixNano()
		last := c.lastLog.Load()
		if now-last < c.interval.Nanoseconds() || !c.lastLog.CompareAndSwap(last, now) {
			c.suppressed.Add(1)
			return 0, false
		}
	}
	return c.suppressed.Swap(0), true
}

// Total returns every occurrence counted, logged or not.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}
