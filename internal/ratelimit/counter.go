// Package ratelimit provides a lightweight counter for throttling log emission
// from background loops that may fail repeatedly.
package ratelimit

import (
	"sync/atomic"
	"time"

	"tlsgate/clock"
)

// Counter tracks how many times an event happened and when it was last
// allowed through. It is safe for concurrent use.
type Counter struct {
	interval time.Duration
	clk      clock.Clock
	lastLog  atomic.Int64
	logged   atomic.Bool
	total    atomic.Uint64
}

// NewCounter constructs a Counter that allows at most one log per interval
// measured on clk. A nil clk uses the system clock. A zero or negative
// interval disables throttling.
func NewCounter(interval time.Duration, clk clock.Clock) *Counter {
	if clk == nil {
		clk = clock.System{}
	}
	return &Counter{interval: interval, clk: clk}
}

// Inc records one event and reports the running total and whether the caller
// may log it.
func (c *Counter) Inc() (uint64, bool) {
	if c == nil {
		return 0, false
	}
	total := c.total.Add(1)
	if c.interval <= 0 {
		return total, true
	}
	now := c.clk.Now().UnixNano()
	if !c.logged.Load() {
		if c.logged.CompareAndSwap(false, true) {
			c.lastLog.Store(now)
			return total, true
		}
	}
	last := c.lastLog.Load()
	if now-last < c.interval.Nanoseconds() {
		return total, false
	}
	if c.lastLog.CompareAndSwap(last, now) {
		return total, true
	}
	return total, false
}

// Total returns how many events were recorded.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}
