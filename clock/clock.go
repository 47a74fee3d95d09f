// Package clock provides the time source shared by the gate and its sweeper.
// Production code uses System; tests use Fake and move time forward explicitly
// instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System reads the process clock. Values keep their monotonic reading, so
// idle ages computed with Sub are immune to wall-clock steps. Convert to UTC
// only when formatting.
type System struct{}

// Now returns time.Now.
func (System) Now() time.Time {
	return time.Now()
}

// Func adapts a plain function to Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}

// Fake is a manually driven clock. It is safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the frozen time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d. Negative durations are ignored so
// readers never observe time going backwards.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	return f.now
}

// Set jumps to t if t is not before the current time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	if t.After(f.now) {
		f.now = t
	}
	f.mu.Unlock()
}
