// Package stats tracks named event counters for the gate, its sweeper and the
// listener, and renders them for periodic console output.
package stats

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker holds named counters.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-request increments don't fight over a mutex
	counters sync.Map // string -> *atomic.Uint64
	start    atomic.Int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// Increment adds one to the named counter.
func (t *Tracker) Increment(name string) {
	t.Add(name, 1)
}

// Add adds n to the named counter. Blank names and zero deltas are ignored.
func (t *Tracker) Add(name string, n uint64) {
	if t == nil || n == 0 {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if value, ok := t.counters.Load(name); ok {
		value.(*atomic.Uint64).Add(n)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := t.counters.LoadOrStore(name, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(n)
		return
	}
	counter.Add(n)
}

// Get returns the current value of a counter (zero when never incremented).
func (t *Tracker) Get(name string) uint64 {
	if t == nil {
		return 0
	}
	if value, ok := t.counters.Load(name); ok {
		return value.(*atomic.Uint64).Load()
	}
	return 0
}

// Snapshot returns a copy of all counters.
func (t *Tracker) Snapshot() map[string]uint64 {
	counts := make(map[string]uint64)
	if t == nil {
		return counts
	}
	t.counters.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// Uptime returns how long the tracker has been running.
func (t *Tracker) Uptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// Reset clears all counters and restarts the uptime clock.
func (t *Tracker) Reset() {
	t.counters.Range(func(key, _ any) bool {
		t.counters.Delete(key)
		return true
	})
	t.start.Store(time.Now().UnixNano())
}

// SnapshotLines returns one human-readable line per label, e.g.
// "Gate: first_seen=1,204 invocations=9,870".
func (t *Tracker) SnapshotLines(label string) []string {
	return []string{FormatCounts(label, t.Snapshot())}
}

// FormatCounts renders counts sorted by name with thousands separators.
func FormatCounts(label string, counts map[string]uint64) string {
	var b strings.Builder
	b.WriteString(label)
	b.WriteString(": ")
	if len(counts) == 0 {
		b.WriteString("(none)")
		return b.String()
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(humanize.Comma(int64(counts[name])))
	}
	return b.String()
}
