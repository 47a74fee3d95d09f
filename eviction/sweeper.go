// Package eviction reclaims stale and excess connection entries in the
// background. A sweep first drops every entry idle for at least the idle
// timeout, then, if the store is still over its capacity limit, drops the
// oldest remaining entries until it fits.
package eviction

import (
	"context"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"tlsgate/clock"
	"tlsgate/connstore"
	"tlsgate/internal/ratelimit"
	"tlsgate/stats"
)

const (
	// DefaultIdleTimeout is how long a connection may go unseen before eviction.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultInterval is the pause between sweep ticks.
	DefaultInterval = 2 * time.Second

	panicLogInterval = time.Minute
)

// Counter names recorded on the stats tracker.
const (
	StatSweeps          = "sweeps"
	StatIdleEvicted     = "idle_evicted"
	StatCapacityEvicted = "capacity_evicted"
	StatSweepPanics     = "sweep_panics"
)

// Store is the subset of connstore.Store the sweeper needs.
type Store interface {
	Snapshot() []connstore.Entry
	RemoveIfUnchanged(id connstore.ConnectionID, lastSeen time.Time) bool
	Len() int
}

// Config controls a Sweeper. Zero IdleTimeout or CapacityLimit disables the
// matching phase; zero Interval uses DefaultInterval.
type Config struct {
	IdleTimeout   time.Duration
	CapacityLimit int
	Interval      time.Duration
	Clock         clock.Clock
	Logger        *log.Logger
	Stats         *stats.Tracker
}

// Result summarizes one sweep.
type Result struct {
	Scanned         int
	IdleEvicted     int
	CapacityEvicted int
	Remaining       int
}

// Sweeper runs the two-phase eviction on a ticker until stopped.
type Sweeper struct {
	store    Store
	idle     time.Duration
	limit    int
	interval time.Duration
	clk      clock.Clock
	logger   *log.Logger
	stats    *stats.Tracker
	panics   *ratelimit.Counter

	// sweepMu serializes Sweep; each pass sizes its capacity phase from Len.
	sweepMu sync.Mutex

	mu       sync.Mutex
	started  bool
	stopped  bool
	shutdown chan struct{}
	done     chan struct{}
}

// New builds a sweeper over store. It does not start the background loop.
func New(store Store, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Sweeper{
		store:    store,
		idle:     cfg.IdleTimeout,
		limit:    cfg.CapacityLimit,
		interval: cfg.Interval,
		clk:      cfg.Clock,
		logger:   cfg.Logger,
		stats:    cfg.Stats,
		panics:   ratelimit.NewCounter(panicLogInterval, cfg.Clock),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Calling Start more than once, or after
// Stop, does nothing.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.loop()
}

// Stop cancels the schedule and waits for the loop to exit or ctx to end. A
// tick already running is allowed to finish. Stop is idempotent.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		started := s.started
		s.mu.Unlock()
		if !started {
			return nil
		}
		return s.wait(ctx)
	}
	s.stopped = true
	close(s.shutdown)
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	return s.wait(ctx)
}

func (s *Sweeper) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop ticks until shutdown closes.
func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			// Stop may race with a tick that fired at the same moment.
			select {
			case <-s.shutdown:
				return
			default:
			}
			s.tick()
		}
	}
}

// tick runs one sweep and contains any panic so a single bad tick never ends
// the schedule.
func (s *Sweeper) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.stats.Increment(StatSweepPanics)
			if total, ok := s.panics.Inc(); ok {
				s.logger.Printf("Sweeper: panic during sweep (total=%d): %v\n%s", total, r, debug.Stack())
			}
		}
	}()
	s.Sweep()
}

// Sweep performs one idle pass followed by one capacity pass and returns what
// it removed. It is safe to call concurrently with store mutations and is
// exposed so callers and tests can force a sweep without waiting for a tick.
// Concurrent calls run one after another, so the store never drops below the
// capacity limit through capacity eviction.
func (s *Sweeper) Sweep() Result {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	now := s.clk.Now()
	snapshot := s.store.Snapshot()
	res := Result{Scanned: len(snapshot)}

	candidates := snapshot
	if s.idle > 0 {
		candidates = make([]connstore.Entry, 0, len(snapshot))
		for _, e := range snapshot {
			if now.Sub(e.LastSeen) >= s.idle {
				if s.store.RemoveIfUnchanged(e.ID, e.LastSeen) {
					res.IdleEvicted++
					continue
				}
			}
			candidates = append(candidates, e)
		}
	}

	if s.limit > 0 {
		if excess := s.store.Len() - s.limit; excess > 0 {
			sortOldestFirst(candidates)
			for _, e := range candidates {
				if excess <= 0 {
					break
				}
				// An entry touched after the snapshot is now among the newest; skip it.
				if s.store.RemoveIfUnchanged(e.ID, e.LastSeen) {
					res.CapacityEvicted++
					excess--
				}
			}
		}
	}

	res.Remaining = s.store.Len()
	s.stats.Increment(StatSweeps)
	s.stats.Add(StatIdleEvicted, uint64(res.IdleEvicted))
	s.stats.Add(StatCapacityEvicted, uint64(res.CapacityEvicted))
	return res
}

// sortOldestFirst orders entries by LastSeen ascending. Equal timestamps fall
// back to ascending ConnectionID so eviction order is deterministic.
func sortOldestFirst(entries []connstore.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.Before(b.LastSeen)
		}
		return a.ID < b.ID
	})
}
