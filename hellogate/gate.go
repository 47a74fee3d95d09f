// Package hellogate runs a connection's ClientHello callback at most once per
// live connection.
//
// Every request on a connection calls Gate.Invoke with the connection id. The
// first call for an id records it and runs the supplied perform delegate,
// which extracts the ClientHello and hands it to the registered callback.
// Later calls only refresh the id's last-seen time. A background sweeper
// forgets ids that have been idle for IdleTimeout and trims the oldest ids
// whenever the cache grows past CacheSizeLimit.
package hellogate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"tlsgate/clock"
	"tlsgate/connstore"
	"tlsgate/eviction"
	"tlsgate/stats"
)

// DefaultCacheSizeLimit bounds the number of remembered connections.
const DefaultCacheSizeLimit = 1_000_000

// Counter names recorded on the stats tracker, alongside the sweeper's.
const (
	StatInvocations        = "invocations"
	StatFirstSeen          = "first_seen"
	StatRefreshed          = "refreshed"
	StatPerformUnavailable = "perform_unavailable"
)

// ErrClosed is returned by Invoke once Close has begun.
var ErrClosed = errors.New("hellogate: gate closed")

// ConnectionID identifies a physical connection.
type ConnectionID = connstore.ConnectionID

// Callback receives the raw ClientHello bytes for a connection together with
// the request context that triggered extraction.
type Callback[C any] func(ctx C, hello []byte)

// PerformFunc extracts the ClientHello for the connection behind ctx and
// passes it to cb. It reports false when extraction was not possible, for
// example on a plaintext connection.
type PerformFunc[C any] func(ctx C, cb Callback[C]) bool

// Config controls a Gate. Zero numeric fields take defaults; negative ones are
// rejected.
type Config[C any] struct {
	CacheSizeLimit int
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	Clock          clock.Clock
	Callback       Callback[C]
	Logger         *log.Logger
	Stats          *stats.Tracker
}

// Gate owns the connection cache and its sweeper. C is the opaque per-request
// context forwarded to perform and the callback.
type Gate[C any] struct {
	store    *connstore.Store
	sweeper  *eviction.Sweeper
	clk      clock.Clock
	callback Callback[C]
	logger   *log.Logger
	stats    *stats.Tracker
	limit    int
	idle     time.Duration

	closed atomic.Bool
}

// New validates cfg, builds the gate and starts its sweeper.
func New[C any](cfg Config[C]) (*Gate[C], error) {
	if cfg.Callback == nil {
		return nil, fmt.Errorf("hellogate: callback is required")
	}
	if cfg.CacheSizeLimit < 0 {
		return nil, fmt.Errorf("hellogate: cache size limit must be positive (got %d)", cfg.CacheSizeLimit)
	}
	if cfg.IdleTimeout < 0 {
		return nil, fmt.Errorf("hellogate: idle timeout must be positive (got %s)", cfg.IdleTimeout)
	}
	if cfg.SweepInterval < 0 {
		return nil, fmt.Errorf("hellogate: sweep interval must be positive (got %s)", cfg.SweepInterval)
	}
	if cfg.CacheSizeLimit == 0 {
		cfg.CacheSizeLimit = DefaultCacheSizeLimit
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = eviction.DefaultIdleTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = eviction.DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewTracker()
	}

	store := connstore.New()
	g := &Gate[C]{
		store:    store,
		clk:      cfg.Clock,
		callback: cfg.Callback,
		logger:   cfg.Logger,
		stats:    cfg.Stats,
		limit:    cfg.CacheSizeLimit,
		idle:     cfg.IdleTimeout,
	}
	g.sweeper = eviction.New(store, eviction.Config{
		IdleTimeout:   cfg.IdleTimeout,
		CapacityLimit: cfg.CacheSizeLimit,
		Interval:      cfg.SweepInterval,
		Clock:         cfg.Clock,
		Logger:        cfg.Logger,
		Stats:         cfg.Stats,
	})
	g.sweeper.Start()
	g.logger.Printf("Gate: started (limit=%d idle=%s sweep=%s)", cfg.CacheSizeLimit, cfg.IdleTimeout, cfg.SweepInterval)
	return g, nil
}

// Invoke runs perform for id if this is the first time the gate has seen id
// since it was last evicted; otherwise it only refreshes id's timestamp.
//
// The id is remembered even when perform reports false, so an unavailable
// ClientHello is not retried for the same connection. A panic from perform or
// the callback propagates to the caller and leaves the id recorded.
func (g *Gate[C]) Invoke(id ConnectionID, ctx C, perform PerformFunc[C]) error {
	if g.closed.Load() {
		return ErrClosed
	}
	g.stats.Increment(StatInvocations)

	if !g.store.RecordOrTouch(id, g.clk.Now()) {
		g.stats.Increment(StatRefreshed)
		return nil
	}
	g.stats.Increment(StatFirstSeen)

	if perform == nil || !perform(ctx, g.callback) {
		g.stats.Increment(StatPerformUnavailable)
	}
	return nil
}

// Close stops accepting Invoke calls and cancels the sweep schedule, waiting
// for a running sweep to finish or ctx to end. In-flight Invoke calls are left
// to complete. Close may be called again after a ctx timeout to keep waiting
// for the sweeper; once it has exited every call returns nil.
func (g *Gate[C]) Close(ctx context.Context) error {
	first := g.closed.CompareAndSwap(false, true)
	err := g.sweeper.Stop(ctx)
	if first {
		g.logger.Printf("Gate: closed with %d cached connections", g.store.Len())
	}
	if err != nil {
		return fmt.Errorf("hellogate: stop sweeper: %w", err)
	}
	return nil
}

// Sweep forces one eviction pass outside the schedule.
func (g *Gate[C]) Sweep() eviction.Result {
	return g.sweeper.Sweep()
}

// Len returns the number of remembered connections.
func (g *Gate[C]) Len() int {
	return g.store.Len()
}

// LastSeen reports when id was last seen by Invoke.
func (g *Gate[C]) LastSeen(id ConnectionID) (time.Time, bool) {
	return g.store.LastSeen(id)
}

// Stats is a point-in-time copy of the gate counters.
type Stats struct {
	Invocations        uint64
	FirstSeen          uint64
	Refreshed          uint64
	PerformUnavailable uint64
	Sweeps             uint64
	IdleEvicted        uint64
	CapacityEvicted    uint64
	SweepPanics        uint64
	Entries            int
	Limit              int
	IdleTimeout        time.Duration
}

// Stats returns the current counters.
func (g *Gate[C]) Stats() Stats {
	return Stats{
		Invocations:        g.stats.Get(StatInvocations),
		FirstSeen:          g.stats.Get(StatFirstSeen),
		Refreshed:          g.stats.Get(StatRefreshed),
		PerformUnavailable: g.stats.Get(StatPerformUnavailable),
		Sweeps:             g.stats.Get(eviction.StatSweeps),
		IdleEvicted:        g.stats.Get(eviction.StatIdleEvicted),
		CapacityEvicted:    g.stats.Get(eviction.StatCapacityEvicted),
		SweepPanics:        g.stats.Get(eviction.StatSweepPanics),
		Entries:            g.store.Len(),
		Limit:              g.limit,
		IdleTimeout:        g.idle,
	}
}

// Tracker exposes the underlying counters for display.
func (g *Gate[C]) Tracker() *stats.Tracker {
	return g.stats
}
