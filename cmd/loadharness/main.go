package main

import (
	"context"
	"flag"
	"io"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"tlsgate/hellogate"

	"github.com/dustin/go-humanize"
)

// loadharness hammers a gate with concurrent Invoke calls over a rolling set of
// connection ids to provide a repeatable load for profiling and to check that
// no connection has its ClientHello callback run twice while it is cached.
// It needs no network or certificates.
func main() {
	var (
		workers   = flag.Int("workers", 8, "concurrent invoking goroutines")
		runFor    = flag.Duration("duration", 10*time.Second, "how long to run the load")
		conns     = flag.Int("conns", 50000, "distinct connection ids per generation")
		rollEvery = flag.Duration("roll", time.Second, "advance the id window by conns/10 every interval (0 disables)")
		limit     = flag.Int("limit", 100000, "gate cache size limit")
		idle      = flag.Duration("idle", 5*time.Minute, "gate idle timeout")
		sweep     = flag.Duration("sweep", 200*time.Millisecond, "gate sweep interval")
		verbose   = flag.Bool("v", false, "log gate lifecycle messages")
	)
	flag.Parse()

	if *workers <= 0 || *conns <= 0 {
		log.Fatalf("workers and conns must be >0 (got %d, %d)", *workers, *conns)
	}
	if *runFor <= 0 {
		log.Fatalf("duration must be >0 (got %s)", runFor.String())
	}

	log.Printf("loadharness: starting with workers=%d duration=%s conns=%d roll=%s limit=%d idle=%s sweep=%s",
		*workers, runFor.String(), *conns, rollEvery.String(), *limit, idle.String(), sweep.String())

	gateLog := log.New(io.Discard, "", 0)
	if *verbose {
		gateLog = log.Default()
	}
	h := newHarness()
	gate, err := hellogate.New(hellogate.Config[hellogate.ConnectionID]{
		CacheSizeLimit: *limit,
		IdleTimeout:    *idle,
		SweepInterval:  *sweep,
		Callback:       h.callback,
		Logger:         gateLog,
	})
	if err != nil {
		log.Fatalf("gate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *runFor)
	defer cancel()

	var base atomic.Uint64
	if *rollEvery > 0 {
		go rollWindow(ctx, &base, uint64(*conns)/10+1, *rollEvery)
	}

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				id := hellogate.ConnectionID(base.Load() + uint64(rng.Intn(*conns)) + 1)
				if err := gate.Invoke(id, id, perform); err != nil {
					return
				}
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := gate.Close(closeCtx); err != nil {
		log.Printf("loadharness: gate close: %v", err)
	}

	st := gate.Stats()
	performs, distinct := h.totals()
	repeats := performs - distinct
	evictions := st.IdleEvicted + st.CapacityEvicted
	rate := float64(st.Invocations) / runFor.Seconds()

	log.Println("loadharness: complete")
	log.Printf("invocations=%s performs=%s distinct=%s repeats=%s cached=%s",
		humanize.Comma(int64(st.Invocations)), humanize.Comma(int64(performs)),
		humanize.Comma(int64(distinct)), humanize.Comma(int64(repeats)), humanize.Comma(int64(st.Entries)))
	log.Printf("sweeps=%d idle_evicted=%s capacity_evicted=%s panics=%d",
		st.Sweeps, humanize.Comma(int64(st.IdleEvicted)), humanize.Comma(int64(st.CapacityEvicted)), st.SweepPanics)
	log.Printf("throughput=%s invokes/sec over %s", humanize.Comma(int64(rate)), runFor.String())

	// A connection can only run again after it was evicted, so more repeats
	// than evictions means a cached connection ran twice.
	if repeats > evictions {
		log.Fatalf("loadharness: VIOLATION: %d repeat performs but only %d evictions", repeats, evictions)
	}
}

func perform(id hellogate.ConnectionID, cb hellogate.Callback[hellogate.ConnectionID]) bool {
	cb(id, nil)
	return true
}

func rollWindow(ctx context.Context, base *atomic.Uint64, step uint64, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			base.Add(step)
		}
	}
}

type harness struct {
	mu     sync.Mutex
	counts map[hellogate.ConnectionID]uint64
	total  uint64
}

func newHarness() *harness {
	return &harness{counts: make(map[hellogate.ConnectionID]uint64)}
}

func (h *harness) callback(id hellogate.ConnectionID, _ []byte) {
	h.mu.Lock()
	h.counts[id]++
	h.total++
	h.mu.Unlock()
}

func (h *harness) totals() (performs, distinct uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total, uint64(len(h.counts))
}
