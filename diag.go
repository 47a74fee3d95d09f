package main

import (
	"fmt"
	"log"
	"net/http"
	httppprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	pprof "runtime/pprof"
	"strings"
	"time"

	"tlsgate/hellogate"

	"github.com/dustin/go-humanize"
)

const (
	envHeapLogInterval = "TLSGATE_HEAP_LOG_INTERVAL"
	envPprofAddr       = "TLSGATE_PPROF_ADDR"
)

// maybeStartHeapLogger starts periodic heap logging when TLSGATE_HEAP_LOG_INTERVAL
// is set (e.g., "60s"). Each line pairs heap usage with the gate's cache
// occupancy so growth can be attributed. Disabled when the variable is empty
// or invalid.
func maybeStartHeapLogger(gate gateStatsSource) {
	intervalStr := strings.TrimSpace(os.Getenv(envHeapLogInterval))
	if intervalStr == "" {
		return
	}
	interval, err := time.ParseDuration(intervalStr)
	if err != nil || interval <= 0 {
		log.Printf("Heap logger disabled (invalid %s=%q)", envHeapLogInterval, intervalStr)
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		log.Printf("Heap logger enabled (every %s)", interval)
		for range ticker.C {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			log.Print(formatHeapLine(m, gate.Stats()))
		}
	}()
}

// formatHeapLine reports heap usage next to cache size and an estimate of
// heap bytes per cached connection.
func formatHeapLine(m runtime.MemStats, st hellogate.Stats) string {
	line := fmt.Sprintf("Heap: alloc=%s sys=%s objects=%d gc=%d cached=%s/%s",
		humanize.Bytes(m.HeapAlloc),
		humanize.Bytes(m.Sys),
		m.HeapObjects,
		m.NumGC,
		humanize.Comma(int64(st.Entries)),
		humanize.Comma(int64(st.Limit)))
	if st.Entries > 0 {
		line += fmt.Sprintf(" per_conn=%s", humanize.Bytes(m.HeapAlloc/uint64(st.Entries)))
	}
	return line
}

// maybeStartDiagServer exposes /debug/gate, /debug/pprof/* and /debug/heapdump
// when TLSGATE_PPROF_ADDR is set (example: TLSGATE_PPROF_ADDR=localhost:6061).
func maybeStartDiagServer(gate gateStatsSource) {
	addr := strings.TrimSpace(os.Getenv(envPprofAddr))
	if addr == "" {
		return
	}
	go func() {
		log.Printf("Diagnostics server listening on %s (gate stats, pprof, heapdump)", addr)
		if err := http.ListenAndServe(addr, diagMux(filepath.Join("data", "diagnostics"), gate)); err != nil {
			log.Printf("Diagnostics server error: %v", err)
		}
	}()
}

func diagMux(dumpDir string, gate gateStatsSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/gate", func(w http.ResponseWriter, r *http.Request) {
		st := gate.Stats()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, formatGateLine(st))
		fmt.Fprintln(w, formatGateDeltaLine(st, hellogate.Stats{}))
	})
	mux.HandleFunc("/debug/heapdump", func(w http.ResponseWriter, r *http.Request) {
		ts := time.Now().UTC().Format("2006-01-02T15-04-05Z")
		if err := os.MkdirAll(dumpDir, 0o755); err != nil {
			http.Error(w, fmt.Sprintf("mkdir diagnostics: %v", err), http.StatusInternalServerError)
			return
		}
		path := filepath.Join(dumpDir, fmt.Sprintf("heap-%s.pprof", ts))
		f, err := os.Create(path)
		if err != nil {
			http.Error(w, fmt.Sprintf("create heap dump: %v", err), http.StatusInternalServerError)
			return
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			http.Error(w, fmt.Sprintf("write heap profile: %v", err), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "heap profile written to %s (cached=%d)\n", path, gate.Stats().Entries)
	})
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
	return mux
}
