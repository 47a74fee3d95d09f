package main

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"tlsgate/hellogate"
	"tlsgate/listener"
	"tlsgate/stats"

	"github.com/dustin/go-humanize"
)

type gateStatsSource interface {
	Stats() hellogate.Stats
}

// fileLineWriter is the part of the log fanout the display needs.
type fileLineWriter interface {
	WriteFileOnlyLine(line string)
	HasFileSink() bool
}

// statsDisplay periodically emits gate, listener and memory lines. On an
// interactive console the lines go through the standard logger; otherwise they
// go to the log file only so redirected stdout is not flooded.
type statsDisplay struct {
	gate    gateStatsSource
	tracker *stats.Tracker
	files   fileLineWriter
	console bool
	logger  *log.Logger
	prev    hellogate.Stats
}

func newStatsDisplay(gate gateStatsSource, tracker *stats.Tracker, files fileLineWriter, console bool) *statsDisplay {
	return &statsDisplay{gate: gate, tracker: tracker, files: files, console: console, logger: log.Default()}
}

// Run emits lines every interval until ctx ends. A non-positive interval
// disables the display.
func (d *statsDisplay) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.emit(d.lines())
		}
	}
}

func (d *statsDisplay) lines() []string {
	cur := d.gate.Stats()
	lines := []string{
		formatUptimeLine(d.tracker.Uptime()),
		formatGateLine(cur),
		formatGateDeltaLine(cur, d.prev),
		formatListenerLine(d.tracker),
		formatMemoryLine(),
	}
	d.prev = cur
	return lines
}

func (d *statsDisplay) emit(lines []string) {
	toFile := !d.console && d.files != nil && d.files.HasFileSink()
	for _, line := range lines {
		if toFile {
			d.files.WriteFileOnlyLine(line)
			continue
		}
		d.logger.Print(line)
	}
}

func formatGateLine(st hellogate.Stats) string {
	return fmt.Sprintf("Gate: cached=%s/%s invocations=%s first=%s refreshed=%s unavailable=%s",
		humanize.Comma(int64(st.Entries)),
		humanize.Comma(int64(st.Limit)),
		humanize.Comma(int64(st.Invocations)),
		humanize.Comma(int64(st.FirstSeen)),
		humanize.Comma(int64(st.Refreshed)),
		humanize.Comma(int64(st.PerformUnavailable)))
}

// formatGateDeltaLine reports sweeper activity since the previous tick.
func formatGateDeltaLine(cur, prev hellogate.Stats) string {
	line := fmt.Sprintf("Sweeper: sweeps=+%d idle_evicted=+%s capacity_evicted=+%s idle_timeout=%s",
		diff(cur.Sweeps, prev.Sweeps),
		humanize.Comma(int64(diff(cur.IdleEvicted, prev.IdleEvicted))),
		humanize.Comma(int64(diff(cur.CapacityEvicted, prev.CapacityEvicted))),
		formatDurationShort(cur.IdleTimeout))
	if cur.SweepPanics > 0 {
		line += fmt.Sprintf(" panics=%d", cur.SweepPanics)
	}
	return line
}

func formatListenerLine(tracker *stats.Tracker) string {
	return fmt.Sprintf("Listener: accepted=%s hellos=%s hello_bytes=%s",
		humanize.Comma(int64(tracker.Get(listener.StatAccepted))),
		humanize.Comma(int64(tracker.Get(statHellos))),
		humanize.Bytes(tracker.Get(statHelloBytes)))
}

func formatMemoryLine() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return fmt.Sprintf("Memory: heap=%s sys=%s gc=%d goroutines=%d",
		humanize.Bytes(m.HeapAlloc), humanize.Bytes(m.Sys), m.NumGC, runtime.NumGoroutine())
}

func formatUptimeLine(uptime time.Duration) string {
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	return fmt.Sprintf("Uptime: %02d:%02d", hours, minutes)
}

// formatDurationShort uses d/h/m/s units with coarse granularity.
func formatDurationShort(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	d -= time.Duration(minutes) * time.Minute
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}

// diff tolerates counters that went backwards after a tracker reset.
func diff(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}
