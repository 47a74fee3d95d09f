package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tlsgate/clock"
	"tlsgate/config"
)

type memSink struct {
	mu    sync.Mutex
	lines []string
}

func (m *memSink) WriteLine(line string, _ time.Time) {
	m.mu.Lock()
	m.lines = append(m.lines, line)
	m.mu.Unlock()
}

func (m *memSink) Close() error { return nil }

func (m *memSink) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func TestFileNameRoundTrip(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	name := FileName(when)
	if name != "22-Jan-2026.log" {
		t.Fatalf("expected 22-Jan-2026.log, got %q", name)
	}
	parsed, ok := ParseFileName(name)
	if !ok || parsed.Day() != 22 || parsed.Month() != time.January {
		t.Fatalf("unexpected parse result %s ok=%v", parsed, ok)
	}
	if _, ok := ParseFileName("notes.txt"); ok {
		t.Fatal("expected non-log file to be rejected")
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"20-Jan-2026.log", "21-Jan-2026.log", "22-Jan-2026.log", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := Prune(dir, now, 2); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "20-Jan-2026.log")); !os.IsNotExist(err) {
		t.Fatalf("expected 20-Jan-2026.log to be removed, stat err=%v", err)
	}
	for _, name := range []string{"21-Jan-2026.log", "22-Jan-2026.log", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestFanoutSplitsLines(t *testing.T) {
	console, file := &memSink{}, &memSink{}
	f := NewFanout(console, file, clock.NewFake(time.Unix(0, 0)))

	_, _ = f.Write([]byte("Gate: one\r\nGate: tw"))
	_, _ = f.Write([]byte("o\n"))
	f.WriteFileOnlyLine("Gate: stats")

	if got := console.all(); len(got) != 2 || got[0] != "Gate: one" || got[1] != "Gate: two" {
		t.Fatalf("unexpected console lines %q", got)
	}
	if got := file.all(); len(got) != 3 || got[2] != "Gate: stats" {
		t.Fatalf("unexpected file lines %q", got)
	}
}

func TestFanoutFlushesOversizedTail(t *testing.T) {
	console := &memSink{}
	f := NewFanout(console, nil, nil)
	_, _ = f.Write(bytes.Repeat([]byte("x"), maxPendingBytes+1))
	if got := console.all(); len(got) != 1 || len(got[0]) != maxPendingBytes+1 {
		t.Fatalf("expected one flushed line, got %d", len(got))
	}
	if f.HasFileSink() {
		t.Fatal("expected no file sink")
	}
}

func TestSetupWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	f, err := Setup(config.LoggingConfig{Enabled: true, Dir: dir, RetentionDays: 3}, &console)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger := log.New(f, "", 0)
	logger.Print("Gate: started")
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName(time.Now())))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "Gate: started") {
		t.Fatalf("expected log line in file, got %q", data)
	}
	if !strings.Contains(console.String(), "Gate: started") {
		t.Fatalf("expected log line on console, got %q", console.String())
	}
}

func TestSetupDisabled(t *testing.T) {
	f, err := Setup(config.LoggingConfig{}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if f.HasFileSink() {
		t.Fatal("expected console-only fanout")
	}
	f.WriteFileOnlyLine("dropped")
}

func TestDailyFileSinkRotateHook(t *testing.T) {
	sink, err := NewDailyFileSink(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("NewDailyFileSink: %v", err)
	}
	defer sink.Close()

	var prevDate time.Time
	var prevPath, newPath string
	calls := 0
	sink.SetRotateHook(func(d time.Time, p, n string) {
		calls++
		prevDate, prevPath, newPath = d, p, n
	})

	day1 := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	sink.WriteLine("first", day1)
	sink.WriteLine("again", day1.Add(time.Hour))
	sink.WriteLine("second", day1.Add(24*time.Hour))

	if calls != 1 {
		t.Fatalf("expected one rotation, got %d", calls)
	}
	if prevDate.Day() != 22 || filepath.Base(prevPath) != "22-Jan-2026.log" || filepath.Base(newPath) != "23-Jan-2026.log" {
		t.Fatalf("unexpected rotation %s %s -> %s", prevDate, prevPath, newPath)
	}
	if filepath.Base(sink.Path()) != "23-Jan-2026.log" {
		t.Fatalf("unexpected current path %s", sink.Path())
	}
}

func TestRotateHookLoggingDoesNotDeadlock(t *testing.T) {
	sink, err := NewDailyFileSink(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("NewDailyFileSink: %v", err)
	}
	defer sink.Close()

	clk := clock.NewFake(time.Date(2026, time.January, 22, 23, 0, 0, 0, time.UTC))
	fanout := NewFanout(nil, sink, clk)
	logger := log.New(fanout, "", 0)
	logger.Print("prime")

	hookDone := make(chan struct{})
	var once sync.Once
	fanout.SetRotateHook(func(prevDate time.Time, _, _ string) {
		logger.Printf("Gate: totals for %s", prevDate.Format("2006-01-02"))
		once.Do(func() { close(hookDone) })
	})
	clk.Advance(2 * time.Hour)

	done := make(chan struct{})
	go func() {
		logger.Print("trigger rotation")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("logger.Print deadlocked during rotate hook logging")
	}
	select {
	case <-hookDone:
	case <-time.After(2 * time.Second):
		t.Fatal("rotate hook did not run")
	}
}
