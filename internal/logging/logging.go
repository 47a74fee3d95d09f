// Package logging fans log output out to the console and to a daily log file.
// The standard library logger writes into a Fanout; the Fanout splits the
// stream into lines and hands each line to its sinks.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tlsgate/clock"
	"tlsgate/config"
)

const (
	timestampLayout = "2006/01/02 15:04:05"
	fileDateLayout  = "02-Jan-2006"
	maxPendingBytes = 16 * 1024
	defaultKeepDays = 7
)

// Sink receives complete log lines.
type Sink interface {
	WriteLine(line string, now time.Time)
	Close() error
}

// RotateHook runs after the daily file rolls over, outside the sink lock.
type RotateHook func(prevDate time.Time, prevPath, newPath string)

// WriterSink writes lines to an io.Writer.
type WriterSink struct {
	W             io.Writer
	WithTimestamp bool
}

func (s *WriterSink) WriteLine(line string, now time.Time) {
	if s == nil || s.W == nil {
		return
	}
	if s.WithTimestamp {
		line = now.UTC().Format(timestampLayout) + " " + line
	}
	_, _ = io.WriteString(s.W, line+"\n")
}

func (s *WriterSink) Close() error { return nil }

// DailyFileSink appends to <dir>/<DD-Mon-YYYY>.log, opening a new file when
// the UTC date changes and pruning files older than the retention window.
type DailyFileSink struct {
	mu          sync.Mutex
	dir         string
	keepDays    int
	date        string
	path        string
	file        *os.File
	hook        RotateHook
	lastErrorAt time.Time
}

// NewDailyFileSink creates dir if needed and prunes old files once up front.
// A non-positive keepDays keeps a week.
func NewDailyFileSink(dir string, keepDays int) (*DailyFileSink, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if keepDays <= 0 {
		keepDays = defaultKeepDays
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}
	if err := Prune(dir, time.Now().UTC(), keepDays); err != nil {
		fmt.Fprintf(os.Stderr, "Logging: prune failed for %s: %v\n", dir, err)
	}
	return &DailyFileSink{dir: dir, keepDays: keepDays}, nil
}

// SetRotateHook installs fn; nil clears it.
func (s *DailyFileSink) SetRotateHook(fn RotateHook) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

// Path returns the file currently written to, or "" before the first line.
func (s *DailyFileSink) Path() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *DailyFileSink) WriteLine(line string, now time.Time) {
	if s == nil {
		return
	}
	now = now.UTC()
	date := now.Format(fileDateLayout)

	s.mu.Lock()
	var fire func()
	if s.file == nil || s.date != date {
		fire = s.rollLocked(date, now)
	}
	if s.file != nil {
		if _, err := s.file.WriteString(now.Format(timestampLayout) + " " + line + "\n"); err != nil {
			s.reportLocked(now, fmt.Errorf("write failed: %w", err))
		}
	}
	s.mu.Unlock()

	// The hook may log through the same Fanout, so it must run unlocked.
	if fire != nil {
		fire()
	}
}

// rollLocked opens the file for date and returns the pending hook call, if any.
func (s *DailyFileSink) rollLocked(date string, now time.Time) func() {
	prevDate, prevPath, hook := s.date, s.path, s.hook
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.reportLocked(now, fmt.Errorf("failed to create log directory %q: %w", s.dir, err))
		return nil
	}
	path := filepath.Join(s.dir, FileName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.reportLocked(now, fmt.Errorf("open failed for %s: %w", path, err))
		return nil
	}
	s.file, s.date, s.path = f, date, path
	if err := Prune(s.dir, now, s.keepDays); err != nil {
		s.reportLocked(now, fmt.Errorf("prune failed: %w", err))
	}

	if hook == nil || prevDate == "" || prevDate == date {
		return nil
	}
	parsed, err := time.ParseInLocation(fileDateLayout, prevDate, time.UTC)
	if err != nil {
		return nil
	}
	return func() { hook(parsed, prevPath, path) }
}

// reportLocked writes sink failures to stderr at most once a minute.
func (s *DailyFileSink) reportLocked(now time.Time, err error) {
	if !s.lastErrorAt.IsZero() && now.Sub(s.lastErrorAt) < time.Minute {
		return
	}
	s.lastErrorAt = now
	fmt.Fprintf(os.Stderr, "Logging: %v\n", err)
}

func (s *DailyFileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.date, s.path = nil, "", ""
	return err
}

// Fanout is the io.Writer handed to log.SetOutput.
type Fanout struct {
	mu      sync.Mutex
	pending []byte
	console Sink
	file    Sink
	clock   clock.Clock
}

// NewFanout creates a fanout over the given sinks; either may be nil.
func NewFanout(console, file Sink, clk clock.Clock) *Fanout {
	if clk == nil {
		clk = clock.System{}
	}
	return &Fanout{console: console, file: file, clock: clk}
}

// Setup builds the process fanout. Console output is always on; the daily file
// sink is attached when cfg enables it. A file sink failure still returns a
// usable console-only fanout alongside the error.
func Setup(cfg config.LoggingConfig, console io.Writer) (*Fanout, error) {
	f := NewFanout(&WriterSink{W: console, WithTimestamp: true}, nil, nil)
	if !cfg.Enabled {
		return f, nil
	}
	sink, err := NewDailyFileSink(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return f, err
	}
	f.SetFileSink(sink)
	return f, nil
}

// SetFileSink replaces the file sink.
func (f *Fanout) SetFileSink(s Sink) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.file = s
	f.mu.Unlock()
}

// SetRotateHook forwards fn to the file sink when it supports rotation hooks.
func (f *Fanout) SetRotateHook(fn RotateHook) {
	if f == nil {
		return
	}
	f.mu.Lock()
	s := f.file
	f.mu.Unlock()
	if d, ok := s.(*DailyFileSink); ok {
		d.SetRotateHook(fn)
	}
}

// HasFileSink reports whether file-only lines have anywhere to go.
func (f *Fanout) HasFileSink() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file != nil
}

// Write buffers p and dispatches every complete line. An unterminated tail
// longer than maxPendingBytes is flushed as its own line.
func (f *Fanout) Write(p []byte) (int, error) {
	if f == nil {
		return len(p), nil
	}
	f.mu.Lock()
	f.pending = append(f.pending, p...)
	var lines []string
	rest := f.pending
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(rest[:i], "\r")))
		rest = rest[i+1:]
	}
	if len(rest) > maxPendingBytes {
		if tail := string(bytes.TrimRight(rest, "\r")); tail != "" {
			lines = append(lines, tail)
		}
		rest = nil
	}
	f.pending = append(f.pending[:0], rest...)
	console, file := f.console, f.file
	f.mu.Unlock()

	if len(lines) == 0 {
		return len(p), nil
	}
	now := f.clock.Now()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

// WriteFileOnlyLine sends line to the file sink only. It is a no-op when file
// logging is disabled.
func (f *Fanout) WriteFileOnlyLine(line string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file != nil {
		file.WriteLine(line, f.clock.Now())
	}
}

// Close closes both sinks and returns the file sink's error.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	console, file := f.console, f.file
	f.mu.Unlock()
	if console != nil {
		_ = console.Close()
	}
	if file != nil {
		return file.Close()
	}
	return nil
}

// FileName is the daily log file name for now's UTC date.
func FileName(now time.Time) string {
	return now.UTC().Format(fileDateLayout) + ".log"
}

// ParseFileName reverses FileName.
func ParseFileName(name string) (time.Time, bool) {
	if filepath.Ext(name) != ".log" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(fileDateLayout, strings.TrimSuffix(name, ".log"), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Prune removes daily log files older than keepDays, counting today as one.
// Files that do not look like daily logs are left alone.
func Prune(dir string, now time.Time, keepDays int) error {
	if keepDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(keepDays - 1))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if date, ok := ParseFileName(entry.Name()); ok && date.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
