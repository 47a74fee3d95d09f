package clock

import (
	"sync"
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Unix(1_700_000_000, 0).UTC()
	f := NewFake(start)
	if got := f.Now(); !got.Equal(start) {
		t.Fatalf("expected %v, got %v", start, got)
	}
	if got := f.Advance(4 * time.Minute); !got.Equal(start.Add(4 * time.Minute)) {
		t.Fatalf("unexpected time after advance: %v", got)
	}
	f.Advance(-time.Hour)
	if got := f.Now(); !got.Equal(start.Add(4 * time.Minute)) {
		t.Fatalf("negative advance moved the clock: %v", got)
	}
}

func TestFakeSetNeverGoesBackwards(t *testing.T) {
	start := time.Unix(1_700_000_000, 0).UTC()
	f := NewFake(start)
	f.Set(start.Add(-time.Second))
	if !f.Now().Equal(start) {
		t.Fatalf("Set moved clock backwards")
	}
	f.Set(start.Add(time.Minute))
	if !f.Now().Equal(start.Add(time.Minute)) {
		t.Fatalf("Set did not move clock forward")
	}
}

func TestFakeConcurrentReaders(t *testing.T) {
	f := NewFake(time.Unix(0, 0).UTC())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := f.Now()
			for j := 0; j < 1000; j++ {
				now := f.Now()
				if now.Before(last) {
					t.Errorf("clock went backwards: %v < %v", now, last)
					return
				}
				last = now
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		f.Advance(time.Millisecond)
	}
	wg.Wait()
}

func TestSystemKeepsMonotonicReading(t *testing.T) {
	a := (System{}).Now()
	b := (System{}).Now()
	// Round(0) strips the monotonic reading; a value that still carries one differs.
	if a == a.Round(0) {
		t.Fatal("expected System.Now to carry a monotonic reading")
	}
	if b.Sub(a) < 0 {
		t.Fatalf("expected non-decreasing readings, got %s", b.Sub(a))
	}
}

func TestFuncClock(t *testing.T) {
	want := time.Unix(42, 0).UTC()
	c := Func(func() time.Time { return want })
	if !c.Now().Equal(want) {
		t.Fatalf("Func clock returned %v", c.Now())
	}
}
