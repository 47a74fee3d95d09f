// Package connstore implements the shard-locked connection timestamp store that
// backs the ClientHello gate. Each entry records the last time a connection id
// was seen; the first sighting is reported to the caller so a one-time action
// can run exactly once per entry lifetime.
package connstore

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// ConnectionID identifies a live connection. Values come from the acceptance
// layer and carry no ordering meaning beyond tie-breaking.
type ConnectionID uint64

// Entry is a point-in-time copy of one store record.
type Entry struct {
	ID       ConnectionID
	LastSeen time.Time
}

// shardCount must remain a power of two so we can use bit masking for fast shard selection.
const shardCount = 64

const (
	compactMinPeak     = 1024
	compactShrinkRatio = 0.5
)

// Store maps connection ids to their last-seen time. The zero value is not
// usable; create instances with New.
type Store struct {
	shards []shard
}

// shard keeps a portion of the store guarded by its own lock so unrelated
// connections never contend on a single global mutex.
type shard struct {
	mu      sync.Mutex
	entries map[ConnectionID]time.Time
	peak    int
}

// New creates an empty store.
func New() *Store {
	shards := make([]shard, shardCount)
	for i := range shards {
		shards[i].entries = make(map[ConnectionID]time.Time)
	}
	return &Store{shards: shards}
}

// RecordOrTouch inserts id with now when absent and reports true. When id is
// already present it refreshes the timestamp and reports false. The check and
// the write happen under one shard lock, so exactly one caller observes true
// for a given entry lifetime.
//
// LastSeen never moves backwards: a touch carrying an older now keeps the
// newer stored value.
func (s *Store) RecordOrTouch(id ConnectionID, now time.Time) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	last, ok := sh.entries[id]
	if !ok {
		sh.entries[id] = now
		if size := len(sh.entries); size > sh.peak {
			sh.peak = size
		}
		return true
	}
	if now.After(last) {
		sh.entries[id] = now
	}
	return false
}

// LastSeen returns the stored timestamp for id.
func (s *Store) LastSeen(id ConnectionID) (time.Time, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	last, ok := sh.entries[id]
	return last, ok
}

// Remove deletes id and reports whether it was present.
func (s *Store) Remove(id ConnectionID) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.entries[id]; !ok {
		return false
	}
	delete(sh.entries, id)
	sh.maybeCompactLocked()
	return true
}

// RemoveIfUnchanged deletes id only when its timestamp still equals lastSeen.
// The sweeper works from a snapshot; a connection touched after the snapshot
// was taken keeps its entry.
func (s *Store) RemoveIfUnchanged(id ConnectionID, lastSeen time.Time) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	current, ok := sh.entries[id]
	if !ok || !current.Equal(lastSeen) {
		return false
	}
	delete(sh.entries, id)
	sh.maybeCompactLocked()
	return true
}

// Snapshot copies every entry. Each shard is copied under its own lock, so an
// individual entry is never torn, but the result is not atomic across shards.
func (s *Store) Snapshot() []Entry {
	out := make([]Entry, 0, s.Len())
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, last := range sh.entries {
			out = append(out, Entry{ID: id, LastSeen: last})
		}
		sh.mu.Unlock()
	}
	return out
}

// Len returns the number of entries across all shards.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

// Clear drops every entry.
func (s *Store) Clear() {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.entries = make(map[ConnectionID]time.Time)
		sh.peak = 0
		sh.mu.Unlock()
	}
}

// shardFor hashes the id instead of masking it directly: acceptance layers hand
// out sequential ids, and xxh3 keeps them spread across shards.
func (s *Store) shardFor(id ConnectionID) *shard {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	idx := xxh3.Hash(buf[:]) & (shardCount - 1)
	return &s.shards[idx]
}

// maybeCompactLocked reallocates the shard map after it shrinks well below its
// peak. Go maps never release buckets, so a burst of connections would
// otherwise pin memory long after eviction. Caller must hold sh.mu.
func (sh *shard) maybeCompactLocked() {
	if sh.peak < compactMinPeak {
		return
	}
	threshold := int(float64(sh.peak) * compactShrinkRatio)
	if len(sh.entries) >= threshold {
		return
	}
	next := make(map[ConnectionID]time.Time, len(sh.entries))
	for k, v := range sh.entries {
		next[k] = v
	}
	sh.entries = next
	sh.peak = len(next)
}
