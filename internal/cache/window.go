// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package cache provides the in-memory sliding-window state shared by the
// threat detectors.
//
// A WindowLog keeps an ordered list of timestamped entries per key (IP or
// user ID) and prunes entries older than the window eagerly on every write.
// Keys are spread across a fixed number of lock shards so concurrent
// request handlers touching distinct IPs or users rarely contend.
package cache

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// windowShards is the number of lock shards in a WindowLog.
// Power of two so the hash can be masked instead of modded.
const windowShards = 32

// Entry is a single timestamped observation within a sliding window.
type Entry struct {
	// At is the observation time. Entries older than the window are pruned.
	At time.Time

	// Tag carries per-detector context: the attempted user ID for
	// brute-force tracking, the endpoint for export tracking.
	Tag string

	// Count carries a magnitude where one observation covers many units,
	// such as rows returned by an export. Zero means one.
	Count int64
}

type windowShard struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// WindowLog is a sharded per-key sliding window of entries.
type WindowLog struct {
	shards [windowShards]*windowShard
	window time.Duration
}

// NewWindowLog creates a WindowLog with the given window duration.
func NewWindowLog(window time.Duration) *WindowLog {
	if window <= 0 {
		window = time.Hour
	}
	w := &WindowLog{window: window}
	for i := range w.shards {
		w.shards[i] = &windowShard{entries: make(map[string][]Entry)}
	}
	return w
}

// Window returns the configured window duration.
func (w *WindowLog) Window() time.Duration {
	return w.window
}

func (w *WindowLog) shard(key string) *windowShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return w.shards[h.Sum32()&(windowShards-1)]
}

// Append records an entry for key, prunes anything older than the window,
// and returns the number of entries remaining for that key.
func (w *WindowLog) Append(key string, e Entry) int {
	s := w.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.entries[key], e)
	entries = pruneBefore(entries, e.At.Add(-w.window))
	s.entries[key] = entries
	return len(entries)
}

// Entries returns a pruned copy of the entries for key as of now.
func (w *WindowLog) Entries(key string, now time.Time) []Entry {
	s := w.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := pruneBefore(s.entries[key], now.Add(-w.window))
	if len(entries) == 0 {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = entries

	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Count returns the number of in-window entries for key as of now.
func (w *WindowLog) Count(key string, now time.Time) int {
	s := w.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := pruneBefore(s.entries[key], now.Add(-w.window))
	if len(entries) == 0 {
		delete(s.entries, key)
		return 0
	}
	s.entries[key] = entries
	return len(entries)
}

// Sum returns the total of entry Counts for key, treating zero as one.
func (w *WindowLog) Sum(key string, now time.Time) int64 {
	var total int64
	for _, e := range w.Entries(key, now) {
		if e.Count > 0 {
			total += e.Count
		} else {
			total++
		}
	}
	return total
}

// UniqueTags returns the distinct tags across all keys' in-window entries.
// Used to recognize failures spread over many sources.
func (w *WindowLog) UniqueTags(now time.Time) []string {
	cutoff := now.Add(-w.window)
	seen := make(map[string]struct{})

	for _, s := range w.shards {
		s.mu.Lock()
		for key, entries := range s.entries {
			entries = pruneBefore(entries, cutoff)
			if len(entries) == 0 {
				delete(s.entries, key)
				continue
			}
			s.entries[key] = entries
			for _, e := range entries {
				if e.Tag != "" {
					seen[e.Tag] = struct{}{}
				}
			}
		}
		s.mu.Unlock()
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Clear removes all entries for key. Used when a successful login resets
// an IP's failure history.
func (w *WindowLog) Clear(key string) {
	s := w.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of keys currently tracked.
func (w *WindowLog) Len() int {
	n := 0
	for _, s := range w.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Sweep prunes every key and drops keys whose windows are empty.
// Returns the number of keys removed. Called from a background interval,
// since eager pruning only touches keys that are still being written.
func (w *WindowLog) Sweep(now time.Time) int {
	cutoff := now.Add(-w.window)
	removed := 0

	for _, s := range w.shards {
		s.mu.Lock()
		for key, entries := range s.entries {
			entries = pruneBefore(entries, cutoff)
			if len(entries) == 0 {
				delete(s.entries, key)
				removed++
				continue
			}
			s.entries[key] = entries
		}
		s.mu.Unlock()
	}
	return removed
}

// pruneBefore drops entries older than cutoff, preserving order.
// Entries are appended in arrival order, so a single forward scan suffices.
func pruneBefore(entries []Entry, cutoff time.Time) []Entry {
	j := 0
	for _, e := range entries {
		if !e.At.Before(cutoff) {
			entries[j] = e
			j++
		}
	}
	return entries[:j]
}
