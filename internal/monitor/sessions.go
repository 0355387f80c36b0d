// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// SessionCache holds the last-known state of each active session. It is
// bounded two ways: entries idle past the TTL are swept opportunistically
// on writes (at most once per 2xTTL), and when the cap is exceeded the
// oldest entries are evicted immediately.
type SessionCache struct {
	ttl time.Duration
	max int

	mu        sync.RWMutex
	sessions  map[string]*models.SessionSnapshot
	lastSweep time.Time
}

// NewSessionCache creates a session cache with the given TTL and size cap.
func NewSessionCache(ttl time.Duration, max int) *SessionCache {
	return &SessionCache{
		ttl:      ttl,
		max:      max,
		sessions: make(map[string]*models.SessionSnapshot),
	}
}

// Observe records an activity for a session, creating or overwriting
// its snapshot. UpdatedAt never moves backwards: a late event bumps the
// counter but keeps the newer timestamp.
func (c *SessionCache) Observe(event *models.ActivityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[event.SessionID]
	if !ok {
		s = &models.SessionSnapshot{SessionID: event.SessionID}
		c.sessions[event.SessionID] = s
	}
	s.UserID = event.UserID
	s.LastPath = event.Path
	s.DeviceKind = models.DeviceKindFromUserAgent(event.UserAgent)
	s.ActivityCount++
	if event.Timestamp.After(s.UpdatedAt) {
		s.UpdatedAt = event.Timestamp
	}

	c.maybeSweepLocked(event.Timestamp)
	c.enforceCapLocked()
	metrics.SessionCacheSize.Set(float64(len(c.sessions)))
}

// RecordDuration attaches a response latency to an existing session,
// best effort: unknown sessions are ignored.
func (c *SessionCache) RecordDuration(sessionID string, durationMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		s.LastDurationMs = durationMs
	}
}

// Get returns a copy of the session snapshot, if present.
func (c *SessionCache) Get(sessionID string) (models.SessionSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return models.SessionSnapshot{}, false
	}
	return *s, true
}

// Active returns copies of sessions updated within the TTL as of now,
// newest first.
func (c *SessionCache) Active(now time.Time) []models.SessionSnapshot {
	cutoff := now.Add(-c.ttl)

	c.mu.RLock()
	out := make([]models.SessionSnapshot, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.UpdatedAt.After(cutoff) {
			out = append(out, *s)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Len returns the number of cached sessions, expired or not.
func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// maybeSweepLocked drops entries idle past twice the TTL. Sweeps are
// spaced at least 2xTTL apart so the common write path stays O(1);
// entries between 1x and 2x the TTL are merely inactive and still
// serve Get lookups.
func (c *SessionCache) maybeSweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < 2*c.ttl {
		return
	}
	c.lastSweep = now

	cutoff := now.Add(-2 * c.ttl)
	removed := 0
	for id, s := range c.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(c.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.SessionCacheEvictions.WithLabelValues("expired").Add(float64(removed))
		logging.Debug().Int("removed", removed).Msg("Session cache sweep complete")
	}
}

// enforceCapLocked evicts the oldest sessions until the cache fits the
// cap. Eviction order is UpdatedAt ascending.
func (c *SessionCache) enforceCapLocked() {
	over := len(c.sessions) - c.max
	if over <= 0 {
		return
	}

	type candidate struct {
		id string
		at time.Time
	}
	candidates := make([]candidate, 0, len(c.sessions))
	for id, s := range c.sessions {
		candidates = append(candidates, candidate{id: id, at: s.UpdatedAt})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].at.Before(candidates[j].at)
	})

	for i := 0; i < over; i++ {
		delete(c.sessions, candidates[i].id)
	}
	metrics.SessionCacheEvictions.WithLabelValues("capacity").Add(float64(over))
	logging.Warn().Int("evicted", over).Int("cap", c.max).
		Msg("Session cache over capacity, evicted oldest sessions")
}
