// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package monitor

import (
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

func sessionEvent(sessionID string, at time.Time) *models.ActivityEvent {
	return &models.ActivityEvent{
		SessionID: sessionID,
		UserID:    "user-" + sessionID,
		Timestamp: at,
		Path:      "/dashboard",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0)",
	}
}

func TestSessionCache_ObserveAccumulates(t *testing.T) {
	c := NewSessionCache(30*time.Minute, 100)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	c.Observe(sessionEvent("s1", base))
	c.Observe(sessionEvent("s1", base.Add(time.Minute)))

	s, ok := c.Get("s1")
	if !ok {
		t.Fatal("session s1 not found")
	}
	if s.ActivityCount != 2 {
		t.Errorf("ActivityCount = %d, want 2", s.ActivityCount)
	}
	if !s.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, want %v", s.UpdatedAt, base.Add(time.Minute))
	}
}

func TestSessionCache_UpdatedAtMonotonic(t *testing.T) {
	c := NewSessionCache(30*time.Minute, 100)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	c.Observe(sessionEvent("s1", base.Add(time.Minute)))
	// Late event with an older timestamp must not move UpdatedAt back.
	c.Observe(sessionEvent("s1", base))

	s, _ := c.Get("s1")
	if !s.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, want %v (monotonic)", s.UpdatedAt, base.Add(time.Minute))
	}
	if s.ActivityCount != 2 {
		t.Errorf("ActivityCount = %d, want 2", s.ActivityCount)
	}
}

func TestSessionCache_CapEvictsOldest(t *testing.T) {
	c := NewSessionCache(30*time.Minute, 3)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		c.Observe(sessionEvent(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	if _, ok := c.Get("s0"); ok {
		t.Error("oldest session s0 should have been evicted")
	}
	if _, ok := c.Get("s3"); !ok {
		t.Error("newest session s3 should be present")
	}
}

func TestSessionCache_SweepExpired(t *testing.T) {
	ttl := 10 * time.Minute
	c := NewSessionCache(ttl, 100)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	c.Observe(sessionEvent("stale", base))
	c.Observe(sessionEvent("idle", base.Add(8*time.Minute)))
	// A write more than 2xTTL later triggers the sweep.
	c.Observe(sessionEvent("fresh", base.Add(2*ttl+time.Minute)))

	if _, ok := c.Get("stale"); ok {
		t.Error("stale session should have been swept")
	}
	// Idle past the TTL but not past 2xTTL: inactive, not swept.
	if _, ok := c.Get("idle"); !ok {
		t.Error("session idle less than 2xTTL should survive the sweep")
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh session should be present")
	}
}

func TestSessionCache_ActiveWithinTTL(t *testing.T) {
	c := NewSessionCache(10*time.Minute, 100)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	c.Observe(sessionEvent("old", base))
	c.Observe(sessionEvent("new", base.Add(8*time.Minute)))

	active := c.Active(base.Add(12 * time.Minute))
	if len(active) != 1 {
		t.Fatalf("Active returned %d sessions, want 1", len(active))
	}
	if active[0].SessionID != "new" {
		t.Errorf("Active[0].SessionID = %q, want %q", active[0].SessionID, "new")
	}
}

func TestSessionCache_RecordDuration(t *testing.T) {
	c := NewSessionCache(30*time.Minute, 100)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	c.Observe(sessionEvent("s1", base))
	c.RecordDuration("s1", 125)
	c.RecordDuration("missing", 999) // no-op

	s, _ := c.Get("s1")
	if s.LastDurationMs != 125 {
		t.Errorf("LastDurationMs = %d, want 125", s.LastDurationMs)
	}
}

func TestSessionCache_GetReturnsCopy(t *testing.T) {
	c := NewSessionCache(30*time.Minute, 100)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	c.Observe(sessionEvent("s1", base))
	s, _ := c.Get("s1")
	s.ActivityCount = 999

	again, _ := c.Get("s1")
	if again.ActivityCount != 1 {
		t.Errorf("ActivityCount = %d, want 1 (mutating a copy must not affect the cache)", again.ActivityCount)
	}
}
