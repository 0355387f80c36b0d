// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package monitor

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
)

func newTestTracker(enabled bool) (*Tracker, *Queue, *SessionCache) {
	cfg := config.MonitorConfig{
		Enabled:              enabled,
		ExcludedPathPrefixes: []string{"/static/", "/healthz", "/metrics"},
		QueueCapacity:        10,
	}
	queue := NewQueue(cfg.QueueCapacity)
	sessions := NewSessionCache(30*time.Minute, 100)
	return NewTracker(cfg, queue, sessions), queue, sessions
}

func TestTracker_AdmissionChecks(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		event   models.ActivityEvent
		want    bool
	}{
		{
			name:    "accepted",
			enabled: true,
			event:   models.ActivityEvent{SessionID: "s1", UserID: "u1", Path: "/dashboard"},
			want:    true,
		},
		{
			name:    "monitoring disabled",
			enabled: false,
			event:   models.ActivityEvent{SessionID: "s1", UserID: "u1", Path: "/dashboard"},
			want:    false,
		},
		{
			name:    "excluded path",
			enabled: true,
			event:   models.ActivityEvent{SessionID: "s1", UserID: "u1", Path: "/static/app.js"},
			want:    false,
		},
		{
			name:    "metrics endpoint excluded",
			enabled: true,
			event:   models.ActivityEvent{SessionID: "s1", UserID: "u1", Path: "/metrics"},
			want:    false,
		},
		{
			name:    "missing session",
			enabled: true,
			event:   models.ActivityEvent{UserID: "u1", Path: "/dashboard"},
			want:    false,
		},
		{
			name:    "missing user",
			enabled: true,
			event:   models.ActivityEvent{SessionID: "s1", Path: "/dashboard"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, queue, sessions := newTestTracker(tt.enabled)
			got := tracker.Track(tt.event)
			if got != tt.want {
				t.Errorf("Track = %v, want %v", got, tt.want)
			}
			if !tt.want {
				// Rejection must leave no side effects behind.
				if queue.Len() != 0 {
					t.Errorf("queue has %d events after rejection, want 0", queue.Len())
				}
				if sessions.Len() != 0 {
					t.Errorf("session cache has %d entries after rejection, want 0", sessions.Len())
				}
			}
		})
	}
}

func TestTracker_FillsIDAndTimestamp(t *testing.T) {
	tracker, queue, _ := newTestTracker(true)

	if !tracker.Track(models.ActivityEvent{SessionID: "s1", UserID: "u1", Path: "/p"}) {
		t.Fatal("Track rejected a valid event")
	}

	batch := queue.Drain(context.Background(), 1, 50*time.Millisecond)
	if len(batch) != 1 {
		t.Fatal("event not enqueued")
	}
	if batch[0].ID == uuid.Nil {
		t.Error("event ID not assigned")
	}
	if batch[0].Timestamp.IsZero() {
		t.Error("event timestamp not assigned")
	}
}

func TestTracker_QueueFullDropsButCaches(t *testing.T) {
	tracker, queue, sessions := newTestTracker(true)

	for i := 0; i < queue.Cap(); i++ {
		tracker.Track(models.ActivityEvent{SessionID: "s1", UserID: "u1", Path: "/p"})
	}
	if tracker.Track(models.ActivityEvent{SessionID: "s2", UserID: "u2", Path: "/p"}) {
		t.Error("Track should report false when the queue is full")
	}

	// The dropped event still updated the session cache: the session was
	// genuinely observed even if its event record was shed.
	if _, ok := sessions.Get("s2"); !ok {
		t.Error("session s2 should be cached despite the queue drop")
	}
}

func TestTracker_QueueFullLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf))
	t.Cleanup(func() { logging.SetLogger(prev) })

	tracker, queue, _ := newTestTracker(true)
	for i := 0; i < queue.Cap()+1; i++ {
		tracker.Track(models.ActivityEvent{SessionID: "s1", UserID: "u1", Path: "/p"})
	}

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "queue full") {
		t.Errorf("queue drop was not logged at warning level: %s", out)
	}
}

func TestTracker_SetEnabled(t *testing.T) {
	tracker, _, _ := newTestTracker(true)

	tracker.SetEnabled(false)
	if tracker.Enabled() {
		t.Error("Enabled = true after SetEnabled(false)")
	}
	if tracker.Track(models.ActivityEvent{SessionID: "s1", UserID: "u1", Path: "/p"}) {
		t.Error("Track accepted an event while disabled")
	}

	tracker.SetEnabled(true)
	if !tracker.Track(models.ActivityEvent{SessionID: "s1", UserID: "u1", Path: "/p"}) {
		t.Error("Track rejected an event after re-enabling")
	}
}
