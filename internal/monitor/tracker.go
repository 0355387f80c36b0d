// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package monitor implements the ingestion side of the pipeline: the
// admission tracker called from the request path, the bounded event
// queue, the in-memory session cache, the batch worker that persists
// and evaluates drained events, and the settings poller that applies
// runtime toggles.
package monitor

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// Tracker is the request-path entry point. Track must stay cheap and
// can never fail the caller: every rejection is a silent no-op with a
// counter, every acceptance is one cache write and one channel send.
type Tracker struct {
	cfg      config.MonitorConfig
	queue    *Queue
	sessions *SessionCache
	enabled  atomic.Bool
}

// NewTracker creates the admission tracker.
func NewTracker(cfg config.MonitorConfig, queue *Queue, sessions *SessionCache) *Tracker {
	t := &Tracker{
		cfg:      cfg,
		queue:    queue,
		sessions: sessions,
	}
	t.enabled.Store(cfg.Enabled)
	return t
}

// Enabled reports whether tracking is currently on.
func (t *Tracker) Enabled() bool {
	return t.enabled.Load()
}

// SetEnabled toggles tracking at runtime. Applied by the settings
// poller; in-flight events already queued are unaffected.
func (t *Tracker) SetEnabled(enabled bool) {
	if t.enabled.Swap(enabled) != enabled {
		logging.Info().Bool("enabled", enabled).Msg("Activity monitoring toggled")
	}
}

// Track admits one activity event. Admission requires monitoring to be
// enabled, a path outside the exclusion list, and an authenticated
// session; failing any of these leaves no side effects. An accepted
// event gets an ID and timestamp here if missing, updates the session
// cache, and is offered to the queue, where a full buffer drops it.
func (t *Tracker) Track(event models.ActivityEvent) bool {
	if !t.enabled.Load() {
		metrics.EventsExcluded.WithLabelValues("disabled").Inc()
		return false
	}
	if t.isExcludedPath(event.Path) {
		metrics.EventsExcluded.WithLabelValues("excluded_path").Inc()
		return false
	}
	if event.SessionID == "" || event.UserID == "" {
		metrics.EventsExcluded.WithLabelValues("unauthenticated").Inc()
		return false
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	t.sessions.Observe(&event)

	if !t.queue.TryEnqueue(event) {
		logging.Warn().
			Str("session_id", event.SessionID).
			Str("path", event.Path).
			Msg("Event queue full, dropping event")
		return false
	}
	return true
}

// TrackDuration attaches a response latency to a session after the
// response completes. Best effort, no admission checks beyond enabled.
func (t *Tracker) TrackDuration(sessionID string, durationMs int64) {
	if !t.enabled.Load() || sessionID == "" {
		return
	}
	t.sessions.RecordDuration(sessionID, durationMs)
}

// ActiveSessions returns the sessions seen within the TTL.
func (t *Tracker) ActiveSessions(now time.Time) []models.SessionSnapshot {
	return t.sessions.Active(now)
}

func (t *Tracker) isExcludedPath(path string) bool {
	for _, prefix := range t.cfg.ExcludedPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
