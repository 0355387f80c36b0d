// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package models defines the shared data types flowing through the
// activity pipeline: raw activity events, session snapshots, IP blocks,
// and the daily rollup rows produced by the retention scheduler.
package models

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ActionKind classifies an activity event.
type ActionKind string

const (
	ActionPageView     ActionKind = "page_view"
	ActionAPICall      ActionKind = "api_call"
	ActionLoginAttempt ActionKind = "login_attempt"
	ActionExport       ActionKind = "export"
	ActionAdminOp      ActionKind = "admin_op"
)

// ActivityEvent is one observed user action. It is created in the request
// path, carried through the bounded queue, and persisted by the batch
// worker. Events are immutable once created and consumed exactly once.
type ActivityEvent struct {
	ID        uuid.UUID  `json:"id"`
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id"`
	Role      string     `json:"role,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Path      string     `json:"path"`
	Method    string     `json:"method"`
	Action    ActionKind `json:"action"`
	IP        string     `json:"ip"`
	UserAgent string     `json:"user_agent,omitempty"`
	Referrer  string     `json:"referrer,omitempty"`

	// DurationMs is attached best-effort after the response completes.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// LoginOK is meaningful only for ActionLoginAttempt.
	LoginOK bool `json:"login_ok,omitempty"`

	// ExportRows is meaningful only for ActionExport.
	ExportRows int64 `json:"export_rows,omitempty"`
}

// SessionSnapshot is the last-known state of a session, owned by the
// session cache. UpdatedAt never moves backwards for a given session.
type SessionSnapshot struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	LastPath      string    `json:"last_path"`
	DeviceKind    string    `json:"device_kind"`
	UpdatedAt     time.Time `json:"updated_at"`
	ActivityCount int64     `json:"activity_count"`

	// LastDurationMs is the most recent response latency attached via
	// TrackDuration, zero when none was recorded yet.
	LastDurationMs int64 `json:"last_duration_ms,omitempty"`
}

// IPBlock is a temporary, expiring denial issued by the brute-force
// detector. Multiple rows per IP form a history; only the latest block
// with ExpiresAt in the future is consulted at admission time.
type IPBlock struct {
	ID        int64     `json:"id"`
	IP        string    `json:"ip"`
	BlockedAt time.Time `json:"blocked_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason"`
}

// Active reports whether the block is still in force at the given time.
func (b *IPBlock) Active(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}

// DailySummary is the per-calendar-date rollup computed by the retention
// scheduler. Rows are insert-if-absent and never mutated afterwards.
type DailySummary struct {
	Date             time.Time       `json:"date"`
	UniqueUsers      int64           `json:"unique_users"`
	TotalSessions    int64           `json:"total_sessions"`
	TotalPageViews   int64           `json:"total_page_views"`
	TotalAPICalls    int64           `json:"total_api_calls"`
	TopPages         json.RawMessage `json:"top_pages"`         // [{path, hits}]
	UserDistribution json.RawMessage `json:"user_distribution"` // {role: count}
}

// DeviceKindFromUserAgent derives a coarse device class from a user agent.
func DeviceKindFromUserAgent(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case lower == "":
		return "unknown"
	case strings.Contains(lower, "mobile"), strings.Contains(lower, "android"),
		strings.Contains(lower, "iphone"):
		return "mobile"
	case strings.Contains(lower, "tablet"), strings.Contains(lower, "ipad"):
		return "tablet"
	default:
		return "desktop"
	}
}
