// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/models"
)

// AlertType identifies which detector raised an alert.
type AlertType string

const (
	// AlertTypeBruteForce flags repeated failed logins from one IP.
	AlertTypeBruteForce AlertType = "brute_force"

	// AlertTypeDistributedAttack flags failed logins against one account
	// spread across many source IPs.
	AlertTypeDistributedAttack AlertType = "distributed_attack"

	// AlertTypeDataExport flags excessive exports from sensitive endpoints.
	AlertTypeDataExport AlertType = "data_export"

	// AlertTypePrivilegeEscalation flags admin mutations by non-admin roles.
	AlertTypePrivilegeEscalation AlertType = "privilege_escalation"

	// AlertTypeGeoAnomaly flags implausible travel between logins.
	AlertTypeGeoAnomaly AlertType = "geo_anomaly"

	// AlertTypeSensitiveAccess flags access to sensitive paths, escalated
	// outside business hours.
	AlertTypeSensitiveAccess AlertType = "sensitive_access"
)

// Severity indicates the severity level of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the review state of an alert.
type AlertStatus string

const (
	StatusPending      AlertStatus = "pending"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
	StatusDismissed    AlertStatus = "dismissed"
)

// CanTransitionTo reports whether the status change is permitted.
// Pending alerts are acknowledged before resolution, though dismissing
// straight from pending is allowed; resolved and dismissed are terminal.
func (s AlertStatus) CanTransitionTo(next AlertStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusAcknowledged || next == StatusDismissed
	case StatusAcknowledged:
		return next == StatusResolved || next == StatusDismissed
	default:
		return false
	}
}

// Alert is one detection finding. Alerts start pending and move through
// the review states; the (UserID, Type) pair also keys notification
// dedup within the suppression window.
type Alert struct {
	ID        int64           `json:"id"`
	Type      AlertType       `json:"type"`
	UserID    string          `json:"user_id"`
	IP        string          `json:"ip,omitempty"`
	Severity  Severity        `json:"severity"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
	Status    AlertStatus     `json:"status"`
	UpdatedBy string          `json:"updated_by,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// BruteForceDetails carries context for brute-force alerts.
type BruteForceDetails struct {
	IP             string   `json:"ip"`
	FailedAttempts int      `json:"failed_attempts"`
	WindowMinutes  float64  `json:"window_minutes"`
	Blocked        bool     `json:"blocked"`
	SourceIPs      []string `json:"source_ips,omitempty"`
}

// DataExportDetails carries context for export-volume alerts.
type DataExportDetails struct {
	Endpoint    string `json:"endpoint"`
	ExportCount int    `json:"export_count"`
	TotalRows   int64  `json:"total_rows"`
	LastRows    int64  `json:"last_rows"`
}

// PrivilegeEscalationDetails carries context for admin-mutation alerts.
type PrivilegeEscalationDetails struct {
	Path   string `json:"path"`
	Method string `json:"method"`
	Role   string `json:"role"`
}

// GeoAnomalyDetails carries context for impossible-travel alerts.
type GeoAnomalyDetails struct {
	FromIP           string    `json:"from_ip"`
	FromLatitude     float64   `json:"from_latitude"`
	FromLongitude    float64   `json:"from_longitude"`
	FromTimestamp    time.Time `json:"from_timestamp"`
	ToIP             string    `json:"to_ip"`
	ToLatitude       float64   `json:"to_latitude"`
	ToLongitude      float64   `json:"to_longitude"`
	ToTimestamp      time.Time `json:"to_timestamp"`
	DistanceKm       float64   `json:"distance_km"`
	TimeDeltaMins    float64   `json:"time_delta_mins"`
	RequiredSpeedKmH float64   `json:"required_speed_kmh"`
}

// SensitiveAccessDetails carries context for sensitive-path alerts.
type SensitiveAccessDetails struct {
	Path         string `json:"path"`
	Pattern      string `json:"pattern"`
	OutsideHours bool   `json:"outside_hours"`
	Weekend      bool   `json:"weekend"`
	LocalHour    int    `json:"local_hour"`
	LocalWeekday string `json:"local_weekday"`
}

// Geolocation is a resolved IP location.
type Geolocation struct {
	IP        string    `json:"ip"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	City      string    `json:"city,omitempty"`
	Country   string    `json:"country,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Detector is implemented by each detection rule. Check returns a nil
// alert when the event is unremarkable; errors never block the caller's
// request path and are counted rather than propagated.
type Detector interface {
	Type() AlertType
	Check(ctx context.Context, event *models.ActivityEvent) (*Alert, error)
}

// AlertStore persists alerts and answers the dedup query.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *Alert) error

	// HasRecentAlert reports whether an alert of the same (user, type)
	// pair was created at or after since.
	HasRecentAlert(ctx context.Context, userID string, alertType AlertType, since time.Time) (bool, error)
}

// BlockStore persists IP blocks issued by the brute-force detector.
type BlockStore interface {
	InsertIPBlock(ctx context.Context, block *models.IPBlock) error

	// IsIPBlocked consults the most recent block for the IP only; expired
	// history rows never re-block.
	IsIPBlocked(ctx context.Context, ip string, now time.Time) (bool, error)
}

// GeoResolver maps an IP to its last-known location. A nil result with a
// nil error means the IP is unknown.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (*Geolocation, error)
}

// Notifier delivers alerts to an external channel.
type Notifier interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, alert *Alert) error
}
