// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/models"
)

// SensitiveAccessDetector flags access to configured sensitive paths.
// In-hours weekday access is recorded at info severity; the same access
// outside business hours or on a weekend escalates to warning.
type SensitiveAccessDetector struct {
	cfg config.SensitiveAccessConfig
}

// NewSensitiveAccessDetector creates the sensitive-path detector.
func NewSensitiveAccessDetector(cfg config.SensitiveAccessConfig) *SensitiveAccessDetector {
	return &SensitiveAccessDetector{cfg: cfg}
}

// Type returns the alert type this detector handles.
func (d *SensitiveAccessDetector) Type() AlertType {
	return AlertTypeSensitiveAccess
}

// Check matches the event path against the sensitive patterns. Business
// hours are judged in the event timestamp's location.
func (d *SensitiveAccessDetector) Check(ctx context.Context, event *models.ActivityEvent) (*Alert, error) {
	pattern := d.matchPattern(event.Path)
	if pattern == "" {
		return nil, nil
	}

	local := event.Timestamp
	hour := local.Hour()
	weekday := local.Weekday()

	outsideHours := hour < d.cfg.BusinessHoursStart || hour >= d.cfg.BusinessHoursEnd
	weekend := weekday == time.Saturday || weekday == time.Sunday

	severity := SeverityInfo
	title := "Sensitive data access"
	if outsideHours || weekend {
		severity = SeverityWarning
		title = "Off-hours sensitive data access"
	}

	details, _ := json.Marshal(SensitiveAccessDetails{
		Path:         event.Path,
		Pattern:      pattern,
		OutsideHours: outsideHours,
		Weekend:      weekend,
		LocalHour:    hour,
		LocalWeekday: weekday.String(),
	})
	return &Alert{
		Type:     AlertTypeSensitiveAccess,
		UserID:   event.UserID,
		IP:       event.IP,
		Severity: severity,
		Title:    title,
		Message: fmt.Sprintf("User %s accessed %s (%s %02d:00 local)",
			event.UserID, event.Path, weekday, hour),
		Details:   details,
		CreatedAt: event.Timestamp,
	}, nil
}

func (d *SensitiveAccessDetector) matchPattern(path string) string {
	for _, pattern := range d.cfg.PathPatterns {
		if strings.HasPrefix(path, pattern) {
			return pattern
		}
	}
	return ""
}
