// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"time"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// DefaultDedupWindow suppresses repeat alerts for the same (user, type)
// pair. Five minutes keeps a noisy detector from flooding reviewers
// while an attack is ongoing.
const DefaultDedupWindow = 5 * time.Minute

// AlertManager persists alerts with dedup and fans them out to the
// configured notifiers. Notification failures are logged and counted,
// never returned: losing a webhook must not lose the alert row.
type AlertManager struct {
	store       AlertStore
	notifiers   []Notifier
	dedupWindow time.Duration
}

// NewAlertManager creates an alert manager with the default dedup window.
func NewAlertManager(store AlertStore, notifiers []Notifier) *AlertManager {
	return &AlertManager{
		store:       store,
		notifiers:   notifiers,
		dedupWindow: DefaultDedupWindow,
	}
}

// SetDedupWindow overrides the suppression window. Used in tests.
func (m *AlertManager) SetDedupWindow(d time.Duration) {
	m.dedupWindow = d
}

// Raise stores an alert unless an equivalent one was created within the
// dedup window, then notifies. Returns whether the alert was stored.
func (m *AlertManager) Raise(ctx context.Context, alert *Alert) (bool, error) {
	since := alert.CreatedAt.Add(-m.dedupWindow)
	recent, err := m.store.HasRecentAlert(ctx, alert.UserID, alert.Type, since)
	if err != nil {
		return false, err
	}
	if recent {
		metrics.AlertsSuppressed.WithLabelValues(string(alert.Type)).Inc()
		logging.Debug().
			Str("alert_type", string(alert.Type)).
			Str("user_id", alert.UserID).
			Msg("Alert suppressed by dedup window")
		return false, nil
	}

	alert.Status = StatusPending
	if err := m.store.SaveAlert(ctx, alert); err != nil {
		return false, err
	}
	metrics.AlertsCreated.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()

	logging.Warn().
		Str("alert_type", string(alert.Type)).
		Str("severity", string(alert.Severity)).
		Str("user_id", alert.UserID).
		Str("ip", alert.IP).
		Int64("alert_id", alert.ID).
		Msg(alert.Title)

	m.notify(ctx, alert)
	return true, nil
}

// notify delivers to every enabled notifier. Info-level alerts stay in
// the database; only warning and critical findings page out.
func (m *AlertManager) notify(ctx context.Context, alert *Alert) {
	if alert.Severity == SeverityInfo {
		return
	}
	for _, n := range m.notifiers {
		if !n.Enabled() {
			continue
		}
		if err := n.Send(ctx, alert); err != nil {
			metrics.NotificationsSent.WithLabelValues(n.Name(), "error").Inc()
			logging.Error().Err(err).
				Str("notifier", n.Name()).
				Int64("alert_id", alert.ID).
				Msg("Failed to deliver alert notification")
			continue
		}
		metrics.NotificationsSent.WithLabelValues(n.Name(), "ok").Inc()
	}
}
