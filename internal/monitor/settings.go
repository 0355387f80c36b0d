// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package monitor

import (
	"context"
	"strconv"
	"time"

	"github.com/tomtom215/vigil/internal/database"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
)

// SettingsPoller re-reads the monitor_settings table on an interval and
// applies runtime overrides: the ingestion toggle on the tracker and
// detector thresholds on the detection service. A database row wins
// over the static config once present, so operators can pause ingestion
// or tighten thresholds without a restart.
type SettingsPoller struct {
	db        *database.DB
	tracker   *Tracker
	detection *detection.Service
	interval  time.Duration
}

// NewSettingsPoller creates the poller.
func NewSettingsPoller(db *database.DB, tracker *Tracker, det *detection.Service, interval time.Duration) *SettingsPoller {
	return &SettingsPoller{db: db, tracker: tracker, detection: det, interval: interval}
}

// Serve applies settings once at startup and then on every tick until
// the context is canceled. Read errors keep the last applied state.
func (p *SettingsPoller) Serve(ctx context.Context) error {
	p.apply(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.apply(ctx)
		}
	}
}

func (p *SettingsPoller) apply(ctx context.Context) {
	current := strconv.FormatBool(p.tracker.Enabled())
	value, err := p.db.GetSetting(ctx, database.SettingMonitorEnabled, current)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to read monitor settings, keeping current state")
		return
	}

	enabled, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn().Str("value", value).Msg("Invalid monitor_enabled setting, ignoring")
		return
	}
	p.tracker.SetEnabled(enabled)

	p.applyThreshold(ctx, database.SettingBruteForceMaxAttempts, p.detection.SetBruteForceMaxAttempts)
	p.applyThreshold(ctx, database.SettingDataExportMaxExports, p.detection.SetDataExportMaxExports)
}

// applyThreshold reads one numeric override and forwards it. A missing
// row leaves the configured value in place; a malformed one is logged
// and skipped.
func (p *SettingsPoller) applyThreshold(ctx context.Context, key string, set func(int)) {
	value, err := p.db.GetSetting(ctx, key, "")
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("Failed to read threshold setting")
		return
	}
	if value == "" {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		logging.Warn().Str("key", key).Str("value", value).Msg("Invalid threshold setting, ignoring")
		return
	}
	set(n)
}

// String names the poller for the supervision tree.
func (p *SettingsPoller) String() string {
	return "settings-poller"
}
