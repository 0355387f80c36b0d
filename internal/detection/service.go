// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package detection implements the threat detectors, their shared alert
// pipeline, and the DuckDB store for alerts, IP blocks, and cached
// geolocations.
//
// Detectors are evaluated after persistence, off the request path. A
// detector error is counted and logged but never stops the remaining
// detectors or the batch worker.
package detection

import (
	"context"
	"time"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// sweeper is implemented by detectors holding in-memory window state.
type sweeper interface {
	Sweep(now time.Time) int
}

// Service wires the detectors to the alert manager and runs the
// periodic sweep of idle in-memory window state.
type Service struct {
	cfg        config.DetectionConfig
	store      *Store
	alerts     *AlertManager
	bruteForce *BruteForceDetector
	dataExport *DataExportDetector
	privilege  *PrivilegeEscalationDetector
	geo        *GeoAnomalyDetector
	sensitive  *SensitiveAccessDetector
	detectors  []Detector
	sweepers   []sweeper
}

// NewService builds the detector set from configuration.
func NewService(cfg config.DetectionConfig, store *Store, alerts *AlertManager) *Service {
	bruteForce := NewBruteForceDetector(cfg.BruteForce, store)
	dataExport := NewDataExportDetector(cfg.DataExport)
	privilege := NewPrivilegeEscalationDetector(cfg.PrivilegeEscal)
	geo := NewGeoAnomalyDetector(cfg.GeoAnomaly, store)
	sensitive := NewSensitiveAccessDetector(cfg.SensitiveAccess)

	return &Service{
		cfg:        cfg,
		store:      store,
		alerts:     alerts,
		bruteForce: bruteForce,
		dataExport: dataExport,
		privilege:  privilege,
		geo:        geo,
		sensitive:  sensitive,
		detectors:  []Detector{bruteForce, dataExport, privilege, geo, sensitive},
		sweepers:   []sweeper{bruteForce, dataExport, geo},
	}
}

// Store exposes the detection store for the ops API handlers.
func (s *Service) Store() *Store {
	return s.store
}

// Evaluate runs every detector against one persisted event. Detector
// errors and alert-storage errors are isolated per detector so one
// failure never hides another detector's finding.
func (s *Service) Evaluate(ctx context.Context, event *models.ActivityEvent) {
	for _, d := range s.detectors {
		if _, _, err := s.checkOne(ctx, d, event); err != nil {
			logging.Error().Err(err).
				Str("detector", string(d.Type())).
				Str("user_id", event.UserID).
				Msg("Detector check failed")
		}
	}
}

// checkOne runs a single detector and raises its finding through the
// alert pipeline. flagged reports whether the detector found the event
// suspicious; the returned alert is non-nil only when it was stored,
// so a dedup suppression yields (true, nil, nil).
func (s *Service) checkOne(ctx context.Context, d Detector, event *models.ActivityEvent) (bool, *Alert, error) {
	name := string(d.Type())
	metrics.DetectorChecks.WithLabelValues(name).Inc()

	alert, err := d.Check(ctx, event)
	if err != nil {
		metrics.DetectorErrors.WithLabelValues(name).Inc()
		return false, nil, err
	}
	if alert == nil {
		return false, nil, nil
	}
	metrics.DetectorFlags.WithLabelValues(name).Inc()

	stored, err := s.alerts.Raise(ctx, alert)
	if err != nil {
		metrics.DetectorErrors.WithLabelValues(name).Inc()
		return true, nil, err
	}
	if !stored {
		return true, nil, nil
	}
	return true, alert, nil
}

// CheckBruteForce evaluates one login attempt directly, outside the
// batch path. The finding flows through the same dedup, persistence,
// and notification pipeline as batched evaluation.
func (s *Service) CheckBruteForce(ctx context.Context, event *models.ActivityEvent) (bool, *Alert, error) {
	return s.checkOne(ctx, s.bruteForce, event)
}

// CheckDataExport evaluates one export event directly.
func (s *Service) CheckDataExport(ctx context.Context, event *models.ActivityEvent) (bool, *Alert, error) {
	return s.checkOne(ctx, s.dataExport, event)
}

// CheckPrivilegeEscalation evaluates one admin operation directly.
func (s *Service) CheckPrivilegeEscalation(ctx context.Context, event *models.ActivityEvent) (bool, *Alert, error) {
	return s.checkOne(ctx, s.privilege, event)
}

// CheckGeographicAnomaly evaluates one successful login's location
// directly.
func (s *Service) CheckGeographicAnomaly(ctx context.Context, event *models.ActivityEvent) (bool, *Alert, error) {
	return s.checkOne(ctx, s.geo, event)
}

// CheckSensitiveDataAccess evaluates one sensitive-path access directly.
func (s *Service) CheckSensitiveDataAccess(ctx context.Context, event *models.ActivityEvent) (bool, *Alert, error) {
	return s.checkOne(ctx, s.sensitive, event)
}

// SetBruteForceMaxAttempts adjusts the lockout threshold at runtime.
// Applied by the settings poller.
func (s *Service) SetBruteForceMaxAttempts(n int) {
	s.bruteForce.SetMaxFailedAttempts(n)
}

// SetDataExportMaxExports adjusts the export count threshold at runtime.
// Applied by the settings poller.
func (s *Service) SetDataExportMaxExports(n int) {
	s.dataExport.SetMaxExports(n)
}

// IsIPBlocked is consulted at admission time. Lookup errors fail open:
// an unreachable store must not lock every user out.
func (s *Service) IsIPBlocked(ctx context.Context, ip string, now time.Time) bool {
	blocked, err := s.store.IsIPBlocked(ctx, ip, now)
	if err != nil {
		logging.Error().Err(err).Str("ip", ip).Msg("IP block lookup failed")
		return false
	}
	return blocked
}

// RunSweeps prunes idle detector state on the configured interval until
// the context is canceled.
func (s *Service) RunSweeps(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			removed := 0
			for _, sw := range s.sweepers {
				removed += sw.Sweep(now)
			}
			attackers := s.bruteForce.AttackingIPs(now)
			logging.Debug().
				Int("keys_removed", removed).
				Int("attacking_ips", len(attackers)).
				Msg("Detector state sweep complete")
		}
	}
}
