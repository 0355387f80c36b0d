// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/cache"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// BruteForceDetector watches failed logins in two sliding windows: per
// source IP (drives the lockout) and per target account (drives the
// distributed-attack escalation). A successful login clears both the
// IP's and the account's failure history.
type BruteForceDetector struct {
	cfg    config.BruteForceConfig
	blocks BlockStore

	// maxAttempts is the lockout threshold, adjustable at runtime by
	// the settings poller.
	maxAttempts atomic.Int32

	ipFailures   *cache.WindowLog // key: source IP, tag: target user
	userFailures *cache.WindowLog // key: target user, tag: source IP
}

// NewBruteForceDetector creates the failed-login detector.
func NewBruteForceDetector(cfg config.BruteForceConfig, blocks BlockStore) *BruteForceDetector {
	d := &BruteForceDetector{
		cfg:          cfg,
		blocks:       blocks,
		ipFailures:   cache.NewWindowLog(cfg.Window),
		userFailures: cache.NewWindowLog(cfg.Window),
	}
	d.maxAttempts.Store(int32(cfg.MaxFailedAttempts))
	return d
}

// SetMaxFailedAttempts adjusts the lockout threshold. Values below one
// are ignored.
func (d *BruteForceDetector) SetMaxFailedAttempts(n int) {
	if n >= 1 {
		d.maxAttempts.Store(int32(n))
	}
}

// Type returns the alert type this detector handles.
func (d *BruteForceDetector) Type() AlertType {
	return AlertTypeBruteForce
}

// Check processes a login attempt. Failed attempts accumulate; at
// AlertThreshold a warning alert fires, at the lockout threshold the IP
// is blocked for the lockout duration with a critical alert. When one
// account draws failures from DistributedMinIPs distinct sources, the
// alert escalates to a distributed-attack finding. The lockout is
// evaluated on every failure: a distributed attack changes which alert
// fires, never whether an offending IP gets blocked.
func (d *BruteForceDetector) Check(ctx context.Context, event *models.ActivityEvent) (*Alert, error) {
	if event.Action != models.ActionLoginAttempt {
		return nil, nil
	}

	if event.LoginOK {
		d.ipFailures.Clear(event.IP)
		d.userFailures.Clear(event.UserID)
		return nil, nil
	}

	now := event.Timestamp
	ipCount := d.ipFailures.Append(event.IP, cache.Entry{At: now, Tag: event.UserID})
	d.userFailures.Append(event.UserID, cache.Entry{At: now, Tag: event.IP})

	lockout := ipCount >= int(d.maxAttempts.Load())
	blocked := false
	if lockout {
		blocked = d.issueBlock(ctx, event, ipCount)
	}

	sourceIPs := uniqueTags(d.userFailures.Entries(event.UserID, now))
	switch {
	case len(sourceIPs) >= d.cfg.DistributedMinIPs:
		return d.distributedAlert(event, sourceIPs), nil
	case lockout:
		return d.lockoutAlert(event, ipCount, blocked), nil
	case ipCount >= d.cfg.AlertThreshold:
		return d.thresholdAlert(event, ipCount), nil
	}
	return nil, nil
}

// issueBlock persists the temporary IP block, reporting success. An
// insert failure is logged and swallowed: losing the block must not
// also lose the alert.
func (d *BruteForceDetector) issueBlock(ctx context.Context, event *models.ActivityEvent, count int) bool {
	block := &models.IPBlock{
		IP:        event.IP,
		BlockedAt: event.Timestamp,
		ExpiresAt: event.Timestamp.Add(d.cfg.Lockout),
		Reason:    fmt.Sprintf("%d failed login attempts within %s", count, d.cfg.Window),
	}
	if err := d.blocks.InsertIPBlock(ctx, block); err != nil {
		logging.Error().Err(err).Str("ip", event.IP).Msg("Failed to insert IP block")
		return false
	}
	metrics.IPBlocksIssued.Inc()
	// The window restarts after a block so the lockout is not re-issued
	// on every subsequent failure.
	d.ipFailures.Clear(event.IP)
	return true
}

func (d *BruteForceDetector) lockoutAlert(event *models.ActivityEvent, count int, blocked bool) *Alert {
	details, _ := json.Marshal(BruteForceDetails{
		IP:             event.IP,
		FailedAttempts: count,
		WindowMinutes:  d.cfg.Window.Minutes(),
		Blocked:        blocked,
	})
	return &Alert{
		Type:     AlertTypeBruteForce,
		UserID:   event.UserID,
		IP:       event.IP,
		Severity: SeverityCritical,
		Title:    "Brute force lockout",
		Message: fmt.Sprintf("IP %s blocked for %s after %d failed login attempts",
			event.IP, d.cfg.Lockout, count),
		Details:   details,
		CreatedAt: event.Timestamp,
	}
}

func (d *BruteForceDetector) thresholdAlert(event *models.ActivityEvent, count int) *Alert {
	details, _ := json.Marshal(BruteForceDetails{
		IP:             event.IP,
		FailedAttempts: count,
		WindowMinutes:  d.cfg.Window.Minutes(),
	})
	return &Alert{
		Type:     AlertTypeBruteForce,
		UserID:   event.UserID,
		IP:       event.IP,
		Severity: SeverityWarning,
		Title:    "Repeated failed logins",
		Message: fmt.Sprintf("IP %s has %d failed login attempts within %s",
			event.IP, count, d.cfg.Window),
		Details:   details,
		CreatedAt: event.Timestamp,
	}
}

func (d *BruteForceDetector) distributedAlert(event *models.ActivityEvent, sourceIPs []string) *Alert {
	details, _ := json.Marshal(BruteForceDetails{
		IP:             event.IP,
		FailedAttempts: len(sourceIPs),
		WindowMinutes:  d.cfg.Window.Minutes(),
		SourceIPs:      sourceIPs,
	})
	return &Alert{
		Type:     AlertTypeDistributedAttack,
		UserID:   event.UserID,
		IP:       event.IP,
		Severity: SeverityCritical,
		Title:    "Distributed login attack",
		Message: fmt.Sprintf("Account %s has failed logins from %d distinct IPs within %s",
			event.UserID, len(sourceIPs), d.cfg.Window),
		Details:   details,
		CreatedAt: event.Timestamp,
	}
}

// Sweep prunes idle window keys and returns the number removed.
func (d *BruteForceDetector) Sweep(now time.Time) int {
	return d.ipFailures.Sweep(now) + d.userFailures.Sweep(now)
}

// AttackingIPs returns the distinct source IPs with in-window failures
// against any account. Exposed for the sweep log line.
func (d *BruteForceDetector) AttackingIPs(now time.Time) []string {
	return d.userFailures.UniqueTags(now)
}

func uniqueTags(entries []cache.Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Tag]; ok {
			continue
		}
		seen[e.Tag] = struct{}{}
		tags = append(tags, e.Tag)
	}
	return tags
}
