// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package retention implements the periodic maintenance pass: pruning
// old activity rows and alerts in bounded, paced batches, expiring
// stale session rollups, and writing the once-per-date daily summary.
package retention

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/database"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
)

// Scheduler runs the retention steps on a fixed interval. Steps are
// fault isolated: one failing step is counted and logged, the rest of
// the run continues.
type Scheduler struct {
	cfg     config.RetentionConfig
	db      *database.DB
	store   *detection.Store
	limiter *rate.Limiter

	// now is replaceable in tests.
	now func() time.Time
}

// NewScheduler creates a retention scheduler.
func NewScheduler(cfg config.RetentionConfig, db *database.DB, store *detection.Store) *Scheduler {
	// One delete batch per pause interval, no bursting past two.
	return &Scheduler{
		cfg:     cfg,
		db:      db,
		store:   store,
		limiter: rate.NewLimiter(rate.Every(cfg.DeletePause), 2),
		now:     time.Now,
	}
}

// Serve runs one pass immediately, then on every interval tick until
// the context is canceled.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes all retention steps in order.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := s.now()
	logging.Debug().Msg("Retention pass started")

	s.step(ctx, "activity", s.pruneActivity)
	s.step(ctx, "alerts", s.pruneAlerts)
	s.step(ctx, "sessions", s.expireSessions)
	s.step(ctx, "summary", s.writeDailySummary)

	metrics.RetentionRunDuration.Observe(time.Since(start).Seconds())
	logging.Info().Dur("elapsed", time.Since(start)).Msg("Retention pass complete")
}

// Transient store errors retry with backoff before a step is skipped.
const (
	stepAttempts   = 3
	stepRetryDelay = 250 * time.Millisecond
)

func (s *Scheduler) step(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	if ctx.Err() != nil {
		return
	}
	var affected int64
	err := retryWithBackoff(ctx, stepAttempts, stepRetryDelay, func(ctx context.Context) error {
		n, err := fn(ctx)
		affected += n
		return err
	})
	if err != nil {
		metrics.RetentionStepErrors.WithLabelValues(name).Inc()
		logging.Error().Err(err).Str("step", name).Msg("Retention step failed")
		return
	}
	if affected > 0 {
		metrics.RetentionDeleted.WithLabelValues(name).Add(float64(affected))
		logging.Debug().Str("step", name).Int64("affected", affected).Msg("Retention step complete")
	}
}

// pruneActivity deletes activity rows past retention in bounded batches,
// pacing between batches so the delete never monopolizes the database.
func (s *Scheduler) pruneActivity(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.ActivityRetention)
	var total int64
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return total, err
		}
		n, err := s.db.DeleteActivityBefore(ctx, cutoff, s.cfg.DeleteBatchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(s.cfg.DeleteBatchSize) {
			return total, nil
		}
	}
}

// pruneAlerts deletes terminal alerts past retention, then expired IP
// block history older than the same cutoff.
func (s *Scheduler) pruneAlerts(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.AlertRetention)
	var total int64
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return total, err
		}
		n, err := s.store.DeleteAlertsBefore(ctx, cutoff, s.cfg.DeleteBatchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(s.cfg.DeleteBatchSize) {
			break
		}
	}

	n, err := s.store.DeleteExpiredBlocksBefore(ctx, cutoff)
	return total + n, err
}

func (s *Scheduler) expireSessions(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.SessionExpiry)
	return s.db.DeleteSessionsBefore(ctx, cutoff)
}

// writeDailySummary computes yesterday's summary and inserts it if no
// row exists yet. The existence check skips the aggregation on repeat
// runs within the same day; the insert itself is conflict-free either
// way, so a race between two passes is harmless.
func (s *Scheduler) writeDailySummary(ctx context.Context) (int64, error) {
	yesterday := s.now().UTC().AddDate(0, 0, -1)

	exists, err := s.db.SummaryExists(ctx, yesterday)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}

	summary, err := s.db.ComputeDailySummary(ctx, yesterday)
	if err != nil {
		return 0, err
	}
	if err := s.db.InsertDailySummary(ctx, summary); err != nil {
		return 0, err
	}
	logging.Info().
		Str("date", summary.Date.Format("2006-01-02")).
		Int64("unique_users", summary.UniqueUsers).
		Int64("total_sessions", summary.TotalSessions).
		Msg("Daily summary written")
	return 1, nil
}

// String names the scheduler for the supervision tree.
func (s *Scheduler) String() string {
	return "retention-scheduler"
}
