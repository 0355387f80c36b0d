// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package retention

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/database"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/models"
)

func newSchedulerFixture(t *testing.T, now time.Time) (*Scheduler, *database.DB, *detection.Store) {
	t.Helper()

	db, err := database.NewInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := detection.NewStore(db.Conn())
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init detection schema: %v", err)
	}

	s := NewScheduler(config.RetentionConfig{
		Interval:          time.Hour,
		ActivityRetention: 90 * 24 * time.Hour,
		AlertRetention:    30 * 24 * time.Hour,
		SessionExpiry:     24 * time.Hour,
		DeleteBatchSize:   100,
		DeletePause:       time.Millisecond,
	}, db, store)
	s.now = func() time.Time { return now }
	return s, db, store
}

func retentionEvent(userID, path string, at time.Time) models.ActivityEvent {
	return models.ActivityEvent{
		ID:        uuid.New(),
		SessionID: "s-" + userID,
		UserID:    userID,
		Role:      "cashier",
		Timestamp: at,
		Path:      path,
		Method:    "GET",
		Action:    models.ActionPageView,
		IP:        "10.0.0.1",
	}
}

func TestSchedulerPrunesOldData(t *testing.T) {
	now := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	s, db, store := newSchedulerFixture(t, now)
	ctx := context.Background()

	if err := db.PersistBatch(ctx, []models.ActivityEvent{
		retentionEvent("u-old", "/dashboard", now.Add(-100*24*time.Hour)),
		retentionEvent("u-new", "/dashboard", now.Add(-time.Hour)),
	}); err != nil {
		t.Fatalf("PersistBatch failed: %v", err)
	}

	oldAlert := &detection.Alert{
		Type:      detection.AlertTypeBruteForce,
		UserID:    "u-old",
		Severity:  detection.SeverityWarning,
		Title:     "old alert",
		Message:   "old",
		CreatedAt: now.Add(-40 * 24 * time.Hour),
	}
	if err := store.SaveAlert(ctx, oldAlert); err != nil {
		t.Fatalf("SaveAlert failed: %v", err)
	}
	if err := store.UpdateAlertStatus(ctx, oldAlert.ID, detection.StatusDismissed, "ops"); err != nil {
		t.Fatalf("dismiss failed: %v", err)
	}

	s.RunOnce(ctx)

	n, err := db.CountActivityEvents(ctx)
	if err != nil {
		t.Fatalf("CountActivityEvents failed: %v", err)
	}
	if n != 1 {
		t.Errorf("activity rows = %d, want 1", n)
	}

	if a, err := store.GetAlert(ctx, oldAlert.ID); err != nil || a != nil {
		t.Errorf("old dismissed alert survived: (%v, %v)", a, err)
	}

	// Only the recent session survives the expiry step.
	var sessions int64
	if err := db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM session_rollups`).Scan(&sessions); err != nil {
		t.Fatalf("failed to count sessions: %v", err)
	}
	if sessions != 1 {
		t.Errorf("session rollups = %d, want 1", sessions)
	}
}

func TestSchedulerDailySummaryIdempotent(t *testing.T) {
	now := time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC)
	s, db, _ := newSchedulerFixture(t, now)
	ctx := context.Background()

	// Activity on 2026-08-01, summarized when the pass runs on the 2nd.
	if err := db.PersistBatch(ctx, []models.ActivityEvent{
		retentionEvent("u1", "/dashboard", time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)),
		retentionEvent("u2", "/reports", time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)),
	}); err != nil {
		t.Fatalf("PersistBatch failed: %v", err)
	}

	s.RunOnce(ctx)
	s.RunOnce(ctx)

	yesterday := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	summary, err := db.GetDailySummary(ctx, yesterday)
	if err != nil {
		t.Fatalf("GetDailySummary failed: %v", err)
	}
	if summary == nil {
		t.Fatal("no summary written for yesterday")
	}
	if summary.UniqueUsers != 2 || summary.TotalPageViews != 2 {
		t.Errorf("summary = %+v, want 2 users / 2 page views", summary)
	}

	list, err := db.ListDailySummaries(ctx, 10)
	if err != nil {
		t.Fatalf("ListDailySummaries failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("summaries = %d, want exactly 1 after two passes", len(list))
	}
}
