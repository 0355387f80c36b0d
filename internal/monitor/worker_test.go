// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package monitor

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

func newWorkerFixture(t *testing.T) (*Worker, *Queue, *database.DB) {
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
	det := detection.NewService(config.DetectionConfig{
		BruteForce: config.BruteForceConfig{
			Window:            15 * time.Minute,
			MaxFailedAttempts: 5,
			AlertThreshold:    3,
			Lockout:           30 * time.Minute,
			DistributedMinIPs: 3,
		},
		DataExport: config.DataExportConfig{
			Window:        time.Hour,
			MaxExports:    10,
			MaxTotalRows:  10000,
			MaxSingleRows: 5000,
		},
		GeoAnomaly: config.GeoAnomalyConfig{
			MaxSpeedKmH:   900,
			MinDistanceKm: 100,
			MaxGap:        12 * time.Hour,
		},
		SensitiveAccess: config.SensitiveAccessConfig{
			BusinessHoursStart: 7,
			BusinessHoursEnd:   20,
		},
		SweepInterval: 5 * time.Minute,
	}, store, detection.NewAlertManager(store, nil))

	queue := NewQueue(64)
	worker := NewWorker(10, 50*time.Millisecond, 10*time.Millisecond, queue, db, det)
	return worker, queue, db
}

func workerEvent(id uuid.UUID, at time.Time) models.ActivityEvent {
	return models.ActivityEvent{
		ID:        id,
		SessionID: "s1",
		UserID:    "u1",
		Role:      "cashier",
		Timestamp: at,
		Path:      "/dashboard",
		Method:    "GET",
		Action:    models.ActionPageView,
		IP:        "10.0.0.1",
	}
}

func TestWorkerProcessPersists(t *testing.T) {
	worker, _, db := newWorkerFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	batch := []models.ActivityEvent{
		workerEvent(uuid.New(), base),
		workerEvent(uuid.New(), base.Add(time.Second)),
	}
	worker.process(context.Background(), batch)

	n, err := db.CountActivityEvents(context.Background())
	if err != nil {
		t.Fatalf("CountActivityEvents failed: %v", err)
	}
	if n != 2 {
		t.Errorf("persisted rows = %d, want 2", n)
	}
}

func TestWorkerProcessDropsFailedBatch(t *testing.T) {
	worker, _, db := newWorkerFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// A duplicate primary key fails the transaction; the whole batch is
	// rolled back and dropped, not partially applied.
	id := uuid.New()
	batch := []models.ActivityEvent{
		workerEvent(id, base),
		workerEvent(id, base.Add(time.Second)),
	}
	worker.process(context.Background(), batch)

	n, err := db.CountActivityEvents(context.Background())
	if err != nil {
		t.Fatalf("CountActivityEvents failed: %v", err)
	}
	if n != 0 {
		t.Errorf("persisted rows = %d, want 0 after failed batch", n)
	}
}

func TestWorkerServeDrainsQueue(t *testing.T) {
	worker, queue, db := newWorkerFixture(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !queue.TryEnqueue(workerEvent(uuid.New(), base.Add(time.Duration(i)*time.Second))) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := db.CountActivityEvents(context.Background()); n == 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancellation")
	}

	n, _ := db.CountActivityEvents(context.Background())
	if n != 3 {
		t.Errorf("persisted rows = %d, want 3", n)
	}
	if queue.Len() != 0 {
		t.Errorf("queue depth = %d, want 0", queue.Len())
	}
}
