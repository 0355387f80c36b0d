// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package database

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/models"
)

func TestComputeDailySummary(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	apiCall := activityEvent("s2", "u2", "/api/v1/sales", day.Add(10*time.Hour))
	apiCall.Action = models.ActionAPICall
	apiCall.Role = "supervisor"
	nextDay := activityEvent("s3", "u3", "/dashboard", day.Add(25*time.Hour))

	if err := db.PersistBatch(ctx, []models.ActivityEvent{
		activityEvent("s1", "u1", "/dashboard", day.Add(9*time.Hour)),
		activityEvent("s1", "u1", "/dashboard", day.Add(9*time.Hour+time.Minute)),
		activityEvent("s1", "u1", "/reports", day.Add(9*time.Hour+2*time.Minute)),
		apiCall,
		nextDay,
	}); err != nil {
		t.Fatalf("PersistBatch failed: %v", err)
	}

	s, err := db.ComputeDailySummary(ctx, day)
	if err != nil {
		t.Fatalf("ComputeDailySummary failed: %v", err)
	}
	if s.UniqueUsers != 2 || s.TotalSessions != 2 {
		t.Errorf("users=%d sessions=%d, want 2/2", s.UniqueUsers, s.TotalSessions)
	}
	if s.TotalPageViews != 3 || s.TotalAPICalls != 1 {
		t.Errorf("page_views=%d api_calls=%d, want 3/1", s.TotalPageViews, s.TotalAPICalls)
	}

	var pages []struct {
		Path string `json:"path"`
		Hits int64  `json:"hits"`
	}
	if err := json.Unmarshal(s.TopPages, &pages); err != nil {
		t.Fatalf("failed to decode top pages %s: %v", s.TopPages, err)
	}
	if len(pages) != 2 || pages[0].Path != "/dashboard" || pages[0].Hits != 2 {
		t.Errorf("top pages = %+v, want /dashboard first with 2 hits", pages)
	}

	var dist map[string]int64
	if err := json.Unmarshal(s.UserDistribution, &dist); err != nil {
		t.Fatalf("failed to decode user distribution %s: %v", s.UserDistribution, err)
	}
	if dist["cashier"] != 1 || dist["supervisor"] != 1 {
		t.Errorf("user distribution = %v, want one cashier and one supervisor", dist)
	}
}

func TestDailySummaryIdempotentInsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	exists, err := db.SummaryExists(ctx, day)
	if err != nil {
		t.Fatalf("SummaryExists failed: %v", err)
	}
	if exists {
		t.Fatal("summary reported before any insert")
	}
	if s, err := db.GetDailySummary(ctx, day); err != nil || s != nil {
		t.Fatalf("GetDailySummary(missing) = (%v, %v), want (nil, nil)", s, err)
	}

	first := &models.DailySummary{
		Date:           day,
		UniqueUsers:    5,
		TotalSessions:  7,
		TotalPageViews: 40,
		TotalAPICalls:  12,
		TopPages:       json.RawMessage(`[{"path":"/dashboard","hits":20}]`),
	}
	if err := db.InsertDailySummary(ctx, first); err != nil {
		t.Fatalf("InsertDailySummary failed: %v", err)
	}

	// A second run for the same date is silently skipped.
	second := &models.DailySummary{Date: day, UniqueUsers: 99}
	if err := db.InsertDailySummary(ctx, second); err != nil {
		t.Fatalf("repeat InsertDailySummary failed: %v", err)
	}

	exists, _ = db.SummaryExists(ctx, day)
	if !exists {
		t.Error("SummaryExists false after insert")
	}

	got, err := db.GetDailySummary(ctx, day)
	if err != nil {
		t.Fatalf("GetDailySummary failed: %v", err)
	}
	if got == nil || got.UniqueUsers != 5 {
		t.Errorf("got %+v, want the first run's values", got)
	}
	if !got.Date.Equal(day) {
		t.Errorf("Date = %v, want %v", got.Date, day)
	}

	list, err := db.ListDailySummaries(ctx, 10)
	if err != nil {
		t.Fatalf("ListDailySummaries failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len(list) = %d, want 1", len(list))
	}
}
