// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/models"
)

const topPagesLimit = 10

// SummaryExists reports whether a daily summary row already exists for
// the given calendar date.
func (db *DB) SummaryExists(ctx context.Context, date time.Time) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM daily_summaries WHERE summary_date = ?)`,
		date.Format("2006-01-02")).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check summary existence: %w", err)
	}
	return exists, nil
}

// ComputeDailySummary aggregates activity for the calendar day containing
// date (in date's location) from the raw activity rows.
func (db *DB) ComputeDailySummary(ctx context.Context, date time.Time) (*models.DailySummary, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	summary := &models.DailySummary{Date: dayStart}

	err := db.conn.QueryRowContext(ctx, `SELECT
			COUNT(DISTINCT user_id),
			COUNT(DISTINCT session_id),
			COUNT(*) FILTER (WHERE action = 'page_view'),
			COUNT(*) FILTER (WHERE action = 'api_call')
		FROM activity_events
		WHERE occurred_at >= ? AND occurred_at < ?`, dayStart, dayEnd).
		Scan(&summary.UniqueUsers, &summary.TotalSessions,
			&summary.TotalPageViews, &summary.TotalAPICalls)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily counts: %w", err)
	}

	topPages, err := db.topPagesJSON(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	summary.TopPages = topPages

	dist, err := db.userDistributionJSON(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	summary.UserDistribution = dist

	return summary, nil
}

func (db *DB) topPagesJSON(ctx context.Context, from, to time.Time) ([]byte, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, COUNT(*) AS hits
		FROM activity_events
		WHERE occurred_at >= ? AND occurred_at < ? AND action = 'page_view'
		GROUP BY path ORDER BY hits DESC, path LIMIT ?`, from, to, topPagesLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer closeWithLog(rows, "top pages rows")

	type pageHits struct {
		Path string `json:"path"`
		Hits int64  `json:"hits"`
	}
	pages := make([]pageHits, 0, topPagesLimit)
	for rows.Next() {
		var p pageHits
		if err := rows.Scan(&p.Path, &p.Hits); err != nil {
			return nil, fmt.Errorf("failed to scan top page row: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate top pages: %w", err)
	}
	return json.Marshal(pages)
}

func (db *DB) userDistributionJSON(ctx context.Context, from, to time.Time) ([]byte, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT COALESCE(NULLIF(role, ''), 'unknown'), COUNT(DISTINCT user_id)
		FROM activity_events
		WHERE occurred_at >= ? AND occurred_at < ?
		GROUP BY 1`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query user distribution: %w", err)
	}
	defer closeWithLog(rows, "user distribution rows")

	dist := make(map[string]int64)
	for rows.Next() {
		var role string
		var count int64
		if err := rows.Scan(&role, &count); err != nil {
			return nil, fmt.Errorf("failed to scan distribution row: %w", err)
		}
		dist[role] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user distribution: %w", err)
	}
	return json.Marshal(dist)
}

// InsertDailySummary stores a computed summary, skipping silently when a
// row for the date already exists. Repeated runs for the same date are
// therefore idempotent.
func (db *DB) InsertDailySummary(ctx context.Context, s *models.DailySummary) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO daily_summaries
		(summary_date, unique_users, total_sessions, total_page_views, total_api_calls, top_pages, user_distribution)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (summary_date) DO NOTHING`,
		s.Date.Format("2006-01-02"), s.UniqueUsers, s.TotalSessions,
		s.TotalPageViews, s.TotalAPICalls, jsonOrNull(s.TopPages), jsonOrNull(s.UserDistribution))
	if err != nil {
		return fmt.Errorf("failed to insert daily summary: %w", err)
	}
	return nil
}

// jsonOrNull binds a raw JSON value as bytes, or as SQL NULL when it is
// empty: an empty string is not valid JSON and fails DuckDB's cast.
func jsonOrNull(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// remarshalJSON converts a scanned DuckDB JSON value back to raw bytes.
// Depending on driver version JSON columns come back as text or as
// decoded Go values.
func remarshalJSON(v interface{}) json.RawMessage {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return json.RawMessage(val)
	case []byte:
		return json.RawMessage(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return b
	}
}

// GetDailySummary returns the summary for a date, or (nil, nil) when no
// row exists.
func (db *DB) GetDailySummary(ctx context.Context, date time.Time) (*models.DailySummary, error) {
	s := &models.DailySummary{}
	var topPages, dist interface{}
	err := db.conn.QueryRowContext(ctx, `SELECT summary_date, unique_users, total_sessions,
			total_page_views, total_api_calls, top_pages, user_distribution
		FROM daily_summaries WHERE summary_date = ?`, date.Format("2006-01-02")).
		Scan(&s.Date, &s.UniqueUsers, &s.TotalSessions, &s.TotalPageViews,
			&s.TotalAPICalls, &topPages, &dist)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load daily summary: %w", err)
	}
	s.TopPages = remarshalJSON(topPages)
	s.UserDistribution = remarshalJSON(dist)
	return s, nil
}

// ListDailySummaries returns the most recent summaries, newest first.
func (db *DB) ListDailySummaries(ctx context.Context, limit int) ([]models.DailySummary, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT summary_date, unique_users, total_sessions,
			total_page_views, total_api_calls, top_pages, user_distribution
		FROM daily_summaries ORDER BY summary_date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily summaries: %w", err)
	}
	defer closeWithLog(rows, "daily summary rows")

	var out []models.DailySummary
	for rows.Next() {
		var s models.DailySummary
		var topPages, dist interface{}
		if err := rows.Scan(&s.Date, &s.UniqueUsers, &s.TotalSessions,
			&s.TotalPageViews, &s.TotalAPICalls, &topPages, &dist); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		s.TopPages = remarshalJSON(topPages)
		s.UserDistribution = remarshalJSON(dist)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return out, nil
}
