// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the pipeline tables and indexes.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// tableCreationQueries returns the table creation SQL statements.
// Alert, IP block, and geolocation tables live with detection.Store.
func tableCreationQueries() []string {
	return []string{
		// Raw activity log, append-only, pruned by the retention scheduler.
		`CREATE TABLE IF NOT EXISTS activity_events (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT,
			occurred_at TIMESTAMP NOT NULL,
			path TEXT NOT NULL,
			method TEXT NOT NULL,
			action TEXT NOT NULL,
			ip TEXT NOT NULL,
			user_agent TEXT,
			referrer TEXT,
			duration_ms BIGINT DEFAULT 0,
			login_ok BOOLEAN DEFAULT false,
			export_rows BIGINT DEFAULT 0
		)`,

		// One row per session, last-write-wins fields plus an activity
		// counter, upserted per batch.
		`CREATE TABLE IF NOT EXISTS session_rollups (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			last_path TEXT,
			device_kind TEXT,
			last_seen_at TIMESTAMP NOT NULL,
			activity_count BIGINT DEFAULT 0
		)`,

		// At most one row per calendar date, insert-if-absent.
		`CREATE TABLE IF NOT EXISTS daily_summaries (
			summary_date DATE PRIMARY KEY,
			unique_users BIGINT NOT NULL,
			total_sessions BIGINT NOT NULL,
			total_page_views BIGINT NOT NULL,
			total_api_calls BIGINT NOT NULL,
			top_pages JSON,
			user_distribution JSON,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// String-keyed runtime settings, polled by the settings poller.
		`CREATE TABLE IF NOT EXISTS monitor_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activity_occurred_at ON activity_events(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_session ON activity_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_user ON activity_events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rollups_last_seen ON session_rollups(last_seen_at)`,
	}
}
