// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/vigil/internal/models"
)

// PersistBatch writes a drained batch in one transaction: raw activity
// inserts plus one session-rollup upsert per distinct session. The caller
// drops the batch if this returns an error; there is no retry store.
func (db *DB) PersistBatch(ctx context.Context, events []models.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := insertActivityRows(ctx, tx, events); err != nil {
		return err
	}
	if err := upsertSessionRollups(ctx, tx, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func insertActivityRows(ctx context.Context, tx *sql.Tx, events []models.ActivityEvent) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO activity_events
		(id, session_id, user_id, role, occurred_at, path, method, action, ip, user_agent, referrer, duration_ms, login_ok, export_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare activity insert: %w", err)
	}
	defer closeWithLog(stmt, "activity insert statement")

	for i := range events {
		e := &events[i]
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.SessionID, e.UserID, e.Role, e.Timestamp, e.Path, e.Method,
			string(e.Action), e.IP, e.UserAgent, e.Referrer, e.DurationMs,
			e.LoginOK, e.ExportRows,
		); err != nil {
			return fmt.Errorf("failed to insert activity event %s: %w", e.ID, err)
		}
	}
	return nil
}

// upsertSessionRollups folds the batch into one row per distinct session:
// last-write-wins on path/device/timestamp, counter incremented by the
// number of events seen for that session.
func upsertSessionRollups(ctx context.Context, tx *sql.Tx, events []models.ActivityEvent) error {
	type rollup struct {
		userID     string
		lastPath   string
		deviceKind string
		lastSeen   time.Time
		count      int64
	}

	// Events within a batch are FIFO, so the last event per session wins.
	rollups := make(map[string]*rollup)
	for i := range events {
		e := &events[i]
		r, ok := rollups[e.SessionID]
		if !ok {
			r = &rollup{}
			rollups[e.SessionID] = r
		}
		r.userID = e.UserID
		r.lastPath = e.Path
		r.deviceKind = models.DeviceKindFromUserAgent(e.UserAgent)
		r.lastSeen = e.Timestamp
		r.count++
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO session_rollups
		(session_id, user_id, last_path, device_kind, last_seen_at, activity_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = excluded.user_id,
			last_path = excluded.last_path,
			device_kind = excluded.device_kind,
			last_seen_at = CASE
				WHEN excluded.last_seen_at > session_rollups.last_seen_at
				THEN excluded.last_seen_at
				ELSE session_rollups.last_seen_at
			END,
			activity_count = session_rollups.activity_count + excluded.activity_count`)
	if err != nil {
		return fmt.Errorf("failed to prepare rollup upsert: %w", err)
	}
	defer closeWithLog(stmt, "rollup upsert statement")

	for sessionID, r := range rollups {
		if _, err := stmt.ExecContext(ctx,
			sessionID, r.userID, r.lastPath, r.deviceKind, r.lastSeen, r.count,
		); err != nil {
			return fmt.Errorf("failed to upsert rollup for session %s: %w", sessionID, err)
		}
	}
	return nil
}

// CountActivityEvents returns the number of persisted activity rows.
func (db *DB) CountActivityEvents(ctx context.Context) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity events: %w", err)
	}
	return n, nil
}

// DeleteActivityBefore removes up to limit activity rows older than cutoff
// and reports how many were deleted. Callers loop with pauses between
// batches so long-running deletes do not hold locks.
func (db *DB) DeleteActivityBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM activity_events WHERE id IN (
		SELECT id FROM activity_events WHERE occurred_at < ? LIMIT ?
	)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete activity rows: %w", err)
	}
	return res.RowsAffected()
}

// DeleteSessionsBefore removes session rollups whose last activity is
// older than cutoff, returning the number removed.
func (db *DB) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM session_rollups WHERE last_seen_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
