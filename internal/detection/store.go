// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
)

// Store implements AlertStore, BlockStore, and GeoResolver on the shared
// DuckDB handle. Detection owns its own tables: alerts, ip_blocks, and
// geolocations.
type Store struct {
	db *sql.DB
}

// NewStore creates a DuckDB-backed detection store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates the detection tables if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS alerts_id_seq`,
		`CREATE SEQUENCE IF NOT EXISTS ip_blocks_id_seq`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY DEFAULT nextval('alerts_id_seq'),
			alert_type TEXT NOT NULL,
			user_id TEXT NOT NULL,
			ip TEXT,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			details JSON,
			status TEXT NOT NULL DEFAULT 'pending',
			updated_by TEXT,
			updated_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Append-only block history; only the latest row per IP is
		// consulted at admission time.
		`CREATE TABLE IF NOT EXISTS ip_blocks (
			id INTEGER PRIMARY KEY DEFAULT nextval('ip_blocks_id_seq'),
			ip TEXT NOT NULL,
			blocked_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			reason TEXT NOT NULL
		)`,

		// Location per IP, seeded by a GeoIP feed through the ops API
		// and read by the geo anomaly detector.
		`CREATE TABLE IF NOT EXISTS geolocations (
			ip TEXT PRIMARY KEY,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			city TEXT,
			country TEXT,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_alerts_user_type ON alerts(user_id, alert_type)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_ip_blocks_ip ON ip_blocks(ip, blocked_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute detection schema query: %w", err)
		}
	}

	// Force a checkpoint after creating tables to flush the WAL.
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint after detection schema initialization")
	}
	return nil
}

// SaveAlert inserts an alert, filling in the generated ID. DuckDB does
// not support LastInsertId with sequences, so RETURNING is used.
func (s *Store) SaveAlert(ctx context.Context, alert *Alert) error {
	query := `INSERT INTO alerts
		(alert_type, user_id, ip, severity, title, message, details, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	// Cast Details to []byte: the DuckDB driver rejects json.RawMessage's
	// Marshaler interface but accepts raw bytes. Empty details become
	// SQL NULL; an empty string is not valid JSON and fails the cast.
	var details interface{}
	if len(alert.Details) > 0 {
		details = []byte(alert.Details)
	}
	if alert.Status == "" {
		alert.Status = StatusPending
	}

	err := s.db.QueryRowContext(ctx, query,
		alert.Type, alert.UserID, alert.IP, alert.Severity,
		alert.Title, alert.Message, details, alert.Status, alert.CreatedAt,
	).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// HasRecentAlert reports whether any alert for (userID, alertType) was
// created at or after since. Status is deliberately ignored: an alert
// acknowledged seconds ago still suppresses a duplicate.
func (s *Store) HasRecentAlert(ctx context.Context, userID string, alertType AlertType, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(
		SELECT 1 FROM alerts WHERE user_id = ? AND alert_type = ? AND created_at >= ?
	)`, userID, alertType, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	return exists, nil
}

const alertSelectColumns = `id, alert_type, user_id, ip, severity, title, message,
	details, status, updated_by, updated_at, created_at`

func scanAlertRow(scanner interface{ Scan(dest ...interface{}) error }, alert *Alert) error {
	var ip, updatedBy sql.NullString
	var updatedAt sql.NullTime
	var details interface{} // JSON columns come back as text or decoded values

	if err := scanner.Scan(
		&alert.ID, &alert.Type, &alert.UserID, &ip, &alert.Severity,
		&alert.Title, &alert.Message, &details, &alert.Status,
		&updatedBy, &updatedAt, &alert.CreatedAt,
	); err != nil {
		return err
	}

	if ip.Valid {
		alert.IP = ip.String
	}
	if updatedBy.Valid {
		alert.UpdatedBy = updatedBy.String
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		alert.UpdatedAt = &t
	}
	switch d := details.(type) {
	case nil:
	case string:
		alert.Details = json.RawMessage(d)
	case []byte:
		alert.Details = json.RawMessage(d)
	default:
		if detailBytes, err := json.Marshal(d); err == nil {
			alert.Details = detailBytes
		}
	}
	return nil
}

// GetAlert retrieves an alert by ID, or (nil, nil) when absent.
func (s *Store) GetAlert(ctx context.Context, id int64) (*Alert, error) {
	alert := &Alert{}
	err := scanAlertRow(s.db.QueryRowContext(ctx,
		`SELECT `+alertSelectColumns+` FROM alerts WHERE id = ?`, id), alert)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return alert, nil
}

// AlertFilter narrows ListAlerts; zero values mean no filtering.
type AlertFilter struct {
	Status AlertStatus
	Type   AlertType
	UserID string
	Limit  int
}

// ListAlerts returns alerts newest first, optionally filtered.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	query := `SELECT ` + alertSelectColumns + ` FROM alerts WHERE 1=1`
	args := make([]interface{}, 0, 4)

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		query += " AND alert_type = ?"
		args = append(args, filter.Type)
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close alert rows")
		}
	}()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		if err := scanAlertRow(rows, &a); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ErrInvalidTransition is returned when an alert status change violates
// the review state machine.
var ErrInvalidTransition = errors.New("invalid alert status transition")

// ErrAlertNotFound is returned when the referenced alert does not exist.
var ErrAlertNotFound = errors.New("alert not found")

// UpdateAlertStatus moves an alert through the review state machine,
// recording who made the change.
func (s *Store) UpdateAlertStatus(ctx context.Context, id int64, next AlertStatus, updatedBy string) error {
	var current AlertStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load alert %d status: %w", id, err)
	}

	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, updated_by = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		next, updatedBy, id)
	if err != nil {
		return fmt.Errorf("failed to update alert %d status: %w", id, err)
	}
	return nil
}

// DeleteAlertsBefore removes up to limit terminal (resolved or dismissed)
// alerts created before cutoff, returning the number deleted.
func (s *Store) DeleteAlertsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id IN (
		SELECT id FROM alerts
		WHERE created_at < ? AND status IN ('resolved', 'dismissed')
		LIMIT ?
	)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old alerts: %w", err)
	}
	return res.RowsAffected()
}

// InsertIPBlock appends a block row. Blocks are never updated in place;
// re-blocking an IP inserts a new row with a later expiry.
func (s *Store) InsertIPBlock(ctx context.Context, block *models.IPBlock) error {
	err := s.db.QueryRowContext(ctx, `INSERT INTO ip_blocks (ip, blocked_at, expires_at, reason)
		VALUES (?, ?, ?, ?) RETURNING id`,
		block.IP, block.BlockedAt, block.ExpiresAt, block.Reason).Scan(&block.ID)
	if err != nil {
		return fmt.Errorf("failed to insert ip block: %w", err)
	}
	return nil
}

// IsIPBlocked reports whether the latest block for the IP is still in
// force. Older expired rows are history only.
func (s *Store) IsIPBlocked(ctx context.Context, ip string, now time.Time) (bool, error) {
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM ip_blocks
		WHERE ip = ? ORDER BY blocked_at DESC, id DESC LIMIT 1`, ip).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query ip block for %s: %w", ip, err)
	}
	return now.Before(expiresAt), nil
}

// ListActiveBlocks returns blocks whose latest row is still in force.
func (s *Store) ListActiveBlocks(ctx context.Context, now time.Time) ([]models.IPBlock, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ip, blocked_at, expires_at, reason
		FROM ip_blocks b
		WHERE expires_at > ?
		  AND id = (SELECT MAX(id) FROM ip_blocks WHERE ip = b.ip)
		ORDER BY blocked_at DESC`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active blocks: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close block rows")
		}
	}()

	var blocks []models.IPBlock
	for rows.Next() {
		var b models.IPBlock
		if err := rows.Scan(&b.ID, &b.IP, &b.BlockedAt, &b.ExpiresAt, &b.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan ip block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// DeleteExpiredBlocksBefore prunes block history rows that expired before
// cutoff, returning the number deleted.
func (s *Store) DeleteExpiredBlocksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ip_blocks WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired blocks: %w", err)
	}
	return res.RowsAffected()
}

// Resolve returns the stored location for an IP, or (nil, nil) when the
// IP has never been seen.
func (s *Store) Resolve(ctx context.Context, ip string) (*Geolocation, error) {
	loc := &Geolocation{}
	err := s.db.QueryRowContext(ctx, `SELECT ip, latitude, longitude,
			COALESCE(city, ''), COALESCE(country, ''), updated_at
		FROM geolocations WHERE ip = ?`, ip).
		Scan(&loc.IP, &loc.Latitude, &loc.Longitude, &loc.City, &loc.Country, &loc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve geolocation for %s: %w", ip, err)
	}
	return loc, nil
}

// UpsertGeolocation stores or refreshes the location for an IP. The
// timestamp is bound as a parameter: DuckDB's binder resolves
// CURRENT_TIMESTAMP inside a DO UPDATE SET clause as a column reference.
func (s *Store) UpsertGeolocation(ctx context.Context, loc *Geolocation) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO geolocations (ip, latitude, longitude, city, country, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (ip) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			city = excluded.city,
			country = excluded.country,
			updated_at = excluded.updated_at`,
		loc.IP, loc.Latitude, loc.Longitude, loc.City, loc.Country, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert geolocation for %s: %w", loc.IP, err)
	}
	return nil
}
