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
)

// Well-known monitor_settings keys.
const (
	SettingMonitorEnabled        = "monitor_enabled"
	SettingBruteForceMaxAttempts = "brute_force_max_attempts"
	SettingDataExportMaxExports  = "data_export_max_exports"
)

// GetSetting returns the value for a settings key, or (def, nil) when the
// key is absent.
func (db *DB) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM monitor_settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting stores or replaces a settings key. The timestamp is bound
// as a parameter: DuckDB's binder resolves CURRENT_TIMESTAMP inside a
// DO UPDATE SET clause as a column reference.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO monitor_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}
