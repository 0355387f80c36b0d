// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/cache"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/models"
)

// DataExportDetector tracks export volume per user in a sliding window.
// Every export is recorded, but alerts only fire for endpoints on the
// sensitive list: bulk pulls of public catalogs are uninteresting.
type DataExportDetector struct {
	cfg     config.DataExportConfig
	exports *cache.WindowLog // key: user, tag: endpoint, count: rows

	// maxExports is the count threshold, adjustable at runtime by the
	// settings poller.
	maxExports atomic.Int32
}

// NewDataExportDetector creates the export-volume detector.
func NewDataExportDetector(cfg config.DataExportConfig) *DataExportDetector {
	d := &DataExportDetector{
		cfg:     cfg,
		exports: cache.NewWindowLog(cfg.Window),
	}
	d.maxExports.Store(int32(cfg.MaxExports))
	return d
}

// SetMaxExports adjusts the export count threshold. Values below one
// are ignored.
func (d *DataExportDetector) SetMaxExports(n int) {
	if n >= 1 {
		d.maxExports.Store(int32(n))
	}
}

// Type returns the alert type this detector handles.
func (d *DataExportDetector) Type() AlertType {
	return AlertTypeDataExport
}

// Check records an export and raises an alert when the user exceeds the
// export count, cumulative row, or single-export row threshold on a
// sensitive endpoint.
func (d *DataExportDetector) Check(ctx context.Context, event *models.ActivityEvent) (*Alert, error) {
	if event.Action != models.ActionExport {
		return nil, nil
	}

	now := event.Timestamp
	count := d.exports.Append(event.UserID, cache.Entry{
		At:    now,
		Tag:   event.Path,
		Count: event.ExportRows,
	})

	if !d.isSensitiveEndpoint(event.Path) {
		return nil, nil
	}

	totalRows := d.exports.Sum(event.UserID, now)

	var severity Severity
	var title, message string
	switch {
	case event.ExportRows > d.cfg.MaxSingleRows:
		severity = SeverityCritical
		title = "Oversized data export"
		message = fmt.Sprintf("User %s exported %d rows from %s in a single request (limit %d)",
			event.UserID, event.ExportRows, event.Path, d.cfg.MaxSingleRows)
	case totalRows > d.cfg.MaxTotalRows:
		severity = SeverityCritical
		title = "Excessive export volume"
		message = fmt.Sprintf("User %s exported %d rows within %s (limit %d)",
			event.UserID, totalRows, d.cfg.Window, d.cfg.MaxTotalRows)
	case count > int(d.maxExports.Load()):
		severity = SeverityWarning
		title = "Excessive export count"
		message = fmt.Sprintf("User %s made %d exports within %s (limit %d)",
			event.UserID, count, d.cfg.Window, d.maxExports.Load())
	default:
		return nil, nil
	}

	details, _ := json.Marshal(DataExportDetails{
		Endpoint:    event.Path,
		ExportCount: count,
		TotalRows:   totalRows,
		LastRows:    event.ExportRows,
	})
	return &Alert{
		Type:      AlertTypeDataExport,
		UserID:    event.UserID,
		IP:        event.IP,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Details:   details,
		CreatedAt: event.Timestamp,
	}, nil
}

func (d *DataExportDetector) isSensitiveEndpoint(path string) bool {
	for _, prefix := range d.cfg.SensitiveEndpoints {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Sweep prunes idle window keys and returns the number removed.
func (d *DataExportDetector) Sweep(now time.Time) int {
	return d.exports.Sweep(now)
}
