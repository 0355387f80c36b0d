// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/models"
)

func TestPrivilegeEscalation(t *testing.T) {
	d := NewPrivilegeEscalationDetector(config.PrivilegeEscalConfig{
		AdminPathPrefixes: []string{"/api/v1/admin/", "/admin/"},
		AllowedRoles:      []string{"admin", "supervisor"},
	})
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   bool
	}{
		{"cashier posting to admin", "POST", "/api/v1/admin/users", "cashier", true},
		{"empty role deleting", "DELETE", "/admin/settings", "", true},
		{"admin allowed", "POST", "/api/v1/admin/users", "admin", false},
		{"supervisor allowed case-insensitive", "PUT", "/admin/settings", "Supervisor", false},
		{"cashier reading admin page", "GET", "/api/v1/admin/users", "cashier", false},
		{"head request ignored", "HEAD", "/api/v1/admin/users", "cashier", false},
		{"cashier posting elsewhere", "POST", "/api/v1/sales", "cashier", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &models.ActivityEvent{
				UserID:    "u1",
				Role:      tt.role,
				Timestamp: at,
				Path:      tt.path,
				Method:    tt.method,
				Action:    models.ActionAPICall,
				IP:        "10.0.0.1",
			}
			alert, err := d.Check(context.Background(), event)
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if (alert != nil) != tt.want {
				t.Errorf("alert = %v, want flagged=%v", alert, tt.want)
			}
			if alert != nil && alert.Severity != SeverityCritical {
				t.Errorf("Severity = %s, want critical", alert.Severity)
			}
		})
	}
}
