// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/models"
)

// PrivilegeEscalationDetector is stateless: any mutating request to an
// admin path by a role outside the allow list is a critical finding on
// its own, no window needed.
type PrivilegeEscalationDetector struct {
	cfg config.PrivilegeEscalConfig
}

// NewPrivilegeEscalationDetector creates the admin-endpoint detector.
func NewPrivilegeEscalationDetector(cfg config.PrivilegeEscalConfig) *PrivilegeEscalationDetector {
	return &PrivilegeEscalationDetector{cfg: cfg}
}

// Type returns the alert type this detector handles.
func (d *PrivilegeEscalationDetector) Type() AlertType {
	return AlertTypePrivilegeEscalation
}

// Check flags non-GET requests to admin paths from disallowed roles.
// Reads are left to the sensitive-access detector.
func (d *PrivilegeEscalationDetector) Check(ctx context.Context, event *models.ActivityEvent) (*Alert, error) {
	if event.Method == http.MethodGet || event.Method == http.MethodHead {
		return nil, nil
	}
	if !d.isAdminPath(event.Path) || d.isAllowedRole(event.Role) {
		return nil, nil
	}

	role := event.Role
	if role == "" {
		role = "unknown"
	}
	details, _ := json.Marshal(PrivilegeEscalationDetails{
		Path:   event.Path,
		Method: event.Method,
		Role:   role,
	})
	return &Alert{
		Type:     AlertTypePrivilegeEscalation,
		UserID:   event.UserID,
		IP:       event.IP,
		Severity: SeverityCritical,
		Title:    "Privilege escalation attempt",
		Message: fmt.Sprintf("User %s (role %s) attempted %s %s",
			event.UserID, role, event.Method, event.Path),
		Details:   details,
		CreatedAt: event.Timestamp,
	}, nil
}

func (d *PrivilegeEscalationDetector) isAdminPath(path string) bool {
	for _, prefix := range d.cfg.AdminPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (d *PrivilegeEscalationDetector) isAllowedRole(role string) bool {
	for _, allowed := range d.cfg.AllowedRoles {
		if strings.EqualFold(role, allowed) {
			return true
		}
	}
	return false
}
