// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8710 {
		t.Errorf("Server.Port = %d, want 8710", cfg.Server.Port)
	}
	if cfg.Monitor.QueueCapacity != 1000 {
		t.Errorf("Monitor.QueueCapacity = %d, want 1000", cfg.Monitor.QueueCapacity)
	}
	if cfg.Detection.BruteForce.MaxFailedAttempts != 5 {
		t.Errorf("BruteForce.MaxFailedAttempts = %d, want 5", cfg.Detection.BruteForce.MaxFailedAttempts)
	}
	if cfg.Retention.Interval != time.Hour {
		t.Errorf("Retention.Interval = %v, want 1h", cfg.Retention.Interval)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9100
monitor:
  queue_capacity: 50
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Monitor.QueueCapacity != 50 {
		t.Errorf("Monitor.QueueCapacity = %d, want 50", cfg.Monitor.QueueCapacity)
	}
	// Untouched sections keep their defaults.
	if cfg.Database.Path == "" {
		t.Error("Database.Path default was lost")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VIGIL_SERVER_PORT", "9200")
	t.Setenv("VIGIL_DETECTION_BRUTE_FORCE_MAX_FAILED_ATTEMPTS", "8")
	t.Setenv("VIGIL_DETECTION_PRIVILEGE_ESCALATION_ALLOWED_ROLES", "admin, owner")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Server.Port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Detection.BruteForce.MaxFailedAttempts != 8 {
		t.Errorf("MaxFailedAttempts = %d, want 8", cfg.Detection.BruteForce.MaxFailedAttempts)
	}
	roles := cfg.Detection.PrivilegeEscal.AllowedRoles
	if len(roles) != 2 || roles[0] != "admin" || roles[1] != "owner" {
		t.Errorf("AllowedRoles = %v, want [admin owner]", roles)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("VIGIL_SERVER_PORT", "0")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted an invalid port")
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"VIGIL_SERVER_PORT", "server.port"},
		{"VIGIL_MONITOR_QUEUE_CAPACITY", "monitor.queue_capacity"},
		{"VIGIL_DETECTION_BRUTE_FORCE_WINDOW", "detection.brute_force.window"},
		{"VIGIL_DETECTION_SENSITIVE_ACCESS_PATH_PATTERNS", "detection.sensitive_access.path_patterns"},
		{"VIGIL_NOTIFY_WEBHOOK_URL", "notify.webhook_url"},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
