// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package config provides layered configuration loading for Vigil.
//
// Configuration is loaded via Koanf v2 with layered sources, highest
// priority last: built-in defaults, optional YAML config file, environment
// variables. The resulting struct is validated with go-playground/validator
// before the server starts.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Vigil server.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Monitor   MonitorConfig   `koanf:"monitor"`
	Detection DetectionConfig `koanf:"detection"`
	Retention RetentionConfig `koanf:"retention"`
	Notify    NotifyConfig    `koanf:"notify"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig controls the ops HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"min=1s"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// DatabaseConfig controls the embedded DuckDB store.
type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`

	// MaxMemory caps DuckDB memory usage, e.g. "1GB".
	MaxMemory string `koanf:"max_memory" validate:"required"`

	// Threads for DuckDB; 0 means runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`

	PreserveInsertionOrder bool `koanf:"preserve_insertion_order"`
}

// MonitorConfig controls admission, the event queue, the batch worker,
// and the session cache.
type MonitorConfig struct {
	// Enabled is the master monitoring toggle. Also overridable at runtime
	// via the monitor_settings table, which is polled on PollInterval.
	Enabled bool `koanf:"enabled"`

	// ExcludedPathPrefixes are never tracked: static assets and the
	// monitoring endpoints themselves, to avoid tracking-of-tracking.
	ExcludedPathPrefixes []string `koanf:"excluded_path_prefixes"`

	QueueCapacity int           `koanf:"queue_capacity" validate:"min=1"`
	BatchSize     int           `koanf:"batch_size" validate:"min=1"`
	BatchBudget   time.Duration `koanf:"batch_budget" validate:"min=10ms"`

	// IdleSleep is how long the worker sleeps after an empty drain.
	IdleSleep time.Duration `koanf:"idle_sleep" validate:"min=10ms"`

	SessionTTL      time.Duration `koanf:"session_ttl" validate:"min=1m"`
	SessionCacheMax int           `koanf:"session_cache_max" validate:"min=1"`

	// PollInterval is how often the monitor_settings table is re-read.
	PollInterval time.Duration `koanf:"poll_interval" validate:"min=1s"`
}

// DetectionConfig carries per-detector thresholds and window sizes.
type DetectionConfig struct {
	BruteForce      BruteForceConfig      `koanf:"brute_force"`
	DataExport      DataExportConfig      `koanf:"data_export"`
	PrivilegeEscal  PrivilegeEscalConfig  `koanf:"privilege_escalation"`
	GeoAnomaly      GeoAnomalyConfig      `koanf:"geo_anomaly"`
	SensitiveAccess SensitiveAccessConfig `koanf:"sensitive_access"`

	// SweepInterval drives the background prune of idle sliding-window keys.
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=10s"`
}

// BruteForceConfig configures the failed-login detector.
type BruteForceConfig struct {
	Window time.Duration `koanf:"window" validate:"min=1m"`

	// MaxFailedAttempts triggers the IP block.
	MaxFailedAttempts int `koanf:"max_failed_attempts" validate:"min=2"`

	// AlertThreshold triggers an alert before the block threshold.
	AlertThreshold int `koanf:"alert_threshold" validate:"min=1"`

	Lockout time.Duration `koanf:"lockout" validate:"min=1m"`

	// DistributedMinIPs is the number of distinct attacking IPs that
	// escalates an alert to critical (distributed-attack signal).
	DistributedMinIPs int `koanf:"distributed_min_ips" validate:"min=2"`
}

// DataExportConfig configures the excessive-export monitor.
type DataExportConfig struct {
	Window time.Duration `koanf:"window" validate:"min=1m"`

	MaxExports    int   `koanf:"max_exports" validate:"min=1"`
	MaxTotalRows  int64 `koanf:"max_total_rows" validate:"min=1"`
	MaxSingleRows int64 `koanf:"max_single_rows" validate:"min=1"`

	// SensitiveEndpoints gates alerting: exceeding a threshold only raises
	// an alert when the endpoint matches one of these prefixes.
	SensitiveEndpoints []string `koanf:"sensitive_endpoints"`
}

// PrivilegeEscalConfig configures the admin-endpoint detector.
type PrivilegeEscalConfig struct {
	AdminPathPrefixes []string `koanf:"admin_path_prefixes"`
	AllowedRoles      []string `koanf:"allowed_roles"`
}

// GeoAnomalyConfig configures the impossible-travel detector.
type GeoAnomalyConfig struct {
	// MaxSpeedKmH is the maximum plausible travel speed (commercial flight).
	MaxSpeedKmH float64 `koanf:"max_speed_kmh" validate:"gt=0"`

	// MinDistanceKm ignores nearby location changes.
	MinDistanceKm float64 `koanf:"min_distance_km" validate:"min=0"`

	// MaxGap suppresses the check when logins are far apart in time;
	// long gaps make any distance plausible.
	MaxGap time.Duration `koanf:"max_gap" validate:"min=1m"`
}

// SensitiveAccessConfig configures the sensitive-path detector.
type SensitiveAccessConfig struct {
	PathPatterns []string `koanf:"path_patterns"`

	// BusinessHoursStart/End bound the expected access window (local hours).
	BusinessHoursStart int `koanf:"business_hours_start" validate:"min=0,max=23"`
	BusinessHoursEnd   int `koanf:"business_hours_end" validate:"min=1,max=24"`
}

// RetentionConfig controls the periodic retention scheduler.
type RetentionConfig struct {
	Interval time.Duration `koanf:"interval" validate:"min=1m"`

	ActivityRetention time.Duration `koanf:"activity_retention" validate:"min=24h"`
	AlertRetention    time.Duration `koanf:"alert_retention" validate:"min=24h"`
	SessionExpiry     time.Duration `koanf:"session_expiry" validate:"min=1h"`

	// DeleteBatchSize bounds each delete statement; DeletePause is the gap
	// between batches so long-running deletes do not hold locks.
	DeleteBatchSize int           `koanf:"delete_batch_size" validate:"min=100"`
	DeletePause     time.Duration `koanf:"delete_pause" validate:"min=10ms"`
}

// NotifyConfig configures alert notification delivery.
type NotifyConfig struct {
	Enabled    bool              `koanf:"enabled"`
	WebhookURL string            `koanf:"webhook_url" validate:"omitempty,http_url"`
	Headers    map[string]string `koanf:"headers"`
	Timeout    time.Duration     `koanf:"timeout" validate:"min=1s"`

	// Circuit breaker settings for the webhook endpoint.
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"min=1s"`
}

// defaultConfig returns a Config with all sensible default values.
// Defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8710,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Path:                   "/data/vigil.duckdb",
			MaxMemory:              "1GB",
			Threads:                0, // 0 = use runtime.NumCPU()
			PreserveInsertionOrder: true,
		},
		Monitor: MonitorConfig{
			Enabled: true,
			ExcludedPathPrefixes: []string{
				"/static/", "/assets/", "/favicon", "/healthz", "/metrics",
				"/api/v1/monitor/",
			},
			QueueCapacity:   1000,
			BatchSize:       100,
			BatchBudget:     time.Second,
			IdleSleep:       250 * time.Millisecond,
			SessionTTL:      30 * time.Minute,
			SessionCacheMax: 5000,
			PollInterval:    time.Minute,
		},
		Detection: DetectionConfig{
			BruteForce: BruteForceConfig{
				Window:            15 * time.Minute,
				MaxFailedAttempts: 5,
				AlertThreshold:    3,
				Lockout:           30 * time.Minute,
				DistributedMinIPs: 3,
			},
			DataExport: DataExportConfig{
				Window:        time.Hour,
				MaxExports:    10,
				MaxTotalRows:  10000,
				MaxSingleRows: 5000,
				SensitiveEndpoints: []string{
					"/api/v1/sales/export",
					"/api/v1/products/export",
					"/api/v1/routes/export",
				},
			},
			PrivilegeEscal: PrivilegeEscalConfig{
				AdminPathPrefixes: []string{"/api/v1/admin/", "/admin/"},
				AllowedRoles:      []string{"admin", "supervisor"},
			},
			GeoAnomaly: GeoAnomalyConfig{
				MaxSpeedKmH:   900, // Commercial flight speed
				MinDistanceKm: 100,
				MaxGap:        12 * time.Hour,
			},
			SensitiveAccess: SensitiveAccessConfig{
				PathPatterns: []string{
					"/api/v1/users", "/api/v1/admin", "/api/v1/sales/export",
				},
				BusinessHoursStart: 7,
				BusinessHoursEnd:   20,
			},
			SweepInterval: 5 * time.Minute,
		},
		Retention: RetentionConfig{
			Interval:          time.Hour,
			ActivityRetention: 90 * 24 * time.Hour,
			AlertRetention:    30 * 24 * time.Hour,
			SessionExpiry:     24 * time.Hour,
			DeleteBatchSize:   5000,
			DeletePause:       100 * time.Millisecond,
		},
		Notify: NotifyConfig{
			Enabled:         false,
			WebhookURL:      "",
			Headers:         map[string]string{},
			Timeout:         10 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  time.Minute,
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Cross-field checks validator tags cannot express.
	if c.Detection.BruteForce.AlertThreshold > c.Detection.BruteForce.MaxFailedAttempts {
		return fmt.Errorf("detection.brute_force: alert_threshold (%d) must not exceed max_failed_attempts (%d)",
			c.Detection.BruteForce.AlertThreshold, c.Detection.BruteForce.MaxFailedAttempts)
	}
	if c.Detection.SensitiveAccess.BusinessHoursStart >= c.Detection.SensitiveAccess.BusinessHoursEnd {
		return fmt.Errorf("detection.sensitive_access: business_hours_start (%d) must be before business_hours_end (%d)",
			c.Detection.SensitiveAccess.BusinessHoursStart, c.Detection.SensitiveAccess.BusinessHoursEnd)
	}
	if c.Notify.Enabled && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required when notify.enabled=true")
	}
	return nil
}
