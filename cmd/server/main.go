// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Command server runs the Vigil monitoring server: the ingestion
// pipeline, threat detectors, retention scheduler, and ops HTTP API,
// all under a suture supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/vigil/internal/api"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/database"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/monitor"
	"github.com/tomtom215/vigil/internal/retention"
	"github.com/tomtom215/vigil/internal/supervisor"
	"github.com/tomtom215/vigil/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger: config (and thus logging settings) unavailable.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("monitor_enabled", cfg.Monitor.Enabled).
		Bool("notify_enabled", cfg.Notify.Enabled).
		Msg("Starting Vigil")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	store := detection.NewStore(db.Conn())
	if err := store.InitSchema(context.Background()); err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize detection schema")
	}

	var notifiers []detection.Notifier
	if cfg.Notify.Enabled {
		notifiers = append(notifiers, detection.NewWebhookNotifier(cfg.Notify))
		logging.Info().Str("url", cfg.Notify.WebhookURL).Msg("Webhook notifier enabled")
	}
	alerts := detection.NewAlertManager(store, notifiers)
	det := detection.NewService(cfg.Detection, store, alerts)

	queue := monitor.NewQueue(cfg.Monitor.QueueCapacity)
	sessions := monitor.NewSessionCache(cfg.Monitor.SessionTTL, cfg.Monitor.SessionCacheMax)
	tracker := monitor.NewTracker(cfg.Monitor, queue, sessions)
	worker := monitor.NewWorker(cfg.Monitor.BatchSize, cfg.Monitor.BatchBudget,
		cfg.Monitor.IdleSleep, queue, db, det)
	poller := monitor.NewSettingsPoller(db, tracker, det, cfg.Monitor.PollInterval)

	scheduler := retention.NewScheduler(cfg.Retention, db, store)

	router := api.NewRouter(cfg.Server, db, tracker, det)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(worker)
	tree.AddPipelineService(services.NewDetectionSweepService(det))
	tree.AddPipelineService(poller)
	tree.AddMaintenanceService(scheduler)
	tree.AddAPIService(services.NewHTTPServerService(server, supervisor.DefaultTreeConfig().ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Vigil stopped gracefully")
}
