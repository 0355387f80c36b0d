// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package api exposes the ops HTTP surface: event ingestion, active
// sessions, alert review, IP blocks, daily summaries, runtime settings,
// health, and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/database"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/middleware"
	"github.com/tomtom215/vigil/internal/monitor"
)

// Router builds the HTTP handler tree.
type Router struct {
	cfg       config.ServerConfig
	db        *database.DB
	tracker   *monitor.Tracker
	detection *detection.Service
}

// NewRouter creates the ops API router.
func NewRouter(cfg config.ServerConfig, db *database.DB, tracker *monitor.Tracker, det *detection.Service) *Router {
	return &Router{cfg: cfg, db: db, tracker: tracker, detection: det}
}

// Handler assembles the chi router with the shared middleware stack.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(rt.cfg.Timeout))
	r.Use(middleware.Prometheus)
	r.Use(middleware.RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", rt.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow))

		// Ingestion: blocked IPs are rejected before any tracking.
		r.With(rt.blockGate).Post("/events", rt.handleIngestEvent)

		r.Route("/monitor", func(r chi.Router) {
			r.Get("/sessions/active", rt.handleActiveSessions)

			r.Get("/alerts", rt.handleListAlerts)
			r.Post("/alerts/{id}/acknowledge", rt.alertStatusHandler(detection.StatusAcknowledged))
			r.Post("/alerts/{id}/resolve", rt.alertStatusHandler(detection.StatusResolved))
			r.Post("/alerts/{id}/dismiss", rt.alertStatusHandler(detection.StatusDismissed))

			r.Get("/blocks", rt.handleActiveBlocks)
			r.Get("/summaries", rt.handleListSummaries)

			r.Put("/geolocations", rt.handleUpsertGeolocation)

			r.Get("/settings/enabled", rt.handleGetEnabled)
			r.Put("/settings/enabled", rt.handleSetEnabled)
		})
	})

	return r
}
