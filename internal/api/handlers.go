// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/database"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/models"
)

// handleHealth reports liveness plus a database ping.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := rt.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{"status": status})
}

// handleIngestEvent accepts one activity event from an instrumented
// application. The response is 202 whether the event was admitted or
// not: admission failures are the monitor's concern, never the caller's.
func (rt *Router) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var event models.ActivityEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if event.IP == "" {
		event.IP = r.RemoteAddr
	}

	accepted := rt.tracker.Track(event)
	if event.DurationMs > 0 {
		rt.tracker.TrackDuration(event.SessionID, event.DurationMs)
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
}

func (rt *Router) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions := rt.tracker.ActiveSessions(time.Now().UTC())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (rt *Router) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := detection.AlertFilter{
		Status: detection.AlertStatus(r.URL.Query().Get("status")),
		Type:   detection.AlertType(r.URL.Query().Get("type")),
		UserID: r.URL.Query().Get("user_id"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	alerts, err := rt.detection.Store().ListAlerts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []detection.Alert{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

type alertStatusRequest struct {
	UpdatedBy string `json:"updated_by"`
}

// alertStatusHandler returns a handler moving an alert to the target
// review state.
func (rt *Router) alertStatusHandler(next detection.AlertStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid alert id")
			return
		}

		var req alertStatusRequest
		// Body is optional; a missing updated_by is recorded as empty.
		_ = json.NewDecoder(r.Body).Decode(&req)

		err = rt.detection.Store().UpdateAlertStatus(r.Context(), id, next, req.UpdatedBy)
		switch {
		case errors.Is(err, detection.ErrAlertNotFound):
			respondError(w, http.StatusNotFound, "alert not found")
		case errors.Is(err, detection.ErrInvalidTransition):
			respondError(w, http.StatusConflict, err.Error())
		case err != nil:
			respondError(w, http.StatusInternalServerError, "failed to update alert")
		default:
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"id":     id,
				"status": next,
			})
		}
	}
}

func (rt *Router) handleActiveBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := rt.detection.Store().ListActiveBlocks(r.Context(), time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list blocks")
		return
	}
	if blocks == nil {
		blocks = []models.IPBlock{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(blocks),
		"blocks": blocks,
	})
}

func (rt *Router) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	limit := 30
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > 365 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	summaries, err := rt.db.ListDailySummaries(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list summaries")
		return
	}
	if summaries == nil {
		summaries = []models.DailySummary{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(summaries),
		"summaries": summaries,
	})
}

type geolocationRequest struct {
	IP        string  `json:"ip"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
}

// handleUpsertGeolocation seeds or refreshes the stored location for an
// IP. The geo anomaly detector only compares locations it can resolve,
// so an external GeoIP feed pushes its mappings through here.
func (rt *Router) handleUpsertGeolocation(w http.ResponseWriter, r *http.Request) {
	var req geolocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid geolocation payload")
		return
	}
	if req.IP == "" ||
		req.Latitude < -90 || req.Latitude > 90 ||
		req.Longitude < -180 || req.Longitude > 180 {
		respondError(w, http.StatusBadRequest, "invalid geolocation")
		return
	}

	loc := &detection.Geolocation{
		IP:        req.IP,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		City:      req.City,
		Country:   req.Country,
	}
	if err := rt.detection.Store().UpsertGeolocation(r.Context(), loc); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to store geolocation")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"ip": req.IP})
}

func (rt *Router) handleGetEnabled(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": rt.tracker.Enabled()})
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// handleSetEnabled persists the toggle and applies it immediately,
// rather than waiting for the next poll.
func (rt *Router) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req setEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	value := strconv.FormatBool(req.Enabled)
	if err := rt.db.SetSetting(r.Context(), database.SettingMonitorEnabled, value); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to persist setting")
		return
	}
	rt.tracker.SetEnabled(req.Enabled)
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}
