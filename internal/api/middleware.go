// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"net"
	"net/http"
	"time"
)

// blockGate rejects requests from IPs with an active brute-force block.
// The lookup fails open inside the detection service, so a database
// outage degrades to no blocking rather than no ingestion.
func (rt *Router) blockGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip != "" && rt.detection.IsIPBlocked(r.Context(), ip, time.Now().UTC()) {
			respondError(w, http.StatusForbidden, "ip temporarily blocked")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port if present. RealIP middleware has already
// resolved X-Forwarded-For upstream.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
