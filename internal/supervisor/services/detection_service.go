// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package services

import (
	"context"

	"github.com/tomtom215/vigil/internal/detection"
)

// DetectionSweepService runs the detectors' periodic state sweep under
// supervision so a panic in the sweep loop restarts it rather than
// leaking window state forever.
type DetectionSweepService struct {
	svc *detection.Service
}

// NewDetectionSweepService creates the wrapper.
func NewDetectionSweepService(svc *detection.Service) *DetectionSweepService {
	return &DetectionSweepService{svc: svc}
}

// Serve implements suture.Service.
func (d *DetectionSweepService) Serve(ctx context.Context) error {
	return d.svc.RunSweeps(ctx)
}

// String names the service for supervision logs.
func (d *DetectionSweepService) String() string {
	return "detection-sweep"
}
