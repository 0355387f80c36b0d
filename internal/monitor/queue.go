// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package monitor

import (
	"context"
	"time"

	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// Queue is the bounded buffer between the request path and the batch
// worker. Enqueue never blocks: when the buffer is full the event is
// dropped and counted, trading completeness for request latency.
type Queue struct {
	ch chan models.ActivityEvent
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan models.ActivityEvent, capacity)}
}

// TryEnqueue offers an event to the queue, reporting whether it was
// accepted. A full queue drops the event.
func (q *Queue) TryEnqueue(event models.ActivityEvent) bool {
	select {
	case q.ch <- event:
		metrics.EventsEnqueued.Inc()
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return true
	default:
		metrics.QueueDropped.Inc()
		return false
	}
}

// Drain collects up to max events, waiting at most budget for the batch
// to fill. It returns early with a partial batch when the budget
// elapses, and immediately when the context is canceled.
func (q *Queue) Drain(ctx context.Context, max int, budget time.Duration) []models.ActivityEvent {
	batch := make([]models.ActivityEvent, 0, max)
	timer := time.NewTimer(budget)
	defer timer.Stop()

	for len(batch) < max {
		select {
		case event := <-q.ch:
			batch = append(batch, event)
		case <-timer.C:
			metrics.QueueDepth.Set(float64(len(q.ch)))
			return batch
		case <-ctx.Done():
			metrics.QueueDepth.Set(float64(len(q.ch)))
			return batch
		}
	}
	metrics.QueueDepth.Set(float64(len(q.ch)))
	return batch
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
