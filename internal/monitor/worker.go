// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package monitor

import (
	"context"
	"time"

	"github.com/tomtom215/vigil/internal/database"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/metrics"
	"github.com/tomtom215/vigil/internal/models"
)

// Worker drains the queue into single-transaction batches, then runs the
// detectors over each persisted event. A failed persist drops the whole
// batch: the queue keeps filling during an outage and the system sheds
// load instead of retrying into a down database.
type Worker struct {
	cfg       workerConfig
	queue     *Queue
	db        *database.DB
	detection *detection.Service
}

type workerConfig struct {
	batchSize   int
	batchBudget time.Duration
	idleSleep   time.Duration
}

// NewWorker creates the batch worker.
func NewWorker(batchSize int, batchBudget, idleSleep time.Duration, queue *Queue, db *database.DB, det *detection.Service) *Worker {
	return &Worker{
		cfg: workerConfig{
			batchSize:   batchSize,
			batchBudget: batchBudget,
			idleSleep:   idleSleep,
		},
		queue:     queue,
		db:        db,
		detection: det,
	}
}

// Serve runs the drain loop until the context is canceled. On shutdown
// it attempts one final drain so accepted events are not stranded in
// the channel.
func (w *Worker) Serve(ctx context.Context) error {
	logging.Info().
		Int("batch_size", w.cfg.batchSize).
		Dur("batch_budget", w.cfg.batchBudget).
		Msg("Batch worker started")

	for {
		if ctx.Err() != nil {
			w.finalDrain()
			return ctx.Err()
		}

		batch := w.queue.Drain(ctx, w.cfg.batchSize, w.cfg.batchBudget)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				w.finalDrain()
				return ctx.Err()
			case <-time.After(w.cfg.idleSleep):
			}
			continue
		}

		w.process(ctx, batch)
	}
}

func (w *Worker) process(ctx context.Context, batch []models.ActivityEvent) {
	metrics.BatchSize.Observe(float64(len(batch)))

	start := time.Now()
	err := w.db.PersistBatch(ctx, batch)
	metrics.BatchPersistDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.BatchesDropped.Inc()
		logging.Error().Err(err).
			Int("batch_size", len(batch)).
			Msg("Failed to persist batch, dropping")
		return
	}

	for i := range batch {
		w.detection.Evaluate(ctx, &batch[i])
	}
}

// finalDrain flushes whatever is already queued using a short detached
// timeout, so shutdown loses as little as possible without hanging.
func (w *Worker) finalDrain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		batch := w.queue.Drain(ctx, w.cfg.batchSize, 50*time.Millisecond)
		if len(batch) == 0 {
			return
		}
		w.process(ctx, batch)
		if ctx.Err() != nil {
			return
		}
	}
}

// String names the worker for the supervision tree.
func (w *Worker) String() string {
	return "batch-worker"
}
