// Vigil - Activity Monitoring and Threat Detection for Retail Operations
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package retention

import (
	"context"
	"time"

	"github.com/tomtom215/vigil/internal/logging"
)

// retryWithBackoff runs op up to attempts times, doubling the delay
// after each failure. It is an explicit helper rather than wrapping
// middleware so every call site shows it retries. The last error is
// returned when all attempts fail; a canceled context stops retrying
// immediately.
func retryWithBackoff(ctx context.Context, attempts int, initial time.Duration, op func(context.Context) error) error {
	var err error
	delay := initial
	for i := 0; i < attempts; i++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if i < attempts-1 {
			logging.Warn().Err(err).
				Int("attempt", i+1).
				Dur("retry_in", delay).
				Msg("Retention operation failed, retrying")
			select {
			case <-ctx.Done():
				return err
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return err
}
