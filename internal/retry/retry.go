// Package retry implements the bounded exponential backoff policy the
// pipeline worker applies to its quote and swap phases: delay(n) =
// min(base·multiplier^(n-1), max), stopping after a configured number
// of attempts rather than the calendar-time cutoff cenkalti/backoff
// defaults to.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dex-router/order-engine/internal/apperrors"
	"github.com/dex-router/order-engine/internal/config"
)

// Policy runs an operation under the exponential backoff schedule
// derived from a single QueueConfig, shared by every retry call site so
// the base/multiplier/max constants live in one place.
type Policy struct {
	cfg config.QueueConfig
}

// New builds a Policy from cfg. Defaults (base 1s, multiplier 2, max
// 4s, 3 attempts) apply when cfg's fields are zero.
func New(cfg config.QueueConfig) Policy {
	return Policy{cfg: cfg}
}

// Do runs fn, retrying on classified-retryable errors until it
// succeeds or the attempt budget is exhausted. fn's error is classified
// via apperrors.Classify; a non-retryable classification stops the
// loop immediately rather than waiting out the remaining backoff.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		classified := apperrors.Classify(err)
		if !classified.Retryable {
			return backoff.Permanent(classified)
		}
		return classified
	}
	return backoff.Retry(op, p.backOff(ctx))
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	base := p.cfg.BackoffBaseMs
	if base <= 0 {
		base = 1000
	}
	max := p.cfg.BackoffMaxMs
	if max <= 0 {
		max = 4000
	}
	mult := p.cfg.Multiplier()
	if mult <= 0 {
		mult = 2
	}
	maxRetries := p.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(base) * time.Millisecond
	eb.Multiplier = mult
	eb.MaxInterval = time.Duration(max) * time.Millisecond
	eb.MaxElapsedTime = 0 // attempt count, not elapsed time, bounds the loop
	eb.RandomizationFactor = 0

	// WithMaxRetries counts retries after the first attempt, so
	// maxRetries total attempts means maxRetries-1 additional retries.
	bounded := backoff.WithMaxRetries(eb, uint64(maxRetries-1))
	return backoff.WithContext(bounded, ctx)
}
