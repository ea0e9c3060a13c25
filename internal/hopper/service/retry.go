package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadhopper_backend/internal/hopper/domain"
	"leadhopper_backend/platform/metrics"
)

// errStaleVersion signals a lost optimistic write that is worth retrying.
var errStaleVersion = errors.New("stale lead version")

type retrier struct {
	attempts int
	base     time.Duration
	metrics  *metrics.Metrics
}

func newRetrier(opts Options, m *metrics.Metrics) retrier {
	attempts := opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retrier{attempts: attempts, base: opts.RetryBaseDelay, metrics: m}
}

// backoff grows quadratically: base, 4*base, 9*base.
func (r retrier) backoff(attempt int) time.Duration {
	return r.base * time.Duration(attempt*attempt)
}

// do runs fn until it succeeds, fails with a non-retryable error, or exhausts
// the attempt budget. Exhaustion is reported as domain.ErrContention.
func (r retrier) do(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrContention) && !errors.Is(err, errStaleVersion) {
			return err
		}
		if attempt >= r.attempts {
			return fmt.Errorf("%s: gave up after %d attempts: %w", op, r.attempts, domain.ErrContention)
		}

		r.metrics.ObserveRetry(op)
		timer := time.NewTimer(r.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func isContention(err error) bool {
	return errors.Is(err, domain.ErrContention)
}
