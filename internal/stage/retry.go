package stage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lucasnoah/agentgist/internal/errs"
	"github.com/lucasnoah/agentgist/internal/metrics"
)

// retryPolicy bounds a retried call: total attempts, the first backoff delay
// (doubled after each failure) and a per-attempt timeout.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
	timeout  time.Duration
}

// retry calls fn until it succeeds, fails with a non-retryable error, or runs
// out of attempts. It returns the number of attempts made. Cancelling ctx
// stops immediately with ctx.Err().
func retry[T any](ctx context.Context, p retryPolicy, op string, fn func(context.Context) (T, error)) (T, int, error) {
	var zero T
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.backoff

	for attempt := 1; ; attempt++ {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.timeout)
		}
		v, err := fn(actx)
		cancel()
		if err == nil {
			return v, attempt, nil
		}
		if ctx.Err() != nil {
			return zero, attempt, ctx.Err()
		}
		if attempt >= attempts || !errs.Retryable(err) {
			return zero, attempt, err
		}

		metrics.InferenceRetries.WithLabelValues(op).Inc()
		log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, attempt, ctx.Err()
		}
		delay *= 2
	}
}
