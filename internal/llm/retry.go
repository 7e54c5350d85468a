package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff intervals between attempts. Tests shrink these.
var (
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
)

// retryCall runs op with a per-attempt timeout and exponential backoff up to
// maxAttempts. Rate limits and other transient failures are retried; fatal
// API errors abort immediately. Context cancellation is honored between
// attempts.
func retryCall[T any](ctx context.Context, maxAttempts int, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var result T

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempt := func() error {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		r, err := op(callCtx)
		if err != nil {
			if isFatalAPIError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return result, err
	}
	return result, nil
}
