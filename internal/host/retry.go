package host

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultRetryBackoff = 100 * time.Millisecond

// withRetry runs op until it succeeds or maxRetries retries have failed,
// doubling the backoff after each failure. Every failed attempt that will be
// retried is logged at warn level.
func withRetry(ctx context.Context, logger *zap.Logger, name string, maxRetries int, backoff time.Duration, op func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("retry succeeded", zap.String("op", name), zap.Int("attempt", attempt))
			}
			return nil
		}
		if attempt > maxRetries {
			return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempt, err)
		}

		logger.Warn("retrying",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
