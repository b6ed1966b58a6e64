package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agilekit/boardsync/internal/board"
)

// Default retry bounds. Transient failures get maxRetries additional
// attempts with jittered exponential delay; everything else aborts on the
// first try.
const (
	defaultMaxAttempts   = 4
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 10 * time.Second

	// retryAfterCap bounds how long a backend-supplied Retry-After is
	// honored before we give up waiting within this invocation.
	retryAfterCap = 30 * time.Second
)

// RetryExhaustedError reports an operation that stayed transiently broken
// through every allowed attempt.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s still failing after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

func newRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = 0
	return bo
}

// withRetry runs fn, retrying only failures the adapter marked transient.
// A rate-limit response with a backend-supplied Retry-After waits that long
// (capped) before the next attempt instead of the default delay.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := 0
	bo := backoff.WithContext(o.newBackoff(), ctx)
	err := backoff.Retry(func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !board.IsTransient(err) {
			return backoff.Permanent(err)
		}
		if hint, ok := board.RetryAfterHint(err); ok {
			if waitErr := sleepCtx(ctx, min(hint, retryAfterCap)); waitErr != nil {
				return backoff.Permanent(waitErr)
			}
		}
		o.warnf("%s failed transiently (attempt %d/%d): %v", op, attempts, o.maxAttempts, err)
		return err
	}, backoff.WithMaxRetries(bo, uint64(o.maxAttempts-1)))
	if err == nil {
		return nil
	}
	if board.IsTransient(err) {
		return &RetryExhaustedError{Op: op, Attempts: attempts, Err: err}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
