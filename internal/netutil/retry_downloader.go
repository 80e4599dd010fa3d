package netutil

import (
	"context"
	"errors"
	"log"
	"time"
)

// RetryDownloader decorates a Downloader with bounded retries and
// exponential backoff for transient failures.
type RetryDownloader struct {
	Inner Downloader
	// Attempts is the total number of tries. Values below 1 mean 3.
	Attempts int
	// Backoff is the wait before the second try; it doubles after that.
	// If <= 0, it defaults to 2s.
	Backoff time.Duration
	// AttemptTimeout caps each try. Zero leaves it to Inner.
	AttemptTimeout time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Download tries Inner until it succeeds, the error is permanent, or the
// attempts run out. The last error is returned.
func (r *RetryDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 3
	}
	backoff := r.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Printf("[netutil] retrying %s in %s (attempt %d/%d): %v", url, backoff, i+1, attempts, lastErr)
			if err := sleep(ctx, backoff); err != nil {
				return nil, lastErr
			}
			backoff *= 2
		}

		attemptCtx := ctx
		cancel := func() {}
		if r.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.AttemptTimeout)
		}
		body, err := r.Inner.Download(attemptCtx, url)
		cancel()
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil || !shouldRetry(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func shouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || IsPermanent(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
