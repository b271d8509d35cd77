// Package retry provides the bounded retry policy shared by the signing
// client and the chain submitter. Policies are plain values so tests can
// inject a zero-delay variant.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds a sequence of attempts with exponential backoff.
type Policy struct {
	// MaxAttempts includes the first attempt. Zero or negative means one.
	MaxAttempts int
	// BaseDelay is the delay after the first failed attempt; each later
	// delay doubles, capped at MaxDelay when MaxDelay > 0.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is the fraction of each delay randomized away, in [0,1].
	Jitter float64
}

// ZeroDelay returns a policy with n attempts and no sleeping.
func ZeroDelay(n int) Policy {
	return Policy{MaxAttempts: n}
}

// Do runs op until it succeeds, exhausts MaxAttempts, hits a
// non-retryable error, or the context is done. It returns the number of
// attempts made and the last error. retryable decides whether a given
// failure is worth another attempt.
func (p Policy) Do(ctx context.Context, op func(context.Context) error, retryable func(error) bool) (int, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if retryable != nil && !retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == limit {
			break
		}
		if err := sleep(ctx, p.delay(attempt)); err != nil {
			return attempt, lastErr
		}
	}
	return limit, lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d -= time.Duration(p.Jitter * rand.Float64() * float64(d))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
