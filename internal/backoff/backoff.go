// Package backoff provides exponential backoff with jitter for the retry
// loops around external collaborators (platform, completion service, store).
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrExhausted is returned when all retry attempts have been used up.
var ErrExhausted = errors.New("backoff: attempts exhausted")

// Policy defines exponential backoff parameters.
type Policy struct {
	// Initial is the delay before the second attempt.
	Initial time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor multiplies the delay per attempt.
	Factor float64
	// Jitter in [0,1] randomizes the delay upward by up to that fraction.
	Jitter float64
}

// DefaultPolicy returns the policy used for collaborator reconnects:
// 500ms initial, 1m cap, doubling, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     time.Minute,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay computes the backoff for a 1-indexed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter, not security
}

func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if max := float64(p.Max); p.Max > 0 && total > max {
		total = max
	}
	return time.Duration(total)
}

// Sleep waits for the computed delay or until the context is cancelled.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
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

// Retry runs op up to maxAttempts times with backoff between failures.
// It stops early when the context is cancelled or when retryable (if set)
// reports the error as permanent. Returns the last error wrapped in
// ErrExhausted when attempts run out.
func Retry(ctx context.Context, policy Policy, maxAttempts int, retryable func(error) bool, op func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts {
			if err := policy.Sleep(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return errors.Join(ErrExhausted, lastErr)
}
