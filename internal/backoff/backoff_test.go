package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPolicy_DelayGrowsAndCaps(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	if got := p.delayWithRand(1, 0); got != 100*time.Millisecond {
		t.Errorf("attempt 1 delay = %v, want 100ms", got)
	}
	if got := p.delayWithRand(3, 0); got != 400*time.Millisecond {
		t.Errorf("attempt 3 delay = %v, want 400ms", got)
	}
	if got := p.delayWithRand(10, 0); got != time.Second {
		t.Errorf("attempt 10 delay = %v, want capped at 1s", got)
	}
}

func TestPolicy_JitterAddsUpward(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Minute, Factor: 2, Jitter: 0.5}

	base := p.delayWithRand(1, 0)
	jittered := p.delayWithRand(1, 1)
	if jittered != base+base/2 {
		t.Errorf("jittered delay = %v, want %v", jittered, base+base/2)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	p := Policy{Initial: time.Microsecond, Max: time.Millisecond, Factor: 2}

	calls := 0
	err := Retry(context.Background(), p, 5, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry returned %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	p := Policy{Initial: time.Microsecond, Max: time.Millisecond, Factor: 2}

	sentinel := errors.New("still broken")
	err := Retry(context.Background(), p, 3, nil, func(context.Context) error {
		return sentinel
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want wrapped sentinel", err)
	}
}

func TestRetry_PermanentErrorStopsEarly(t *testing.T) {
	p := Policy{Initial: time.Microsecond, Max: time.Millisecond, Factor: 2}

	permanent := errors.New("bad credentials")
	calls := 0
	err := Retry(context.Background(), p, 5, func(err error) bool {
		return !errors.Is(err, permanent)
	}, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("err = %v, want permanent error", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	p := Policy{Initial: time.Hour, Max: time.Hour, Factor: 2}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, p, 3, nil, func(context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
