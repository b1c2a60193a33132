package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_EveryFires(t *testing.T) {
	s := New()
	var fired atomic.Int64
	s.Every("tick", 5*time.Millisecond, func(context.Context) {
		fired.Add(1)
	})

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(time.Second)
	for fired.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("job fired %d times within 1s, want >= 2", fired.Load())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestScheduler_StopCancelsJobs(t *testing.T) {
	s := New()
	done := make(chan struct{})
	var closed atomic.Bool
	s.Every("tick", time.Millisecond, func(ctx context.Context) {
		<-ctx.Done()
		if closed.CompareAndSwap(false, true) {
			close(done)
		}
	})

	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled by Stop")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := New()
	var fired atomic.Int64
	s.Every("decay", time.Hour, func(context.Context) {
		fired.Add(1)
	})
	if err := s.Cron("sweep", "@every 1h", func(context.Context) {
		fired.Add(10)
	}); err != nil {
		t.Fatalf("Cron: %v", err)
	}

	if !s.RunNow(context.Background(), "decay") {
		t.Fatal("RunNow did not find the tick job")
	}
	if !s.RunNow(context.Background(), "sweep") {
		t.Fatal("RunNow did not find the cron job")
	}
	if s.RunNow(context.Background(), "ghost") {
		t.Error("RunNow found a job that was never registered")
	}
	if got := fired.Load(); got != 11 {
		t.Errorf("fired = %d, want 11", got)
	}
}

func TestScheduler_RunNowRecoversPanic(t *testing.T) {
	s := New()
	s.Every("boom", time.Hour, func(context.Context) {
		panic("kaboom")
	})

	// Must not propagate the panic.
	if !s.RunNow(context.Background(), "boom") {
		t.Fatal("RunNow did not find the job")
	}
}

func TestScheduler_InvalidCronSpec(t *testing.T) {
	s := New()
	if err := s.Cron("bad", "not a spec", func(context.Context) {}); err == nil {
		t.Error("expected error for invalid cron spec")
	}
}
