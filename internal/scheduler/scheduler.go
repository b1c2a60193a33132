// Package scheduler consolidates every periodic driver in the engine behind
// one abstraction: fast fixed-interval ticks run on their own tickers, slow
// calendar-style jobs run through robfig/cron. One Stop cancels everything,
// which keeps shutdown and tests simple.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one unit of periodic work. Jobs receive the scheduler's root
// context and must return promptly when it is cancelled.
type Job func(ctx context.Context)

type tickJob struct {
	name     string
	interval time.Duration
	fn       Job
}

// Scheduler owns all periodic ticks. Register jobs before Start.
type Scheduler struct {
	mu      sync.Mutex
	ticks   []tickJob
	cronJob map[string]Job
	cron    *cron.Cron
	logger  *slog.Logger

	started bool
	jobCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		cronJob: make(map[string]Job),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger})))
	return s
}

// Every registers a fast fixed-interval job.
func (s *Scheduler) Every(name string, interval time.Duration, fn Job) {
	if interval <= 0 || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, tickJob{name: name, interval: interval, fn: fn})
}

// Cron registers a slow job on a cron spec (e.g. "@every 5m").
func (s *Scheduler) Cron(name, spec string, fn Job) error {
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cronJob[name] = fn
	_, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.jobCtx
		s.mu.Unlock()
		if ctx == nil {
			return
		}
		fn(ctx)
	})
	return err
}

// Start launches all registered jobs. It is a no-op if already started.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	jobCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.jobCtx = jobCtx
	ticks := make([]tickJob, len(s.ticks))
	copy(ticks, s.ticks)
	s.mu.Unlock()

	for _, tj := range ticks {
		s.wg.Add(1)
		go s.runTicker(jobCtx, tj)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "tick_jobs", len(ticks), "cron_jobs", len(s.cronJob))
}

func (s *Scheduler) runTicker(ctx context.Context, tj tickJob) {
	defer s.wg.Done()

	ticker := time.NewTicker(tj.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeRun(ctx, tj.name, tj.fn)
		}
	}
}

func (s *Scheduler) safeRun(ctx context.Context, name string, fn Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", name, "panic", r)
		}
	}()
	fn(ctx)
}

// RunNow fires a registered job synchronously by name. Intended for tests
// and operator tooling; returns false when no such job exists.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var fn Job
	for _, tj := range s.ticks {
		if tj.name == name {
			fn = tj.fn
			break
		}
	}
	if fn == nil {
		fn = s.cronJob[name]
	}
	s.mu.Unlock()

	if fn == nil {
		return false
	}
	s.safeRun(ctx, name, fn)
	return true
}

// Stop cancels all jobs and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	c.logger.Error(msg, args...)
}
