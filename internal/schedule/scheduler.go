// Package schedule runs sync cycles in the background: a fixed-interval
// timer, a manual trigger for "sync now", and an optional filesystem
// watcher that reacts to external changes in a backup directory.
package schedule

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 5 * time.Minute

// RunFunc performs one sync cycle. Errors are logged by the scheduler;
// the next tick runs regardless.
type RunFunc func(ctx context.Context) error

// Scheduler invokes a RunFunc on a fixed interval and on demand. Ticks
// and triggers that arrive while a run is in flight collapse into the
// run already in progress, because the engine skips overlapping cycles
// itself.
type Scheduler struct {
	interval time.Duration
	run      RunFunc
	logger   *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a stopped scheduler around run.
func New(run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		interval: DefaultInterval,
		run:      run,
		logger:   log.New(os.Stderr, "[schedule] ", log.LstdFlags),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Printf("started, interval %s", s.interval)
}

// Stop halts the loop and waits for an in-flight run to finish.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Printf("stopped")
}

// Trigger requests a run outside the regular interval. If a trigger is
// already queued the call is absorbed.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// The cancel covers only the wait between cycles. A run already
	// in flight finishes on its own context so Stop never interrupts
	// network calls mid-cycle; Stop's wg.Wait provides the
	// completion guarantee.
	runCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(runCtx)
		case <-s.trigger:
			s.runOnce(runCtx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.run(ctx); err != nil {
		s.logger.Printf("run: %v", err)
	}
}
