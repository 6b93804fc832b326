package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TaskFunc is one maintenance run. Errors are logged, never fatal.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	running  atomic.Bool
}

// Scheduler drives periodic maintenance tasks. It is externally driven:
// nothing starts until Start is called, and Stop (or context cancellation)
// halts every task. A task whose previous run is still executing is skipped
// for that tick, so runs of the same task never overlap.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []*task
	cancel  context.CancelFunc
	done    sync.WaitGroup
	started bool
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers a task. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("task %q: scheduler already started", name)
	}
	s.tasks = append(s.tasks, &task{name: name, interval: interval, fn: fn})
	return nil
}

// Start launches one ticker goroutine per task. Tasks stop when the given
// context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, t := range s.tasks {
		s.done.Add(1)
		go s.runTask(runCtx, t)
	}

	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
	return nil
}

// Stop cancels all tasks and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.done.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runTask(ctx context.Context, t *task) {
	defer s.done.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, t)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	if !t.running.CompareAndSwap(false, true) {
		s.logger.Debug("skipping tick, previous run still executing",
			zap.String("task", t.name))
		return
	}
	defer t.running.Store(false)

	start := time.Now()
	if err := t.fn(ctx); err != nil {
		s.logger.Warn("maintenance task failed",
			zap.String("task", t.name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("maintenance task completed",
		zap.String("task", t.name),
		zap.Duration("elapsed", time.Since(start)))
}
