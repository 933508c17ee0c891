// Package scheduler drives durable scheduled tasks from their table. It owns
// all retry and backoff policy; job bodies just return classified errors.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/models"
	"github.com/tcprescott/sahabot2/racing"
)

// TaskStore is the persistence surface for scheduled tasks.
type TaskStore interface {
	Due(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error)
	Claim(ctx context.Context, taskID, workerID string, until time.Time) (bool, error)
	Complete(ctx context.Context, taskID string) error
	Reschedule(ctx context.Context, taskID string, next time.Time, attempts int, lastErr *string) error
	Fail(ctx context.Context, taskID, errMsg string) error
	EnsureRecurring(ctx context.Context, t models.TaskType, interval time.Duration) error
}

// JobFunc executes one task run. The context carries the run budget.
type JobFunc func(ctx context.Context, task *models.ScheduledTask) error

const (
	tickInterval = 15 * time.Second
	runBudget    = 2 * time.Minute
	maxWorkers   = 4
	maxAttempts  = 8
	backoffBase  = 30 * time.Second
	backoffCap   = 30 * time.Minute
)

// Scheduler polls for due tasks, claims them, and runs each in its own
// bounded goroutine so a slow external call never blocks the timeout sweep.
type Scheduler struct {
	store     TaskStore
	log       *zap.Logger
	workerID  string
	jobs      map[models.TaskType]JobFunc
	intervals func(models.TaskType) time.Duration
	sem       chan struct{}
	wg        sync.WaitGroup
	now       func() time.Time
}

// New builds a scheduler. intervals maps a recurring task type to its live
// cadence; returning 0 keeps the interval stored on the task.
func New(store TaskStore, log *zap.Logger, intervals func(models.TaskType) time.Duration) *Scheduler {
	if intervals == nil {
		intervals = func(models.TaskType) time.Duration { return 0 }
	}
	return &Scheduler{
		store:     store,
		log:       log,
		workerID:  uuid.NewString(),
		jobs:      make(map[models.TaskType]JobFunc),
		intervals: intervals,
		sem:       make(chan struct{}, maxWorkers),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register binds a handler to a task type. Must be called before Run.
func (s *Scheduler) Register(t models.TaskType, fn JobFunc) {
	s.jobs[t] = fn
}

// EnsureRecurring guarantees a live recurring task of the given type exists.
func (s *Scheduler) EnsureRecurring(ctx context.Context, t models.TaskType, interval time.Duration) error {
	return s.store.EnsureRecurring(ctx, t, interval)
}

// Run drives the loop until ctx is cancelled, then waits for in-flight runs.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler drained")
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	now := s.now()
	tasks, err := s.store.Due(ctx, now, 20)
	if err != nil {
		s.log.Error("load due tasks failed", zap.Error(err))
		return
	}

	for _, task := range tasks {
		fn, ok := s.jobs[task.Type]
		if !ok {
			s.log.Error("no handler for task type",
				zap.String("task", task.ID),
				zap.String("type", string(task.Type)))
			if err := s.store.Fail(ctx, task.ID, "no handler registered"); err != nil {
				s.log.Error("fail task", zap.String("task", task.ID), zap.Error(err))
			}
			continue
		}

		claimed, err := s.store.Claim(ctx, task.ID, s.workerID, now.Add(runBudget+tickInterval))
		if err != nil {
			s.log.Error("claim task failed", zap.String("task", task.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		s.wg.Add(1)
		go func(task *models.ScheduledTask) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.runOne(ctx, task, fn)
		}(task)
	}
}

func (s *Scheduler) runOne(ctx context.Context, task *models.ScheduledTask, fn JobFunc) {
	runCtx, cancel := context.WithTimeout(ctx, runBudget)
	defer cancel()

	err := fn(runCtx, task)

	// Outcome bookkeeping uses a fresh context: the run budget may already be
	// spent, and losing the outcome would stall the task until lock expiry.
	outCtx, outCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer outCancel()
	s.settle(outCtx, task, err)
}

func (s *Scheduler) settle(ctx context.Context, task *models.ScheduledTask, runErr error) {
	if task.Recurring() {
		interval := s.intervals(task.Type)
		if interval <= 0 {
			interval = task.Interval()
		}
		var lastErr *string
		if runErr != nil {
			msg := runErr.Error()
			lastErr = &msg
			s.log.Error("recurring task run failed",
				zap.String("task", task.ID),
				zap.String("type", string(task.Type)),
				zap.Error(runErr))
		}
		if err := s.store.Reschedule(ctx, task.ID, s.now().Add(interval), 0, lastErr); err != nil {
			s.log.Error("reschedule task", zap.String("task", task.ID), zap.Error(err))
		}
		return
	}

	switch {
	case runErr == nil:
		if err := s.store.Complete(ctx, task.ID); err != nil {
			s.log.Error("complete task", zap.String("task", task.ID), zap.Error(err))
		}

	case transient(runErr) && task.Attempts+1 < maxAttempts:
		attempts := task.Attempts + 1
		delay := Backoff(attempts)
		msg := runErr.Error()
		s.log.Warn("task failed, will retry",
			zap.String("task", task.ID),
			zap.String("type", string(task.Type)),
			zap.Int("attempts", attempts),
			zap.Duration("backoff", delay),
			zap.Error(runErr))
		if err := s.store.Reschedule(ctx, task.ID, s.now().Add(delay), attempts, &msg); err != nil {
			s.log.Error("reschedule task", zap.String("task", task.ID), zap.Error(err))
		}

	default:
		// Auth failures, illegal transitions and exhausted retries all need
		// an operator, not another attempt.
		s.log.Error("task failed permanently",
			zap.String("task", task.ID),
			zap.String("type", string(task.Type)),
			zap.Error(runErr))
		if err := s.store.Fail(ctx, task.ID, runErr.Error()); err != nil {
			s.log.Error("fail task", zap.String("task", task.ID), zap.Error(err))
		}
	}
}

// transient reports whether the error is worth retrying with backoff.
func transient(err error) bool {
	if errors.Is(err, racing.ErrAuthFailure) {
		return false
	}
	return errors.Is(err, racing.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Backoff returns the exponential delay before the given attempt number.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := backoffBase << (attempts - 1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// String implements fmt.Stringer for log context.
func (s *Scheduler) String() string {
	return fmt.Sprintf("scheduler(%s)", s.workerID)
}
