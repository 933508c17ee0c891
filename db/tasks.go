package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/tcprescott/sahabot2/models"
)

// TaskStore persists scheduled tasks. Claiming is a conditional write on the
// lock columns so that two workers (or two process instances) never run the
// same task at once.
type TaskStore struct {
	db *bun.DB
}

// NewTaskStore wraps a bun connection.
func NewTaskStore(db *bun.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Insert stores a new task.
func (s *TaskStore) Insert(ctx context.Context, task *models.ScheduledTask) error {
	_, err := s.db.NewInsert().Model(task).Exec(ctx)
	return err
}

// EnsureRecurring inserts a recurring task of the given type unless a live one
// already exists, so process restarts do not stack duplicate sweeps.
func (s *TaskStore) EnsureRecurring(ctx context.Context, t models.TaskType, interval time.Duration) error {
	existing := &models.ScheduledTask{}
	err := s.db.NewSelect().Model(existing).
		Where("type = ?", t).
		Where("done = FALSE").
		Limit(1).
		Scan(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	task := models.NewRecurringTask(t, interval, time.Now().UTC())
	return s.Insert(ctx, task)
}

// Due lists unlocked tasks whose next run time has passed.
func (s *TaskStore) Due(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error) {
	var tasks []*models.ScheduledTask
	err := s.db.NewSelect().Model(&tasks).
		Where("done = FALSE").
		Where("next_run <= ?", now).
		Where("locked_until IS NULL OR locked_until < ?", now).
		Order("next_run ASC").
		Limit(limit).
		Scan(ctx)
	return tasks, err
}

// Claim takes the task lock until the given time. Returns false when another
// worker got there first.
func (s *TaskStore) Claim(ctx context.Context, taskID, workerID string, until time.Time) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().Model((*models.ScheduledTask)(nil)).
		Set("locked_by = ?", workerID).
		Set("locked_until = ?", until).
		Set("updated_at = ?", now).
		Where("id = ?", taskID).
		Where("done = FALSE").
		Where("locked_until IS NULL OR locked_until < ?", now).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Complete marks a one-shot task done and releases the lock.
func (s *TaskStore) Complete(ctx context.Context, taskID string) error {
	now := time.Now().UTC()
	_, err := s.db.NewUpdate().Model((*models.ScheduledTask)(nil)).
		Set("done = TRUE").
		Set("last_run = ?", now).
		Set("last_error = NULL").
		Set("locked_by = NULL").
		Set("locked_until = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", taskID).
		Exec(ctx)
	return err
}

// Reschedule records the run outcome and queues the next attempt. lastErr is
// nil after a successful recurring run.
func (s *TaskStore) Reschedule(ctx context.Context, taskID string, next time.Time, attempts int, lastErr *string) error {
	now := time.Now().UTC()
	_, err := s.db.NewUpdate().Model((*models.ScheduledTask)(nil)).
		Set("next_run = ?", next).
		Set("attempts = ?", attempts).
		Set("last_run = ?", now).
		Set("last_error = ?", lastErr).
		Set("locked_by = NULL").
		Set("locked_until = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", taskID).
		Exec(ctx)
	return err
}

// Fail marks a task permanently failed; it will not run again.
func (s *TaskStore) Fail(ctx context.Context, taskID, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.NewUpdate().Model((*models.ScheduledTask)(nil)).
		Set("done = TRUE").
		Set("last_run = ?", now).
		Set("last_error = ?", errMsg).
		Set("locked_by = NULL").
		Set("locked_until = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", taskID).
		Exec(ctx)
	return err
}
