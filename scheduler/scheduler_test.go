package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/models"
	"github.com/tcprescott/sahabot2/racing"
)

type storeCall struct {
	op       string
	next     time.Time
	attempts int
	lastErr  *string
	errMsg   string
}

type fakeTaskStore struct {
	mu    sync.Mutex
	calls []storeCall
}

func (f *fakeTaskStore) Due(context.Context, time.Time, int) ([]*models.ScheduledTask, error) {
	return nil, nil
}

func (f *fakeTaskStore) Claim(context.Context, string, string, time.Time) (bool, error) {
	return true, nil
}

func (f *fakeTaskStore) Complete(_ context.Context, taskID string) error {
	f.record(storeCall{op: "complete"})
	return nil
}

func (f *fakeTaskStore) Reschedule(_ context.Context, taskID string, next time.Time, attempts int, lastErr *string) error {
	f.record(storeCall{op: "reschedule", next: next, attempts: attempts, lastErr: lastErr})
	return nil
}

func (f *fakeTaskStore) Fail(_ context.Context, taskID, errMsg string) error {
	f.record(storeCall{op: "fail", errMsg: errMsg})
	return nil
}

func (f *fakeTaskStore) EnsureRecurring(context.Context, models.TaskType, time.Duration) error {
	return nil
}

func (f *fakeTaskStore) record(c storeCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeTaskStore) last(t *testing.T) storeCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func testScheduler(store TaskStore, now time.Time) *Scheduler {
	s := New(store, zap.NewNop(), nil)
	s.now = func() time.Time { return now }
	return s
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, Backoff(1))
	assert.Equal(t, time.Minute, Backoff(2))
	assert.Equal(t, 2*time.Minute, Backoff(3))
	assert.Equal(t, 16*time.Minute, Backoff(6))
	assert.Equal(t, 30*time.Minute, Backoff(7), "capped")
	assert.Equal(t, 30*time.Minute, Backoff(50), "stays capped")
	assert.Equal(t, 30*time.Second, Backoff(0), "floor at first attempt")
}

func TestSettle_OneShotCompletes(t *testing.T) {
	store := &fakeTaskStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testScheduler(store, now)

	task, err := models.NewOpenRoomTask("race-1", now)
	require.NoError(t, err)
	s.settle(context.Background(), task, nil)
	assert.Equal(t, "complete", store.last(t).op)
}

func TestSettle_OneShotRetriesTransientWithBackoff(t *testing.T) {
	store := &fakeTaskStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testScheduler(store, now)

	task, err := models.NewOpenRoomTask("race-1", now)
	require.NoError(t, err)
	task.Attempts = 2
	s.settle(context.Background(), task, racing.ErrUnavailable)

	call := store.last(t)
	assert.Equal(t, "reschedule", call.op)
	assert.Equal(t, 3, call.attempts)
	assert.Equal(t, now.Add(Backoff(3)), call.next)
	require.NotNil(t, call.lastErr)
}

func TestSettle_OneShotAuthFailureIsPermanent(t *testing.T) {
	store := &fakeTaskStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testScheduler(store, now)

	task, err := models.NewOpenRoomTask("race-1", now)
	require.NoError(t, err)
	s.settle(context.Background(), task, racing.ErrAuthFailure)
	assert.Equal(t, "fail", store.last(t).op)
}

func TestSettle_OneShotExhaustedAttemptsFail(t *testing.T) {
	store := &fakeTaskStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testScheduler(store, now)

	task, err := models.NewOpenRoomTask("race-1", now)
	require.NoError(t, err)
	task.Attempts = maxAttempts - 1
	s.settle(context.Background(), task, racing.ErrUnavailable)
	assert.Equal(t, "fail", store.last(t).op)
}

func TestSettle_OneShotNonTransientErrorFails(t *testing.T) {
	store := &fakeTaskStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testScheduler(store, now)

	task, err := models.NewOpenRoomTask("race-1", now)
	require.NoError(t, err)
	s.settle(context.Background(), task, errors.New("payload corrupt"))
	call := store.last(t)
	assert.Equal(t, "fail", call.op)
	assert.Equal(t, "payload corrupt", call.errMsg)
}

func TestSettle_RecurringAlwaysReschedules(t *testing.T) {
	store := &fakeTaskStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testScheduler(store, now)

	task := models.NewRecurringTask(models.TaskTimeoutSweep, time.Minute, now)
	task.Attempts = 99

	s.settle(context.Background(), task, racing.ErrUnavailable)
	call := store.last(t)
	assert.Equal(t, "reschedule", call.op)
	assert.Equal(t, now.Add(time.Minute), call.next, "interval from the task row")
	assert.Equal(t, 0, call.attempts, "recurring tasks never accumulate attempts")
	require.NotNil(t, call.lastErr)

	s.settle(context.Background(), task, nil)
	call = store.last(t)
	assert.Equal(t, "reschedule", call.op)
	assert.Nil(t, call.lastErr)
}

func TestSettle_RecurringUsesLiveIntervalOverride(t *testing.T) {
	store := &fakeTaskStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(store, zap.NewNop(), func(models.TaskType) time.Duration { return 5 * time.Minute })
	s.now = func() time.Time { return now }

	task := models.NewRecurringTask(models.TaskRoomPoll, time.Minute, now)
	s.settle(context.Background(), task, nil)
	assert.Equal(t, now.Add(5*time.Minute), store.last(t).next)
}

func TestTransient(t *testing.T) {
	assert.True(t, transient(racing.ErrUnavailable))
	assert.True(t, transient(context.DeadlineExceeded))
	assert.False(t, transient(racing.ErrAuthFailure))
	assert.False(t, transient(errors.New("anything else")))
	assert.True(t, transient(errors.Join(errors.New("wrapped"), racing.ErrUnavailable)))
}
