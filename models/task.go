package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TaskType discriminates scheduled task payloads.
type TaskType string

const (
	TaskOpenRoom     TaskType = "open_room"
	TaskTimeoutSweep TaskType = "timeout_sweep"
	TaskRoomPoll     TaskType = "room_poll"
)

// OpenRoomPayload is the payload for TaskOpenRoom.
type OpenRoomPayload struct {
	RaceID string `json:"race_id"`
}

// ScheduledTask is a durable record of one deferred job. Recurring tasks have
// a non-nil IntervalSeconds and are rescheduled after every run; one-shot
// tasks are marked done on success.
type ScheduledTask struct {
	bun.BaseModel `bun:"table:scheduled_tasks,alias:st"`

	ID              string          `bun:"id,pk" json:"id"`
	Type            TaskType        `bun:"type,notnull" json:"type"`
	Payload         json.RawMessage `bun:"payload,type:jsonb" json:"payload,omitempty"`
	NextRun         time.Time       `bun:"next_run,notnull" json:"nextRun"`
	IntervalSeconds *int            `bun:"interval_seconds" json:"intervalSeconds,omitempty"`
	Attempts        int             `bun:"attempts,notnull,default:0" json:"attempts"`
	LastRun         *time.Time      `bun:"last_run" json:"lastRun,omitempty"`
	LastError       *string         `bun:"last_error" json:"lastError,omitempty"`
	Done            bool            `bun:"done,notnull,default:false" json:"done"`
	LockedBy        *string         `bun:"locked_by" json:"-"`
	LockedUntil     *time.Time      `bun:"locked_until" json:"-"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull" json:"updatedAt"`
}

// NewOpenRoomTask builds a one-shot task to open an external room for a race.
func NewOpenRoomTask(raceID string, runAt time.Time) (*ScheduledTask, error) {
	payload, err := json.Marshal(OpenRoomPayload{RaceID: raceID})
	if err != nil {
		return nil, fmt.Errorf("marshal open-room payload: %w", err)
	}
	now := time.Now().UTC()
	return &ScheduledTask{
		ID:        uuid.NewString(),
		Type:      TaskOpenRoom,
		Payload:   payload,
		NextRun:   runAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewRecurringTask builds a recurring task of the given type.
func NewRecurringTask(t TaskType, interval time.Duration, firstRun time.Time) *ScheduledTask {
	secs := int(interval / time.Second)
	now := time.Now().UTC()
	return &ScheduledTask{
		ID:              uuid.NewString(),
		Type:            t,
		NextRun:         firstRun,
		IntervalSeconds: &secs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// OpenRoomPayload decodes the task payload. Fails for any other task type so
// a mis-registered handler surfaces immediately instead of reading zero values.
func (t *ScheduledTask) OpenRoomPayload() (OpenRoomPayload, error) {
	var p OpenRoomPayload
	if t.Type != TaskOpenRoom {
		return p, fmt.Errorf("task %s is %s, not %s", t.ID, t.Type, TaskOpenRoom)
	}
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return p, fmt.Errorf("decode open-room payload for task %s: %w", t.ID, err)
	}
	return p, nil
}

// Recurring reports whether the task reschedules itself after each run.
func (t *ScheduledTask) Recurring() bool {
	return t.IntervalSeconds != nil
}

// Interval returns the reschedule interval for recurring tasks.
func (t *ScheduledTask) Interval() time.Duration {
	if t.IntervalSeconds == nil {
		return 0
	}
	return time.Duration(*t.IntervalSeconds) * time.Second
}
