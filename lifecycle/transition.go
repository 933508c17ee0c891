package lifecycle

import (
	"fmt"
	"time"

	"github.com/tcprescott/sahabot2/models"
)

// Rules are the deadline knobs in force at the moment a transition is
// computed. They are read fresh from configuration per call, never cached.
type Rules struct {
	WarningLead   time.Duration
	MaxPending    time.Duration
	MaxInProgress time.Duration
}

// Change is the computed effect of one legal transition. It is applied to the
// store as a single conditional write keyed on From.
type Change struct {
	From models.RaceStatus
	To   models.RaceStatus

	StartTime  *time.Time // set only on pending → in_progress
	EndTime    *time.Time // set only on → finished / → forfeit
	ResetStart bool       // room cancelled: clear start_time on the way back to pending

	ElapsedSeconds *float64 // finish only; input to the score calculator
	Score          *float64 // stamped by the engine before the write
	VOD            *string
	Notes          *string

	ClearRoom       bool
	WarningDeadline *time.Time
	ForfeitDeadline *time.Time
	ResetWarning    bool
}

// Next computes the transition for ev against the race's current state.
// It performs no I/O. Terminal races yield ErrAlreadyTerminal for every event
// so duplicate deliveries and overlapping sweeps degrade to no-ops.
func Next(race *models.Race, ev Event, now time.Time, rules Rules) (Change, error) {
	if race.Terminal() {
		return Change{}, fmt.Errorf("race %s is %s: %w", race.ID, race.Status, ErrAlreadyTerminal)
	}

	switch e := ev.(type) {
	case StartEvent:
		if race.Status == models.RaceInProgress {
			return Change{}, ErrNoChange
		}
		start := now
		return Change{
			From:      race.Status,
			To:        models.RaceInProgress,
			StartTime: &start,
		}, nil

	case FinishEvent:
		if e.ElapsedSeconds <= 0 {
			return Change{}, fmt.Errorf("%w: elapsed seconds must be positive", ErrValidation)
		}
		if race.Status != models.RaceInProgress {
			return Change{}, fmt.Errorf("cannot finish a %s race: %w", race.Status, ErrInvalidTransition)
		}
		end := now
		elapsed := e.ElapsedSeconds
		return Change{
			From:           race.Status,
			To:             models.RaceFinished,
			EndTime:        &end,
			ElapsedSeconds: &elapsed,
			VOD:            e.VOD,
			Notes:          e.Notes,
		}, nil

	case TimeoutForfeitEvent:
		end := now
		switch race.Status {
		case models.RacePending:
			if now.Before(race.ForfeitDeadline) {
				return Change{}, fmt.Errorf("forfeit deadline not reached: %w", ErrInvalidTransition)
			}
		case models.RaceInProgress:
			if race.StartTime == nil || now.Before(race.StartTime.Add(rules.MaxInProgress)) {
				return Change{}, fmt.Errorf("max duration not reached: %w", ErrInvalidTransition)
			}
		}
		return Change{
			From:    race.Status,
			To:      models.RaceForfeit,
			EndTime: &end,
		}, nil

	case ForfeitEvent:
		end := now
		return Change{
			From:    race.Status,
			To:      models.RaceForfeit,
			EndTime: &end,
		}, nil

	case RoomCancelledEvent:
		forfeitAt := now.Add(rules.MaxPending)
		warnAt := forfeitAt.Add(-rules.WarningLead)
		return Change{
			From:            race.Status,
			To:              models.RacePending,
			ClearRoom:       true,
			ResetStart:      true,
			WarningDeadline: &warnAt,
			ForfeitDeadline: &forfeitAt,
			ResetWarning:    true,
		}, nil

	case AdminCancelEvent:
		return Change{
			From: race.Status,
			To:   models.RaceCancelled,
		}, nil
	}

	return Change{}, fmt.Errorf("unhandled event %q: %w", ev.eventName(), ErrInvalidTransition)
}
