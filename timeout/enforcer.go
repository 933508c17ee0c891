// Package timeout enforces claim and run deadlines as a recurring swept job.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/config"
	"github.com/tcprescott/sahabot2/lifecycle"
	"github.com/tcprescott/sahabot2/models"
)

var actor = lifecycle.SystemActor("timeout-sweep")

// RaceStore is the query/flag surface the sweep runs against.
type RaceStore interface {
	DuePendingWarning(ctx context.Context, now time.Time) ([]*models.Race, error)
	DuePendingForfeit(ctx context.Context, now time.Time) ([]*models.Race, error)
	DueRunningForfeit(ctx context.Context, cutoff time.Time) ([]*models.Race, error)
	MarkWarningSent(ctx context.Context, raceID string) (bool, error)
}

// Engine applies lifecycle events.
type Engine interface {
	Apply(ctx context.Context, race *models.Race, ev lifecycle.Event, actor lifecycle.Actor) (lifecycle.Outcome, error)
}

// Notifier delivers warning and forfeit messages to runners.
type Notifier interface {
	Send(ctx context.Context, runnerID int64, message string) error
}

// Enforcer scans races against their deadlines. Safe to run on overlapping
// schedules: the warning flag is a conditional write and forfeits go through
// the engine's terminal no-op rule.
type Enforcer struct {
	races  RaceStore
	engine Engine
	notify Notifier
	live   *config.Live
	log    *zap.Logger
	now    func() time.Time
}

// New builds an enforcer.
func New(races RaceStore, engine Engine, notify Notifier, live *config.Live, log *zap.Logger) *Enforcer {
	return &Enforcer{
		races:  races,
		engine: engine,
		notify: notify,
		live:   live,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the enforcer clock.
func (e *Enforcer) WithClock(now func() time.Time) *Enforcer {
	e.now = now
	return e
}

// Sweep runs the three deadline passes. Per-race failures are collected, not
// fatal; the next scheduled sweep picks up whatever this one missed.
func (e *Enforcer) Sweep(ctx context.Context) error {
	now := e.now()
	var errs []error

	if err := e.warnPending(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := e.forfeitPending(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := e.forfeitRunning(ctx, now); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Enforcer) warnPending(ctx context.Context, now time.Time) error {
	races, err := e.races.DuePendingWarning(ctx, now)
	if err != nil {
		return fmt.Errorf("load races due warning: %w", err)
	}

	var errs []error
	for _, race := range races {
		marked, err := e.races.MarkWarningSent(ctx, race.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark warning for race %s: %w", race.ID, err))
			continue
		}
		if !marked {
			// Another sweep got there first.
			continue
		}
		e.log.Info("deadline warning",
			zap.String("race", race.ID),
			zap.Int64("runner", race.RunnerID),
			zap.Time("forfeit_deadline", race.ForfeitDeadline))
		msg := fmt.Sprintf(
			"Your race will be forfeited at %s if you have not started. Join your room or start soon.",
			race.ForfeitDeadline.Format(time.RFC3339))
		if err := e.notify.Send(ctx, race.RunnerID, msg); err != nil {
			e.log.Warn("warning notification failed",
				zap.String("race", race.ID),
				zap.Error(err))
		}
	}
	return errors.Join(errs...)
}

func (e *Enforcer) forfeitPending(ctx context.Context, now time.Time) error {
	races, err := e.races.DuePendingForfeit(ctx, now)
	if err != nil {
		return fmt.Errorf("load races due forfeit: %w", err)
	}
	return e.forfeitAll(ctx, races, "your claim expired before you started")
}

func (e *Enforcer) forfeitRunning(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-e.live.MaxInProgress())
	races, err := e.races.DueRunningForfeit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load overrunning races: %w", err)
	}
	return e.forfeitAll(ctx, races, "your race exceeded the maximum duration")
}

func (e *Enforcer) forfeitAll(ctx context.Context, races []*models.Race, reason string) error {
	var errs []error
	for _, race := range races {
		out, err := e.engine.Apply(ctx, race, lifecycle.TimeoutForfeitEvent{}, actor)
		if err != nil {
			errs = append(errs, fmt.Errorf("forfeit race %s: %w", race.ID, err))
			continue
		}
		if !out.Applied {
			continue
		}
		if err := e.notify.Send(ctx, race.RunnerID, "Your race was forfeited: "+reason+"."); err != nil {
			e.log.Warn("forfeit notification failed",
				zap.String("race", race.ID),
				zap.Error(err))
		}
	}
	return errors.Join(errs...)
}
