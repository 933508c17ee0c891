package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/models"
)

// Store is the persistence surface the engine mutates through. ApplyChange
// must be a single conditional write: apply only if the stored status still
// equals expect, returning ErrStale otherwise.
type Store interface {
	Get(ctx context.Context, id string) (*models.Race, error)
	ApplyChange(ctx context.Context, raceID string, expect models.RaceStatus, ch Change) (*models.Race, error)
	ParSeconds(ctx context.Context, permalinkID int64) (*int, error)
}

// AuditSink records one entry per applied transition.
type AuditSink interface {
	RecordTransition(ctx context.Context, raceID string, from, to models.RaceStatus, actor Actor) error
}

// Outcome is the result of applying an event. Applied is false when the event
// was a legal no-op (terminal race or duplicate delivery); manual callers use
// it to report "already finished" instead of pretending a write happened.
type Outcome struct {
	Race    *models.Race
	Applied bool
}

// Engine applies lifecycle events. It performs no I/O beyond the store write
// and the audit record; retries and backoff belong to the scheduler.
type Engine struct {
	store Store
	audit AuditSink
	log   *zap.Logger
	rules func() Rules
	now   func() time.Time
}

// NewEngine builds an engine. rules is called per Apply so configuration
// changes take effect without a restart.
func NewEngine(store Store, audit AuditSink, log *zap.Logger, rules func() Rules) *Engine {
	return &Engine{
		store: store,
		audit: audit,
		log:   log,
		rules: rules,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Apply computes and persists the transition for ev. On a write conflict it
// reloads the race once and recomputes: if the race went terminal in the
// meantime the call degrades to a no-op, so overlapping sweeps and duplicate
// external events never corrupt state.
func (e *Engine) Apply(ctx context.Context, race *models.Race, ev Event, actor Actor) (Outcome, error) {
	for attempt := 0; ; attempt++ {
		ch, err := Next(race, ev, e.now(), e.rules())
		if errors.Is(err, ErrAlreadyTerminal) || errors.Is(err, ErrNoChange) {
			e.log.Debug("lifecycle no-op",
				zap.String("race", race.ID),
				zap.String("status", string(race.Status)))
			return Outcome{Race: race}, nil
		}
		if err != nil {
			return Outcome{Race: race}, err
		}

		if ch.To == models.RaceFinished {
			par, perr := e.store.ParSeconds(ctx, race.PermalinkID)
			if perr != nil {
				return Outcome{Race: race}, fmt.Errorf("load par time: %w", perr)
			}
			score, serr := Score(*ch.ElapsedSeconds, par)
			if serr != nil {
				return Outcome{Race: race}, serr
			}
			ch.Score = &score
		}

		updated, err := e.store.ApplyChange(ctx, race.ID, ch.From, ch)
		if errors.Is(err, ErrStale) {
			if attempt >= 1 {
				return Outcome{Race: race}, fmt.Errorf("race %s: %w", race.ID, ErrStale)
			}
			fresh, gerr := e.store.Get(ctx, race.ID)
			if gerr != nil {
				return Outcome{Race: race}, fmt.Errorf("reload race %s: %w", race.ID, gerr)
			}
			race = fresh
			continue
		}
		if err != nil {
			return Outcome{Race: race}, fmt.Errorf("apply %s to race %s: %w", ev.eventName(), race.ID, err)
		}

		if aerr := e.audit.RecordTransition(ctx, race.ID, ch.From, ch.To, actor); aerr != nil {
			e.log.Warn("audit record failed",
				zap.String("race", race.ID),
				zap.Error(aerr))
		}
		e.log.Info("race transition",
			zap.String("race", race.ID),
			zap.String("from", string(ch.From)),
			zap.String("to", string(ch.To)),
			zap.String("actor", actor.Name),
			zap.Bool("system", actor.System))
		return Outcome{Race: updated, Applied: true}, nil
	}
}
