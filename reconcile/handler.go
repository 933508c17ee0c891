// Package reconcile translates external entrant and room status signals into
// lifecycle events. It is the sync boundary with the racing service: both the
// pushed event stream and the polled snapshots funnel through the same
// idempotent engine, so at-least-once delivery never double-applies anything.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/lifecycle"
	"github.com/tcprescott/sahabot2/models"
	"github.com/tcprescott/sahabot2/racing"
)

var actor = lifecycle.SystemActor("reconciler")

// RaceStore resolves room slugs to local races and drops dead room links.
type RaceStore interface {
	GetByRoom(ctx context.Context, slug string) (*models.Race, error)
	ClearRoom(ctx context.Context, raceID string) (bool, error)
}

// TaskScheduler queues follow-up work for races the handler touches.
type TaskScheduler interface {
	Insert(ctx context.Context, task *models.ScheduledTask) error
}

// Engine applies lifecycle events.
type Engine interface {
	Apply(ctx context.Context, race *models.Race, ev lifecycle.Event, actor lifecycle.Actor) (lifecycle.Outcome, error)
}

// StatusPoller reads a room snapshot on demand.
type StatusPoller interface {
	RoomStatus(ctx context.Context, slug string) (*racing.Room, error)
}

// AccountLinker resolves a local runner to their racing-service identity.
type AccountLinker interface {
	ExternalID(ctx context.Context, runnerID int64) (*string, error)
}

// Handler consumes external signals and drives the lifecycle engine.
type Handler struct {
	races    RaceStore
	tasks    TaskScheduler
	engine   Engine
	client   StatusPoller
	accounts AccountLinker
	log      *zap.Logger
	now      func() time.Time
}

// New builds a handler.
func New(races RaceStore, tasks TaskScheduler, engine Engine, client StatusPoller, accounts AccountLinker, log *zap.Logger) *Handler {
	return &Handler{
		races:    races,
		tasks:    tasks,
		engine:   engine,
		client:   client,
		accounts: accounts,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the handler clock.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// EntrantEvent handles one pushed entrant status change for a room. Events
// for rooms with no matching race are dropped with a warning: the service may
// deliver events for rooms this process no longer tracks.
func (h *Handler) EntrantEvent(ctx context.Context, slug string, ent racing.Entrant) error {
	race, ok, err := h.lookup(ctx, slug)
	if err != nil || !ok {
		return err
	}
	if !h.entrantIsRunner(ctx, race, ent) {
		h.log.Debug("entrant event for non-runner ignored",
			zap.String("room", slug),
			zap.String("entrant", ent.UserID))
		return nil
	}
	return h.applyEntrant(ctx, race, ent)
}

// RaceStatusEvent handles one pushed room-level status change.
func (h *Handler) RaceStatusEvent(ctx context.Context, slug, status string) error {
	race, ok, err := h.lookup(ctx, slug)
	if err != nil || !ok {
		return err
	}
	switch status {
	case racing.RoomInProgress:
		_, err := h.engine.Apply(ctx, race, lifecycle.StartEvent{}, actor)
		return err
	case racing.RoomCancelled:
		return h.roomCancelled(ctx, race)
	}
	// finished rooms resolve through entrant-level outcomes.
	return nil
}

// roomCancelled returns the race to pending and queues a fresh open-room task
// so a replacement room gets created. Terminal races keep their outcome but
// still drop the dead room link, so the slug stops resolving to them.
func (h *Handler) roomCancelled(ctx context.Context, race *models.Race) error {
	out, err := h.engine.Apply(ctx, race, lifecycle.RoomCancelledEvent{}, actor)
	if err != nil {
		return err
	}
	if !out.Applied {
		if out.Race.RoomSlug != nil {
			if _, err := h.races.ClearRoom(ctx, race.ID); err != nil {
				return fmt.Errorf("clear room link for race %s: %w", race.ID, err)
			}
			h.log.Info("dead room link cleared",
				zap.String("race", race.ID),
				zap.String("status", string(out.Race.Status)))
		}
		return nil
	}

	task, err := models.NewOpenRoomTask(race.ID, h.now())
	if err != nil {
		return err
	}
	if err := h.tasks.Insert(ctx, task); err != nil {
		return fmt.Errorf("queue open-room task for race %s: %w", race.ID, err)
	}
	h.log.Info("room cancelled, replacement room queued",
		zap.String("race", race.ID),
		zap.String("task", task.ID))
	return nil
}

// PollRoom reconciles one race against an on-demand room snapshot. Used by
// the recurring poll job and after restarts, when no live stream was attached
// to observe events as they happened.
func (h *Handler) PollRoom(ctx context.Context, race *models.Race) error {
	if race.RoomSlug == nil {
		return nil
	}
	room, err := h.client.RoomStatus(ctx, *race.RoomSlug)
	if err != nil {
		return err
	}

	if room.Status == racing.RoomCancelled {
		return h.roomCancelled(ctx, race)
	}
	if room.Status == racing.RoomInProgress && race.Status == models.RacePending {
		out, err := h.engine.Apply(ctx, race, lifecycle.StartEvent{}, actor)
		if err != nil {
			return err
		}
		race = out.Race
	}

	ent, ok := h.runnerEntrant(ctx, race, room.Entrants)
	if !ok {
		return nil
	}
	return h.applyEntrant(ctx, race, ent)
}

func (h *Handler) lookup(ctx context.Context, slug string) (*models.Race, bool, error) {
	race, err := h.races.GetByRoom(ctx, slug)
	if errors.Is(err, sql.ErrNoRows) {
		h.log.Warn("event for unknown room dropped", zap.String("room", slug))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolve room %s: %w", slug, err)
	}
	return race, true, nil
}

// entrantIsRunner reports whether the entrant is resolvably the race's own
// runner. With no account link the lone invited entrant is taken at face
// value.
func (h *Handler) entrantIsRunner(ctx context.Context, race *models.Race, ent racing.Entrant) bool {
	ext, err := h.accounts.ExternalID(ctx, race.RunnerID)
	if err != nil {
		h.log.Warn("account link lookup failed",
			zap.String("race", race.ID),
			zap.Error(err))
		return false
	}
	if ext == nil {
		return true
	}
	return *ext == ent.UserID
}

func (h *Handler) runnerEntrant(ctx context.Context, race *models.Race, entrants []racing.Entrant) (racing.Entrant, bool) {
	ext, err := h.accounts.ExternalID(ctx, race.RunnerID)
	if err == nil && ext != nil {
		for _, ent := range entrants {
			if ent.UserID == *ext {
				return ent, true
			}
		}
		return racing.Entrant{}, false
	}
	if len(entrants) == 1 {
		return entrants[0], true
	}
	return racing.Entrant{}, false
}

func (h *Handler) applyEntrant(ctx context.Context, race *models.Race, ent racing.Entrant) error {
	switch ent.Status {
	case racing.EntrantInProgress:
		_, err := h.engine.Apply(ctx, race, lifecycle.StartEvent{}, actor)
		return err

	case racing.EntrantDone:
		// A finish may arrive without the start ever having been observed,
		// e.g. across a restart. Start first so the finish is legal.
		if race.Status == models.RacePending {
			out, err := h.engine.Apply(ctx, race, lifecycle.StartEvent{}, actor)
			if err != nil {
				return err
			}
			race = out.Race
		}
		_, err := h.engine.Apply(ctx, race, lifecycle.FinishEvent{
			ElapsedSeconds: h.elapsedFor(race, ent),
		}, actor)
		return err

	case racing.EntrantDNF, racing.EntrantDQ:
		_, err := h.engine.Apply(ctx, race, lifecycle.ForfeitEvent{}, actor)
		return err
	}
	return nil
}

// elapsedFor prefers the service-reported finish time and falls back to the
// local start time when the snapshot omits it.
func (h *Handler) elapsedFor(race *models.Race, ent racing.Entrant) float64 {
	if ent.FinishSeconds != nil {
		return *ent.FinishSeconds
	}
	if race.StartTime != nil {
		return h.now().Sub(*race.StartTime).Seconds()
	}
	return h.now().Sub(race.ThreadOpenTime).Seconds()
}
