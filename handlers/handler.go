package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/config"
	"github.com/tcprescott/sahabot2/lifecycle"
	"github.com/tcprescott/sahabot2/models"
	"github.com/tcprescott/sahabot2/racing"
)

// RaceStore is the race persistence surface handlers use directly.
type RaceStore interface {
	Get(ctx context.Context, id string) (*models.Race, error)
	Insert(ctx context.Context, race *models.Race) error
	HasActiveClaim(ctx context.Context, permalinkID, runnerID int64) (bool, error)
	PermalinkWithPool(ctx context.Context, id int64) (*models.Permalink, error)
	RequestReview(ctx context.Context, raceID, reason string) (bool, error)
	ResolveReview(ctx context.Context, raceID string, reviewerID int64, approved bool, notes *string) (bool, error)
}

// TaskStore schedules the open-room job when a race is claimed.
type TaskStore interface {
	Insert(ctx context.Context, task *models.ScheduledTask) error
}

// RunnerStore loads runners for credential checks.
type RunnerStore interface {
	ByUsername(ctx context.Context, username string) (*models.Runner, error)
}

// Engine applies lifecycle events.
type Engine interface {
	Apply(ctx context.Context, race *models.Race, ev lifecycle.Event, actor lifecycle.Actor) (lifecycle.Outcome, error)
}

// Reconciler consumes pushed racing-service events.
type Reconciler interface {
	EntrantEvent(ctx context.Context, slug string, ent racing.Entrant) error
	RaceStatusEvent(ctx context.Context, slug, status string) error
}

// JoinAccepter vets join requests for invitational rooms.
type JoinAccepter interface {
	JoinRequest(ctx context.Context, slug, externalUserID string) (bool, error)
}

// Handler holds shared dependencies used by all route handlers.
type Handler struct {
	races      RaceStore
	tasks      TaskStore
	runners    RunnerStore
	engine     Engine
	reconciler Reconciler
	rooms      JoinAccepter
	live       *config.Live
	log        *zap.Logger

	JWTKey        []byte
	WebhookSecret string
}

// New creates a Handler wired to its collaborators.
func New(
	races RaceStore,
	tasks TaskStore,
	runners RunnerStore,
	engine Engine,
	reconciler Reconciler,
	rooms JoinAccepter,
	live *config.Live,
	log *zap.Logger,
	jwtKey []byte,
	webhookSecret string,
) *Handler {
	return &Handler{
		races:         races,
		tasks:         tasks,
		runners:       runners,
		engine:        engine,
		reconciler:    reconciler,
		rooms:         rooms,
		live:          live,
		log:           log,
		JWTKey:        jwtKey,
		WebhookSecret: webhookSecret,
	}
}
