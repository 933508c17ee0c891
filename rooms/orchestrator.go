// Package rooms opens external rooms for races and handles join requests.
package rooms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/config"
	"github.com/tcprescott/sahabot2/models"
	"github.com/tcprescott/sahabot2/racing"
)

// ErrAlreadyHasRoom is returned when a race already holds a room link. Opening
// never silently replaces an existing room.
var ErrAlreadyHasRoom = errors.New("race already has a room")

// RaceStore is the persistence surface the orchestrator needs.
type RaceStore interface {
	GetWithMeta(ctx context.Context, id string) (*models.Race, error)
	GetByRoom(ctx context.Context, slug string) (*models.Race, error)
	LinkRoom(ctx context.Context, raceID, slug string) (bool, error)
}

// AccountLinker resolves a local runner to their racing-service identity.
type AccountLinker interface {
	ExternalID(ctx context.Context, runnerID int64) (*string, error)
}

// RoomClient is the slice of the racing client the orchestrator calls.
type RoomClient interface {
	CreateRoom(ctx context.Context, req racing.CreateRoomRequest) (*racing.Room, error)
	Invite(ctx context.Context, slug, externalUserID string) error
	AcceptRequest(ctx context.Context, slug, externalUserID string) error
}

// Orchestrator opens rooms, invites runners and vets join requests.
type Orchestrator struct {
	races    RaceStore
	accounts AccountLinker
	client   RoomClient
	live     *config.Live
	log      *zap.Logger
}

// New builds an orchestrator.
func New(races RaceStore, accounts AccountLinker, client RoomClient, live *config.Live, log *zap.Logger) *Orchestrator {
	return &Orchestrator{races: races, accounts: accounts, client: client, live: live, log: log}
}

// Open creates an external room for a pending race, records the link, then
// invites the runner best-effort. The link is written before any invite
// attempt so a crashed invite is recoverable without re-creating the room.
func (o *Orchestrator) Open(ctx context.Context, raceID string) error {
	race, err := o.races.GetWithMeta(ctx, raceID)
	if err != nil {
		return fmt.Errorf("load race %s: %w", raceID, err)
	}
	if race.RoomSlug != nil {
		return fmt.Errorf("race %s: %w", raceID, ErrAlreadyHasRoom)
	}
	if race.Status != models.RacePending {
		return fmt.Errorf("race %s is %s, not pending", raceID, race.Status)
	}

	profile := resolveProfile(race, o.live.RoomDefaults())
	req := racing.CreateRoomRequest{
		InviteOnly:        true,
		StartDelaySeconds: profile.StartDelaySeconds,
		TimeLimitHours:    profile.TimeLimitHours,
		ChatRestricted:    profile.ChatRestricted,
		StreamingRequired: profile.StreamingRequired,
	}
	if race.Tournament != nil {
		req.Game = race.Tournament.Game
		req.Goal = race.Tournament.Goal
	}
	if race.Permalink != nil {
		req.Info = race.Permalink.URL
		if race.Permalink.Pool != nil {
			req.Info = race.Permalink.Pool.Name + ": " + race.Permalink.URL
		}
	}

	room, err := o.client.CreateRoom(ctx, req)
	if err != nil {
		return err
	}

	linked, err := o.races.LinkRoom(ctx, raceID, room.SlugName)
	if err != nil {
		return fmt.Errorf("link room %s to race %s: %w", room.SlugName, raceID, err)
	}
	if !linked {
		// The race moved or was linked concurrently. The fresh room is left
		// for the external service's own expiry.
		o.log.Warn("room created but race no longer linkable",
			zap.String("race", raceID),
			zap.String("room", room.SlugName))
		return fmt.Errorf("race %s: %w", raceID, ErrAlreadyHasRoom)
	}

	o.log.Info("room opened",
		zap.String("race", raceID),
		zap.String("room", room.SlugName))

	// Invites are advisory; the runner can still join manually.
	ext, err := o.accounts.ExternalID(ctx, race.RunnerID)
	if err != nil {
		o.log.Warn("account link lookup failed",
			zap.String("race", raceID),
			zap.Error(err))
		return nil
	}
	if ext == nil {
		o.log.Debug("runner has no racing account link, skipping invite",
			zap.String("race", raceID),
			zap.Int64("runner", race.RunnerID))
		return nil
	}
	if err := o.client.Invite(ctx, room.SlugName, *ext); err != nil {
		o.log.Warn("invite failed",
			zap.String("race", raceID),
			zap.String("room", room.SlugName),
			zap.Error(err))
	}
	return nil
}

// JoinRequest decides whether a user asking to join an invitational room is
// the race's own runner. Matches are admitted; everything else is left for
// manual moderation. Returns whether the request was accepted.
func (o *Orchestrator) JoinRequest(ctx context.Context, slug, externalUserID string) (bool, error) {
	race, err := o.races.GetByRoom(ctx, slug)
	if errors.Is(err, sql.ErrNoRows) {
		o.log.Debug("join request for unknown room ignored",
			zap.String("room", slug),
			zap.String("user", externalUserID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve room %s: %w", slug, err)
	}
	if race.Status != models.RacePending && race.Status != models.RaceInProgress {
		return false, nil
	}

	ext, err := o.accounts.ExternalID(ctx, race.RunnerID)
	if err != nil {
		return false, fmt.Errorf("account link lookup for race %s: %w", race.ID, err)
	}
	if ext == nil || *ext != externalUserID {
		o.log.Info("join request left for moderation",
			zap.String("room", slug),
			zap.String("user", externalUserID))
		return false, nil
	}

	if err := o.client.AcceptRequest(ctx, slug, externalUserID); err != nil {
		return false, err
	}
	o.log.Info("join request accepted",
		zap.String("room", slug),
		zap.String("user", externalUserID))
	return true, nil
}

type resolvedProfile struct {
	StartDelaySeconds int
	TimeLimitHours    int
	ChatRestricted    bool
	StreamingRequired bool
}

// resolveProfile merges the override chain: per-race profile, then tournament
// profile, then organization defaults, then hard defaults.
func resolveProfile(race *models.Race, orgDefaults models.RoomProfile) resolvedProfile {
	out := resolvedProfile{
		StartDelaySeconds: 15,
		TimeLimitHours:    24,
		ChatRestricted:    true,
		StreamingRequired: false,
	}
	layers := []*models.RoomProfile{&orgDefaults}
	if race.Tournament != nil && race.Tournament.RoomProfile != nil {
		layers = append(layers, race.Tournament.RoomProfile)
	}
	if race.RoomProfile != nil {
		layers = append(layers, race.RoomProfile)
	}
	for _, p := range layers {
		if p.StartDelaySeconds != nil {
			out.StartDelaySeconds = *p.StartDelaySeconds
		}
		if p.TimeLimitHours != nil {
			out.TimeLimitHours = *p.TimeLimitHours
		}
		if p.ChatRestricted != nil {
			out.ChatRestricted = *p.ChatRestricted
		}
		if p.StreamingRequired != nil {
			out.StreamingRequired = *p.StreamingRequired
		}
	}
	return out
}
