package rooms_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/config"
	"github.com/tcprescott/sahabot2/models"
	"github.com/tcprescott/sahabot2/racing"
	"github.com/tcprescott/sahabot2/rooms"
)

type fakeRaceStore struct {
	races        map[string]*models.Race
	getByRoomErr error
}

func (f *fakeRaceStore) GetWithMeta(_ context.Context, id string) (*models.Race, error) {
	race, ok := f.races[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return race, nil
}

func (f *fakeRaceStore) GetByRoom(_ context.Context, slug string) (*models.Race, error) {
	if f.getByRoomErr != nil {
		return nil, f.getByRoomErr
	}
	for _, race := range f.races {
		if race.RoomSlug != nil && *race.RoomSlug == slug {
			return race, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRaceStore) LinkRoom(_ context.Context, raceID, slug string) (bool, error) {
	race, ok := f.races[raceID]
	if !ok || race.RoomSlug != nil || race.Status != models.RacePending {
		return false, nil
	}
	race.RoomSlug = &slug
	return true, nil
}

type fakeAccounts struct {
	links map[int64]string
}

func (f *fakeAccounts) ExternalID(_ context.Context, runnerID int64) (*string, error) {
	if name, ok := f.links[runnerID]; ok {
		return &name, nil
	}
	return nil, nil
}

type fakeClient struct {
	created   []racing.CreateRoomRequest
	invites   []string
	accepts   []string
	createErr error
	inviteErr error
}

func (f *fakeClient) CreateRoom(_ context.Context, req racing.CreateRoomRequest) (*racing.Room, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &racing.Room{SlugName: "alttpr-cute-doge-1234", Status: racing.RoomInvitational}, nil
}

func (f *fakeClient) Invite(_ context.Context, slug, user string) error {
	if f.inviteErr != nil {
		return f.inviteErr
	}
	f.invites = append(f.invites, slug+"/"+user)
	return nil
}

func (f *fakeClient) AcceptRequest(_ context.Context, slug, user string) error {
	f.accepts = append(f.accepts, slug+"/"+user)
	return nil
}

func pendingRace() *models.Race {
	delay := 30
	return &models.Race{
		ID:          "race-1",
		RunnerID:    42,
		PermalinkID: 7,
		Status:      models.RacePending,
		Tournament: &models.Tournament{
			Game: "alttpr",
			Goal: "Qualifier: beat the game",
			RoomProfile: &models.RoomProfile{
				StartDelaySeconds: &delay,
			},
		},
		Permalink: &models.Permalink{
			URL:  "https://alttpr.com/h/abcDEF",
			Pool: &models.Pool{Name: "Open Pool", TournamentID: 1},
		},
		ThreadOpenTime: time.Now().UTC(),
	}
}

func newOrchestrator(store *fakeRaceStore, accounts *fakeAccounts, client *fakeClient) *rooms.Orchestrator {
	return rooms.New(store, accounts, client, config.NewLive(), zap.NewNop())
}

func TestOpen_CreatesLinksAndInvites(t *testing.T) {
	store := &fakeRaceStore{races: map[string]*models.Race{"race-1": pendingRace()}}
	accounts := &fakeAccounts{links: map[int64]string{42: "ajile#1234"}}
	client := &fakeClient{}
	o := newOrchestrator(store, accounts, client)

	require.NoError(t, o.Open(context.Background(), "race-1"))

	require.Len(t, client.created, 1)
	req := client.created[0]
	assert.True(t, req.InviteOnly)
	assert.Equal(t, "alttpr", req.Game)
	assert.Equal(t, "Qualifier: beat the game", req.Goal)
	assert.Equal(t, "Open Pool: https://alttpr.com/h/abcDEF", req.Info)
	assert.Equal(t, 30, req.StartDelaySeconds, "tournament profile overrides defaults")

	require.NotNil(t, store.races["race-1"].RoomSlug)
	assert.Equal(t, "alttpr-cute-doge-1234", *store.races["race-1"].RoomSlug)
	assert.Equal(t, []string{"alttpr-cute-doge-1234/ajile#1234"}, client.invites)
}

func TestOpen_SecondCallFailsFast(t *testing.T) {
	store := &fakeRaceStore{races: map[string]*models.Race{"race-1": pendingRace()}}
	client := &fakeClient{}
	o := newOrchestrator(store, &fakeAccounts{}, client)
	ctx := context.Background()

	require.NoError(t, o.Open(ctx, "race-1"))
	slug := *store.races["race-1"].RoomSlug

	err := o.Open(ctx, "race-1")
	assert.ErrorIs(t, err, rooms.ErrAlreadyHasRoom)
	assert.Equal(t, slug, *store.races["race-1"].RoomSlug, "room identifier unchanged")
	assert.Len(t, client.created, 1, "no duplicate room created")
}

func TestOpen_InviteFailureDoesNotFailOpen(t *testing.T) {
	store := &fakeRaceStore{races: map[string]*models.Race{"race-1": pendingRace()}}
	accounts := &fakeAccounts{links: map[int64]string{42: "ajile#1234"}}
	client := &fakeClient{inviteErr: racing.ErrUnavailable}
	o := newOrchestrator(store, accounts, client)

	require.NoError(t, o.Open(context.Background(), "race-1"))
	assert.NotNil(t, store.races["race-1"].RoomSlug)
}

func TestOpen_CreateFailurePropagatesForRetry(t *testing.T) {
	store := &fakeRaceStore{races: map[string]*models.Race{"race-1": pendingRace()}}
	client := &fakeClient{createErr: racing.ErrUnavailable}
	o := newOrchestrator(store, &fakeAccounts{}, client)

	err := o.Open(context.Background(), "race-1")
	assert.ErrorIs(t, err, racing.ErrUnavailable)
	assert.Nil(t, store.races["race-1"].RoomSlug)
}

func TestOpen_NoAccountLinkSkipsInvite(t *testing.T) {
	store := &fakeRaceStore{races: map[string]*models.Race{"race-1": pendingRace()}}
	client := &fakeClient{}
	o := newOrchestrator(store, &fakeAccounts{}, client)

	require.NoError(t, o.Open(context.Background(), "race-1"))
	assert.Empty(t, client.invites)
}

func TestJoinRequest_AcceptsOnlyTheRunner(t *testing.T) {
	race := pendingRace()
	slug := "alttpr-cute-doge-1234"
	race.RoomSlug = &slug
	store := &fakeRaceStore{races: map[string]*models.Race{"race-1": race}}
	accounts := &fakeAccounts{links: map[int64]string{42: "ajile#1234"}}
	client := &fakeClient{}
	o := newOrchestrator(store, accounts, client)
	ctx := context.Background()

	accepted, err := o.JoinRequest(ctx, slug, "ajile#1234")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, []string{slug + "/ajile#1234"}, client.accepts)

	accepted, err = o.JoinRequest(ctx, slug, "stranger#9999")
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Len(t, client.accepts, 1)
}

func TestJoinRequest_IgnoresUnknownRoomAndTerminalRace(t *testing.T) {
	race := pendingRace()
	slug := "alttpr-cute-doge-1234"
	race.RoomSlug = &slug
	race.Status = models.RaceForfeit
	store := &fakeRaceStore{races: map[string]*models.Race{"race-1": race}}
	accounts := &fakeAccounts{links: map[int64]string{42: "ajile#1234"}}
	client := &fakeClient{}
	o := newOrchestrator(store, accounts, client)
	ctx := context.Background()

	accepted, err := o.JoinRequest(ctx, "nope", "ajile#1234")
	require.NoError(t, err)
	assert.False(t, accepted)

	accepted, err = o.JoinRequest(ctx, slug, "ajile#1234")
	require.NoError(t, err)
	assert.False(t, accepted, "terminal races admit nobody")
	assert.Empty(t, client.accepts)
}

func TestJoinRequest_StoreFailurePropagates(t *testing.T) {
	dbErr := errors.New("connection reset")
	store := &fakeRaceStore{getByRoomErr: dbErr}
	client := &fakeClient{}
	o := newOrchestrator(store, &fakeAccounts{}, client)

	accepted, err := o.JoinRequest(context.Background(), "alttpr-cute-doge-1234", "ajile#1234")
	assert.ErrorIs(t, err, dbErr, "a flaky store is not an unknown room")
	assert.False(t, accepted)
	assert.Empty(t, client.accepts)
}

func TestOpen_RefusesNonPendingRace(t *testing.T) {
	race := pendingRace()
	race.Status = models.RaceInProgress
	store := &fakeRaceStore{races: map[string]*models.Race{"race-1": race}}
	client := &fakeClient{}
	o := newOrchestrator(store, &fakeAccounts{}, client)

	err := o.Open(context.Background(), "race-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, rooms.ErrAlreadyHasRoom))
	assert.Empty(t, client.created)
}
