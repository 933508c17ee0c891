package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tcprescott/sahabot2/lifecycle"
	"github.com/tcprescott/sahabot2/models"
	"github.com/tcprescott/sahabot2/racing"
	"github.com/tcprescott/sahabot2/reconcile"
	"github.com/tcprescott/sahabot2/testutil"
)

type fakePoller struct {
	room *racing.Room
	err  error
}

func (f *fakePoller) RoomStatus(context.Context, string) (*racing.Room, error) {
	return f.room, f.err
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

type fakeTasks struct {
	inserted []*models.ScheduledTask
}

func (f *fakeTasks) Insert(_ context.Context, task *models.ScheduledTask) error {
	f.inserted = append(f.inserted, task)
	return nil
}

func newHandler(store *testutil.RaceStore, tasks *fakeTasks, poller *fakePoller, accounts *fakeAccounts, now time.Time) *reconcile.Handler {
	rules := func() lifecycle.Rules {
		return lifecycle.Rules{
			WarningLead:   10 * time.Minute,
			MaxPending:    time.Hour,
			MaxInProgress: 3 * time.Hour,
		}
	}
	clock := func() time.Time { return now }
	engine := lifecycle.NewEngine(store, &testutil.AuditRecorder{}, zap.NewNop(), rules).WithClock(clock)
	return reconcile.New(store, tasks, engine, poller, accounts, zap.NewNop()).WithClock(clock)
}

func roomRace(t0 time.Time, slug string) *models.Race {
	return &models.Race{
		ID:              "race-1",
		PermalinkID:     7,
		RunnerID:        42,
		Status:          models.RacePending,
		ThreadOpenTime:  t0,
		WarningDeadline: t0.Add(50 * time.Minute),
		ForfeitDeadline: t0.Add(time.Hour),
		RoomSlug:        &slug,
	}
}

func TestEntrantEvent_UnknownRoomDroppedSilently(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := testutil.NewRaceStore()
	store.Add(roomRace(t0, "alttpr-cute-doge-1234"))
	h := newHandler(store, &fakeTasks{}, &fakePoller{}, &fakeAccounts{}, t0)

	err := h.EntrantEvent(context.Background(), "no-such-room", racing.Entrant{
		UserID: "xyz",
		Status: racing.EntrantDone,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RacePending, store.Snapshot("race-1").Status)
}

func TestEntrantEvent_StartThenFinish(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slug := "alttpr-cute-doge-1234"
	store := testutil.NewRaceStore()
	store.Add(roomRace(t0, slug))
	store.SetPar(7, 3000)
	accounts := &fakeAccounts{links: map[int64]string{42: "ajile#1234"}}
	h := newHandler(store, &fakeTasks{}, &fakePoller{}, accounts, t0.Add(time.Hour))
	ctx := context.Background()

	require.NoError(t, h.EntrantEvent(ctx, slug, racing.Entrant{
		UserID: "ajile#1234",
		Status: racing.EntrantInProgress,
	}))
	assert.Equal(t, models.RaceInProgress, store.Snapshot("race-1").Status)

	finish := 3600.0
	require.NoError(t, h.EntrantEvent(ctx, slug, racing.Entrant{
		UserID:        "ajile#1234",
		Status:        racing.EntrantDone,
		FinishSeconds: &finish,
	}))
	race := store.Snapshot("race-1")
	assert.Equal(t, models.RaceFinished, race.Status)
	require.NotNil(t, race.Score)
	assert.InDelta(t, 1.2, *race.Score, 1e-9)
}

func TestEntrantEvent_DuplicateFinishIsNoOp(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slug := "alttpr-cute-doge-1234"
	store := testutil.NewRaceStore()
	race := roomRace(t0, slug)
	race.Status = models.RaceInProgress
	start := t0.Add(5 * time.Minute)
	race.StartTime = &start
	store.Add(race)
	store.SetPar(7, 3000)
	h := newHandler(store, &fakeTasks{}, &fakePoller{}, &fakeAccounts{}, t0.Add(time.Hour))
	ctx := context.Background()

	finish := 3600.0
	ev := racing.Entrant{UserID: "whoever", Status: racing.EntrantDone, FinishSeconds: &finish}
	require.NoError(t, h.EntrantEvent(ctx, slug, ev))
	first := store.Snapshot("race-1")

	// At-least-once delivery: the same event lands again.
	require.NoError(t, h.EntrantEvent(ctx, slug, ev))
	second := store.Snapshot("race-1")
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.EndTime, second.EndTime)
	assert.Equal(t, first.Score, second.Score)
}

func TestEntrantEvent_OtherUsersIgnored(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slug := "alttpr-cute-doge-1234"
	store := testutil.NewRaceStore()
	store.Add(roomRace(t0, slug))
	accounts := &fakeAccounts{links: map[int64]string{42: "ajile#1234"}}
	h := newHandler(store, &fakeTasks{}, &fakePoller{}, accounts, t0)

	require.NoError(t, h.EntrantEvent(context.Background(), slug, racing.Entrant{
		UserID: "somebody-else",
		Status: racing.EntrantInProgress,
	}))
	assert.Equal(t, models.RacePending, store.Snapshot("race-1").Status)
}

func TestEntrantEvent_ForfeitOnDNF(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slug := "alttpr-cute-doge-1234"
	store := testutil.NewRaceStore()
	race := roomRace(t0, slug)
	race.Status = models.RaceInProgress
	start := t0.Add(5 * time.Minute)
	race.StartTime = &start
	store.Add(race)
	h := newHandler(store, &fakeTasks{}, &fakePoller{}, &fakeAccounts{}, t0.Add(time.Hour))

	require.NoError(t, h.EntrantEvent(context.Background(), slug, racing.Entrant{
		UserID: "whoever",
		Status: racing.EntrantDNF,
	}))
	after := store.Snapshot("race-1")
	assert.Equal(t, models.RaceForfeit, after.Status)
	assert.NotNil(t, after.EndTime)
}

func TestPollRoom_CancelledReturnsRaceToPending(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slug := "alttpr-cute-doge-1234"
	store := testutil.NewRaceStore()
	race := roomRace(t0, slug)
	race.Status = models.RaceInProgress
	start := t0.Add(5 * time.Minute)
	race.StartTime = &start
	store.Add(race)

	now := t0.Add(20 * time.Minute)
	poller := &fakePoller{room: &racing.Room{SlugName: slug, Status: racing.RoomCancelled}}
	tasks := &fakeTasks{}
	h := newHandler(store, tasks, poller, &fakeAccounts{}, now)

	require.NoError(t, h.PollRoom(context.Background(), store.Snapshot("race-1")))
	after := store.Snapshot("race-1")
	assert.Equal(t, models.RacePending, after.Status)
	assert.Nil(t, after.RoomSlug, "room link must be cleared")
	assert.Nil(t, after.StartTime)
	assert.False(t, after.WarningSent)
	assert.Equal(t, now.Add(time.Hour), after.ForfeitDeadline)
	assert.Equal(t, now.Add(50*time.Minute), after.WarningDeadline)

	// A replacement room is queued, not left for a manual restart.
	require.Len(t, tasks.inserted, 1)
	assert.Equal(t, models.TaskOpenRoom, tasks.inserted[0].Type)
}

func TestRaceStatusEvent_CancelledQueuesReplacementRoom(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slug := "alttpr-cute-doge-1234"
	store := testutil.NewRaceStore()
	store.Add(roomRace(t0, slug))

	now := t0.Add(10 * time.Minute)
	tasks := &fakeTasks{}
	h := newHandler(store, tasks, &fakePoller{}, &fakeAccounts{}, now)

	require.NoError(t, h.RaceStatusEvent(context.Background(), slug, racing.RoomCancelled))
	after := store.Snapshot("race-1")
	assert.Equal(t, models.RacePending, after.Status)
	assert.Nil(t, after.RoomSlug)

	require.Len(t, tasks.inserted, 1)
	task := tasks.inserted[0]
	assert.Equal(t, models.TaskOpenRoom, task.Type)
	assert.Equal(t, now, task.NextRun)
	payload, err := task.OpenRoomPayload()
	require.NoError(t, err)
	assert.Equal(t, "race-1", payload.RaceID)
}

func TestRaceStatusEvent_CancelledAfterForfeitClearsDeadLink(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slug := "alttpr-cute-doge-1234"
	store := testutil.NewRaceStore()
	race := roomRace(t0, slug)
	race.Status = models.RaceForfeit
	end := t0.Add(time.Hour)
	race.EndTime = &end
	store.Add(race)

	tasks := &fakeTasks{}
	h := newHandler(store, tasks, &fakePoller{}, &fakeAccounts{}, t0.Add(2*time.Hour))

	require.NoError(t, h.RaceStatusEvent(context.Background(), slug, racing.RoomCancelled))
	after := store.Snapshot("race-1")
	assert.Equal(t, models.RaceForfeit, after.Status, "outcome stands")
	assert.Equal(t, end, *after.EndTime)
	assert.Nil(t, after.RoomSlug, "slug must stop resolving to a settled race")
	assert.Empty(t, tasks.inserted, "terminal races get no replacement room")
}

func TestPollRoom_RecoversMissedFinishAfterRestart(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slug := "alttpr-cute-doge-1234"
	store := testutil.NewRaceStore()
	store.Add(roomRace(t0, slug))
	store.SetPar(7, 3000)
	accounts := &fakeAccounts{links: map[int64]string{42: "ajile#1234"}}

	// The process restarted and never saw the start or finish events.
	finish := 3600.0
	poller := &fakePoller{room: &racing.Room{
		SlugName: slug,
		Status:   racing.RoomFinished,
		Entrants: []racing.Entrant{
			{UserID: "ajile#1234", Status: racing.EntrantDone, FinishSeconds: &finish},
		},
	}}
	h := newHandler(store, &fakeTasks{}, poller, accounts, t0.Add(time.Hour))

	require.NoError(t, h.PollRoom(context.Background(), store.Snapshot("race-1")))
	race := store.Snapshot("race-1")
	assert.Equal(t, models.RaceFinished, race.Status)
	require.NotNil(t, race.Score)
	assert.InDelta(t, 1.2, *race.Score, 1e-9)
}
