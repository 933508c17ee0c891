package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/tcprescott/sahabot2/lifecycle"
	"github.com/tcprescott/sahabot2/models"
)

// RaceStore persists races. Every mutation is a conditional write so that
// concurrent transitions resolve to one winner and one no-op, never a mixed
// record.
type RaceStore struct {
	db *bun.DB
}

// NewRaceStore wraps a bun connection.
func NewRaceStore(db *bun.DB) *RaceStore {
	return &RaceStore{db: db}
}

// Get loads one race by id.
func (s *RaceStore) Get(ctx context.Context, id string) (*models.Race, error) {
	race := &models.Race{}
	err := s.db.NewSelect().Model(race).
		Where("rc.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return race, nil
}

// GetWithMeta loads a race along with its permalink, pool and tournament,
// used when deriving room goal text.
func (s *RaceStore) GetWithMeta(ctx context.Context, id string) (*models.Race, error) {
	race := &models.Race{}
	err := s.db.NewSelect().Model(race).
		Relation("Permalink").
		Relation("Permalink.Pool").
		Relation("Tournament").
		Where("rc.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return race, nil
}

// GetByRoom resolves the race currently linked to an external room.
func (s *RaceStore) GetByRoom(ctx context.Context, slug string) (*models.Race, error) {
	race := &models.Race{}
	err := s.db.NewSelect().Model(race).
		Where("rc.room_slug = ?", slug).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return race, nil
}

// Insert stores a freshly claimed race.
func (s *RaceStore) Insert(ctx context.Context, race *models.Race) error {
	_, err := s.db.NewInsert().Model(race).Exec(ctx)
	return err
}

// HasActiveClaim reports whether the runner already has a non-terminal race
// against the permalink.
func (s *RaceStore) HasActiveClaim(ctx context.Context, permalinkID, runnerID int64) (bool, error) {
	return s.db.NewSelect().Model((*models.Race)(nil)).
		Where("permalink_id = ?", permalinkID).
		Where("runner_id = ?", runnerID).
		Where("status IN (?)", bun.In([]models.RaceStatus{models.RacePending, models.RaceInProgress})).
		Exists(ctx)
}

// PermalinkWithPool loads a permalink and its pool, used when a runner claims
// a seed.
func (s *RaceStore) PermalinkWithPool(ctx context.Context, id int64) (*models.Permalink, error) {
	pl := &models.Permalink{}
	err := s.db.NewSelect().Model(pl).
		Relation("Pool").
		Where("pl.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// ParSeconds returns the permalink's par time, nil when none is set.
func (s *RaceStore) ParSeconds(ctx context.Context, permalinkID int64) (*int, error) {
	pl := &models.Permalink{}
	err := s.db.NewSelect().Model(pl).
		Column("par_seconds").
		Where("id = ?", permalinkID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return pl.ParSeconds, nil
}

// ApplyChange writes one computed transition, guarded on the expected prior
// status. Returns lifecycle.ErrStale when another transition won the race.
func (s *RaceStore) ApplyChange(ctx context.Context, raceID string, expect models.RaceStatus, ch lifecycle.Change) (*models.Race, error) {
	now := time.Now().UTC()
	q := s.db.NewUpdate().Model((*models.Race)(nil)).
		Set("status = ?", ch.To).
		Set("updated_at = ?", now)

	if ch.StartTime != nil {
		q = q.Set("start_time = ?", *ch.StartTime)
	}
	if ch.ResetStart {
		q = q.Set("start_time = NULL")
	}
	if ch.EndTime != nil {
		q = q.Set("end_time = ?", *ch.EndTime)
	}
	if ch.Score != nil {
		q = q.Set("score = ?", *ch.Score).Set("score_updated_at = ?", now)
	}
	if ch.VOD != nil {
		q = q.Set("runner_vod = ?", *ch.VOD)
	}
	if ch.Notes != nil {
		q = q.Set("runner_notes = ?", *ch.Notes)
	}
	if ch.ClearRoom {
		q = q.Set("room_slug = NULL")
	}
	if ch.WarningDeadline != nil {
		q = q.Set("warning_deadline = ?", *ch.WarningDeadline)
	}
	if ch.ForfeitDeadline != nil {
		q = q.Set("forfeit_deadline = ?", *ch.ForfeitDeadline)
	}
	if ch.ResetWarning {
		q = q.Set("warning_sent = FALSE")
	}

	res, err := q.
		Where("id = ?", raceID).
		Where("status = ?", expect).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, lifecycle.ErrStale
	}
	return s.Get(ctx, raceID)
}

// LinkRoom records the external room on a race. The write only lands while
// the race is still pending with no room, which is what makes a second open
// attempt fail instead of silently replacing the link.
func (s *RaceStore) LinkRoom(ctx context.Context, raceID, slug string) (bool, error) {
	res, err := s.db.NewUpdate().Model((*models.Race)(nil)).
		Set("room_slug = ?", slug).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", raceID).
		Where("room_slug IS NULL").
		Where("status = ?", models.RacePending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearRoom drops a dead room link without touching race state. Used when the
// external room reports cancellation after the race already reached a terminal
// status, so the slug stops resolving to a settled race.
func (s *RaceStore) ClearRoom(ctx context.Context, raceID string) (bool, error) {
	res, err := s.db.NewUpdate().Model((*models.Race)(nil)).
		Set("room_slug = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", raceID).
		Where("room_slug IS NOT NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkWarningSent flips the warning flag exactly once per deadline window.
func (s *RaceStore) MarkWarningSent(ctx context.Context, raceID string) (bool, error) {
	res, err := s.db.NewUpdate().Model((*models.Race)(nil)).
		Set("warning_sent = TRUE").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", raceID).
		Where("status = ?", models.RacePending).
		Where("warning_sent = FALSE").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DuePendingWarning lists pending races inside the warning window that have
// not been warned yet.
func (s *RaceStore) DuePendingWarning(ctx context.Context, now time.Time) ([]*models.Race, error) {
	var races []*models.Race
	err := s.db.NewSelect().Model(&races).
		Where("status = ?", models.RacePending).
		Where("warning_sent = FALSE").
		Where("warning_deadline <= ?", now).
		Where("forfeit_deadline > ?", now).
		Scan(ctx)
	return races, err
}

// DuePendingForfeit lists pending races past their forfeit deadline.
func (s *RaceStore) DuePendingForfeit(ctx context.Context, now time.Time) ([]*models.Race, error) {
	var races []*models.Race
	err := s.db.NewSelect().Model(&races).
		Where("status = ?", models.RacePending).
		Where("forfeit_deadline <= ?", now).
		Scan(ctx)
	return races, err
}

// DueRunningForfeit lists in-progress races that started at or before cutoff.
func (s *RaceStore) DueRunningForfeit(ctx context.Context, cutoff time.Time) ([]*models.Race, error) {
	var races []*models.Race
	err := s.db.NewSelect().Model(&races).
		Where("status = ?", models.RaceInProgress).
		Where("start_time IS NOT NULL").
		Where("start_time <= ?", cutoff).
		Scan(ctx)
	return races, err
}

// OpenRoomLinks lists non-terminal races currently holding an external room,
// the input set for the periodic poll-reconciliation job.
func (s *RaceStore) OpenRoomLinks(ctx context.Context) ([]*models.Race, error) {
	var races []*models.Race
	err := s.db.NewSelect().Model(&races).
		Where("room_slug IS NOT NULL").
		Where("status IN (?)", bun.In([]models.RaceStatus{models.RacePending, models.RaceInProgress})).
		Scan(ctx)
	return races, err
}

// RequestReview flags a finished race for review without changing status.
func (s *RaceStore) RequestReview(ctx context.Context, raceID, reason string) (bool, error) {
	res, err := s.db.NewUpdate().Model((*models.Race)(nil)).
		Set("review_requested = TRUE").
		Set("review_reason = ?", reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", raceID).
		Where("status = ?", models.RaceFinished).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ResolveReview records a reviewer verdict on a finished, flagged race.
func (s *RaceStore) ResolveReview(ctx context.Context, raceID string, reviewerID int64, approved bool, notes *string) (bool, error) {
	res, err := s.db.NewUpdate().Model((*models.Race)(nil)).
		Set("reviewer_id = ?", reviewerID).
		Set("review_approved = ?", approved).
		Set("reviewer_notes = ?", notes).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", raceID).
		Where("status = ?", models.RaceFinished).
		Where("review_requested = TRUE").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
