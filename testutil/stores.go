// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/tcprescott/sahabot2/lifecycle"
	"github.com/tcprescott/sahabot2/models"
)

// RaceStore is an in-memory race store implementing the store surfaces of the
// lifecycle engine, the timeout enforcer and the reconciliation handler, with
// the same conditional-write semantics as the database implementation.
type RaceStore struct {
	mu    sync.Mutex
	races map[string]*models.Race
	pars  map[int64]*int
}

// NewRaceStore returns an empty store.
func NewRaceStore() *RaceStore {
	return &RaceStore{
		races: make(map[string]*models.Race),
		pars:  make(map[int64]*int),
	}
}

// Add seeds a race.
func (s *RaceStore) Add(race *models.Race) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.races[race.ID] = race
}

// SetPar seeds a permalink par time.
func (s *RaceStore) SetPar(permalinkID int64, parSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pars[permalinkID] = &parSeconds
}

// Get implements lifecycle.Store.
func (s *RaceStore) Get(_ context.Context, id string) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	race, ok := s.races[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *race
	return &cp, nil
}

// GetByRoom resolves a room slug the way the database store does.
func (s *RaceStore) GetByRoom(_ context.Context, slug string) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, race := range s.races {
		if race.RoomSlug != nil && *race.RoomSlug == slug {
			cp := *race
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

// ParSeconds implements lifecycle.Store.
func (s *RaceStore) ParSeconds(_ context.Context, permalinkID int64) (*int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pars[permalinkID], nil
}

// ApplyChange implements lifecycle.Store with the conditional-write guard.
func (s *RaceStore) ApplyChange(_ context.Context, raceID string, expect models.RaceStatus, ch lifecycle.Change) (*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	race, ok := s.races[raceID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if race.Status != expect {
		return nil, lifecycle.ErrStale
	}

	now := time.Now().UTC()
	race.Status = ch.To
	race.UpdatedAt = now
	if ch.StartTime != nil {
		race.StartTime = ch.StartTime
	}
	if ch.ResetStart {
		race.StartTime = nil
	}
	if ch.EndTime != nil {
		race.EndTime = ch.EndTime
	}
	if ch.Score != nil {
		race.Score = ch.Score
		race.ScoreUpdatedAt = &now
	}
	if ch.VOD != nil {
		race.RunnerVOD = ch.VOD
	}
	if ch.Notes != nil {
		race.RunnerNotes = ch.Notes
	}
	if ch.ClearRoom {
		race.RoomSlug = nil
	}
	if ch.WarningDeadline != nil {
		race.WarningDeadline = *ch.WarningDeadline
	}
	if ch.ForfeitDeadline != nil {
		race.ForfeitDeadline = *ch.ForfeitDeadline
	}
	if ch.ResetWarning {
		race.WarningSent = false
	}

	cp := *race
	return &cp, nil
}

// ClearRoom drops a room link regardless of race status, matching the
// database store's conditional write.
func (s *RaceStore) ClearRoom(_ context.Context, raceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	race, ok := s.races[raceID]
	if !ok || race.RoomSlug == nil {
		return false, nil
	}
	race.RoomSlug = nil
	return true, nil
}

// MarkWarningSent implements the timeout enforcer's conditional flag write.
func (s *RaceStore) MarkWarningSent(_ context.Context, raceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	race, ok := s.races[raceID]
	if !ok || race.Status != models.RacePending || race.WarningSent {
		return false, nil
	}
	race.WarningSent = true
	return true, nil
}

// DuePendingWarning implements the timeout enforcer query surface.
func (s *RaceStore) DuePendingWarning(_ context.Context, now time.Time) ([]*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Race
	for _, race := range s.races {
		if race.Status == models.RacePending && !race.WarningSent &&
			!race.WarningDeadline.After(now) && race.ForfeitDeadline.After(now) {
			cp := *race
			out = append(out, &cp)
		}
	}
	return out, nil
}

// DuePendingForfeit implements the timeout enforcer query surface.
func (s *RaceStore) DuePendingForfeit(_ context.Context, now time.Time) ([]*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Race
	for _, race := range s.races {
		if race.Status == models.RacePending && !race.ForfeitDeadline.After(now) {
			cp := *race
			out = append(out, &cp)
		}
	}
	return out, nil
}

// DueRunningForfeit implements the timeout enforcer query surface.
func (s *RaceStore) DueRunningForfeit(_ context.Context, cutoff time.Time) ([]*models.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Race
	for _, race := range s.races {
		if race.Status == models.RaceInProgress && race.StartTime != nil && !race.StartTime.After(cutoff) {
			cp := *race
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Snapshot returns a copy of the stored race for assertions.
func (s *RaceStore) Snapshot(id string) *models.Race {
	s.mu.Lock()
	defer s.mu.Unlock()
	race, ok := s.races[id]
	if !ok {
		return nil
	}
	cp := *race
	return &cp
}

// AuditRecorder collects transition records.
type AuditRecorder struct {
	mu      sync.Mutex
	Entries []models.AuditEntry
}

// RecordTransition implements lifecycle.AuditSink.
func (a *AuditRecorder) RecordTransition(_ context.Context, raceID string, from, to models.RaceStatus, actor lifecycle.Actor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Entries = append(a.Entries, models.AuditEntry{
		RaceID:     raceID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor.Name,
		System:     actor.System,
	})
	return nil
}

// NotifyRecorder collects sent notifications.
type NotifyRecorder struct {
	mu       sync.Mutex
	Messages []string
}

// Send implements the notifier interface.
func (n *NotifyRecorder) Send(_ context.Context, runnerID int64, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, message)
	return nil
}

// Count returns how many notifications were sent.
func (n *NotifyRecorder) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Messages)
}
