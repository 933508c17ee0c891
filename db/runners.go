package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"github.com/tcprescott/sahabot2/models"
)

// RunnerStore reads runner records and their racing-service account links.
type RunnerStore struct {
	db *bun.DB
}

// NewRunnerStore wraps a bun connection.
func NewRunnerStore(db *bun.DB) *RunnerStore {
	return &RunnerStore{db: db}
}

// ByUsername loads a runner for credential checks.
func (s *RunnerStore) ByUsername(ctx context.Context, username string) (*models.Runner, error) {
	runner := &models.Runner{}
	err := s.db.NewSelect().Model(runner).
		Where("username = ?", username).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return runner, nil
}

// ExternalID returns the runner's identity on the racing service, or nil when
// no account link exists.
func (s *RunnerStore) ExternalID(ctx context.Context, runnerID int64) (*string, error) {
	runner := &models.Runner{}
	err := s.db.NewSelect().Model(runner).
		Column("racing_name").
		Where("id = ?", runnerID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return runner.RacingName, nil
}
