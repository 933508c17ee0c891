package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/tcprescott/sahabot2/lifecycle"
	"github.com/tcprescott/sahabot2/models"
)

// AuditStore appends transition records. It implements lifecycle.AuditSink.
type AuditStore struct {
	db *bun.DB
}

// NewAuditStore wraps a bun connection.
func NewAuditStore(db *bun.DB) *AuditStore {
	return &AuditStore{db: db}
}

// RecordTransition appends one audit entry for an applied transition.
func (s *AuditStore) RecordTransition(ctx context.Context, raceID string, from, to models.RaceStatus, actor lifecycle.Actor) error {
	entry := &models.AuditEntry{
		RaceID:     raceID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor.Name,
		System:     actor.System,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.NewInsert().Model(entry).Exec(ctx)
	return err
}
