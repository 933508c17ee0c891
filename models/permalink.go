package models

import "github.com/uptrace/bun"

// Permalink is a specific seed a runner races against. Read-only to the core.
type Permalink struct {
	bun.BaseModel `bun:"table:permalinks,alias:pl"`

	ID         int64   `bun:"id,pk,autoincrement" json:"id"`
	PoolID     int64   `bun:"pool_id,notnull" json:"poolID"`
	URL        string  `bun:"url,notnull" json:"url"`
	ParSeconds *int    `bun:"par_seconds" json:"parSeconds,omitempty"`
	Notes      *string `bun:"notes" json:"notes,omitempty"`

	Pool *Pool `bun:"rel:belongs-to,join:pool_id=id" json:"-"`
}

// Pool groups permalinks of comparable difficulty within a tournament.
type Pool struct {
	bun.BaseModel `bun:"table:pools,alias:po"`

	ID           int64  `bun:"id,pk,autoincrement" json:"id"`
	TournamentID int64  `bun:"tournament_id,notnull" json:"tournamentID"`
	Name         string `bun:"name,notnull" json:"name"`
}
