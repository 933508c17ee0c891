package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AuditEntry records one race transition with the actor that caused it.
// System is true for transitions applied by background jobs rather than a
// person, so automated forfeits are distinguishable from manual ones.
type AuditEntry struct {
	bun.BaseModel `bun:"table:audit_log,alias:al"`

	ID         int64      `bun:"id,pk,autoincrement" json:"id"`
	RaceID     string     `bun:"race_id,notnull" json:"raceID"`
	FromStatus RaceStatus `bun:"from_status,notnull" json:"fromStatus"`
	ToStatus   RaceStatus `bun:"to_status,notnull" json:"toStatus"`
	Actor      string     `bun:"actor,notnull" json:"actor"`
	System     bool       `bun:"system,notnull,default:false" json:"system"`
	CreatedAt  time.Time  `bun:"created_at,notnull" json:"createdAt"`
}
