package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RaceStatus is the lifecycle state of an async qualifier attempt.
type RaceStatus string

const (
	RacePending    RaceStatus = "pending"
	RaceInProgress RaceStatus = "in_progress"
	RaceFinished   RaceStatus = "finished"
	RaceForfeit    RaceStatus = "forfeit"
	RaceCancelled  RaceStatus = "cancelled"
)

// Terminal reports whether no further automatic transition may change the status.
func (s RaceStatus) Terminal() bool {
	return s == RaceFinished || s == RaceForfeit || s == RaceCancelled
}

// RoomProfile holds the knobs used when opening an external room. Nil fields
// fall through to the next level of the override chain (race, tournament,
// organization defaults).
type RoomProfile struct {
	StartDelaySeconds *int  `json:"start_delay_seconds,omitempty"`
	TimeLimitHours    *int  `json:"time_limit_hours,omitempty"`
	ChatRestricted    *bool `json:"chat_restricted,omitempty"`
	StreamingRequired *bool `json:"streaming_required,omitempty"`
}

// Race is one attempt by one runner against one permalink.
type Race struct {
	bun.BaseModel `bun:"table:races,alias:rc"`

	ID           string `bun:"id,pk" json:"id"`
	TournamentID int64  `bun:"tournament_id,notnull" json:"tournamentID"`
	PermalinkID  int64  `bun:"permalink_id,notnull" json:"permalinkID"`
	RunnerID     int64  `bun:"runner_id,notnull" json:"runnerID"`

	Status RaceStatus `bun:"status,notnull,default:'pending'" json:"status"`

	ThreadOpenTime  time.Time  `bun:"thread_open_time,notnull" json:"threadOpenTime"`
	WarningDeadline time.Time  `bun:"warning_deadline,notnull" json:"warningDeadline"`
	ForfeitDeadline time.Time  `bun:"forfeit_deadline,notnull" json:"forfeitDeadline"`
	WarningSent     bool       `bun:"warning_sent,notnull,default:false" json:"warningSent"`
	StartTime       *time.Time `bun:"start_time" json:"startTime,omitempty"`
	EndTime         *time.Time `bun:"end_time" json:"endTime,omitempty"`

	// RoomSlug is set only while an external room exists for this race.
	RoomSlug *string `bun:"room_slug" json:"roomSlug,omitempty"`

	// Per-race room profile override. Usually nil.
	RoomProfile *RoomProfile `bun:"room_profile,type:jsonb" json:"roomProfile,omitempty"`

	RunnerNotes     *string    `bun:"runner_notes" json:"runnerNotes,omitempty"`
	RunnerVOD       *string    `bun:"runner_vod" json:"runnerVOD,omitempty"`
	ReviewRequested bool       `bun:"review_requested,notnull,default:false" json:"reviewRequested"`
	ReviewReason    *string    `bun:"review_reason" json:"reviewReason,omitempty"`
	ReviewerID      *int64     `bun:"reviewer_id" json:"reviewerID,omitempty"`
	ReviewerNotes   *string    `bun:"reviewer_notes" json:"reviewerNotes,omitempty"`
	ReviewApproved  *bool      `bun:"review_approved" json:"reviewApproved,omitempty"`
	Score           *float64   `bun:"score" json:"score,omitempty"`
	ScoreUpdatedAt  *time.Time `bun:"score_updated_at" json:"scoreUpdatedAt,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updatedAt"`

	Permalink  *Permalink  `bun:"rel:belongs-to,join:permalink_id=id" json:"-"`
	Tournament *Tournament `bun:"rel:belongs-to,join:tournament_id=id" json:"-"`
}

// Terminal reports whether the race record may no longer transition.
func (r *Race) Terminal() bool {
	return r.Status.Terminal()
}
