// Package racing is the typed client for the external real-time racing
// service. It issues calls and classifies failures; retry policy belongs to
// the scheduler, not here.
package racing

// Room status values as reported by the external service.
const (
	RoomOpen         = "open"
	RoomInvitational = "invitational"
	RoomPending      = "pending"
	RoomInProgress   = "in_progress"
	RoomFinished     = "finished"
	RoomCancelled    = "cancelled"
)

// Entrant status values as reported by the external service.
const (
	EntrantRequested  = "requested"
	EntrantInvited    = "invited"
	EntrantJoined     = "joined"
	EntrantReady      = "ready"
	EntrantInProgress = "in_progress"
	EntrantDone       = "done"
	EntrantDNF        = "dnf"
	EntrantDQ         = "dq"
)

// Entrant is one participant inside an external room.
type Entrant struct {
	UserID        string   `json:"user_id"`
	Name          string   `json:"name"`
	Status        string   `json:"status"`
	FinishSeconds *float64 `json:"finish_seconds,omitempty"`
}

// Room is the external service's view of one room.
type Room struct {
	SlugName string    `json:"name"`
	Status   string    `json:"status"`
	Goal     string    `json:"goal"`
	Entrants []Entrant `json:"entrants"`
}

// CreateRoomRequest carries the goal text and the resolved room profile.
type CreateRoomRequest struct {
	Game              string `json:"game"`
	Goal              string `json:"goal"`
	Info              string `json:"info,omitempty"`
	InviteOnly        bool   `json:"invite_only"`
	StartDelaySeconds int    `json:"start_delay"`
	TimeLimitHours    int    `json:"time_limit"`
	ChatRestricted    bool   `json:"chat_restricted"`
	StreamingRequired bool   `json:"streaming_required"`
}
