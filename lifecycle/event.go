package lifecycle

// Actor identifies who caused a transition. System actors are background jobs;
// everything else is a human attributed by username.
type Actor struct {
	Name   string
	System bool
}

// SystemActor returns an actor for a named background job.
func SystemActor(name string) Actor {
	return Actor{Name: name, System: true}
}

// Event is a lifecycle input. The concrete type selects the transition.
type Event interface {
	eventName() string
}

// StartEvent moves a pending race to in_progress, either because the external
// room reported the runner started or because of a manual start.
type StartEvent struct{}

// FinishEvent completes an in_progress race. ElapsedSeconds must be positive.
type FinishEvent struct {
	ElapsedSeconds float64
	VOD            *string
	Notes          *string
}

// TimeoutForfeitEvent is issued by the timeout sweep when a deadline passed.
type TimeoutForfeitEvent struct{}

// ForfeitEvent is a forfeit reported by the runner or the external room
// (dnf/dq), as opposed to a deadline enforcement.
type ForfeitEvent struct{}

// RoomCancelledEvent reports that the external room was cancelled. The race
// returns to pending with a cleared room link and fresh deadlines.
type RoomCancelledEvent struct{}

// AdminCancelEvent cancels any non-terminal race.
type AdminCancelEvent struct{}

func (StartEvent) eventName() string          { return "start" }
func (FinishEvent) eventName() string         { return "finish" }
func (TimeoutForfeitEvent) eventName() string { return "timeout_forfeit" }
func (ForfeitEvent) eventName() string        { return "forfeit" }
func (RoomCancelledEvent) eventName() string  { return "room_cancelled" }
func (AdminCancelEvent) eventName() string    { return "admin_cancel" }
