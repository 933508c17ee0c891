package lifecycle

import "errors"

var (
	// ErrInvalidTransition marks an event that is illegal from the race's
	// current state. Never retried automatically.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrAlreadyTerminal marks an event against a finished, forfeited or
	// cancelled race. Automated callers treat it as a successful no-op.
	ErrAlreadyTerminal = errors.New("race already terminal")

	// ErrNoChange marks a duplicate event that would re-apply the race's
	// current state. Treated the same as ErrAlreadyTerminal.
	ErrNoChange = errors.New("no state change")

	// ErrValidation marks bad input rejected before any store write.
	ErrValidation = errors.New("validation failed")

	// ErrStale is returned by the store when the conditional write matched no
	// row, meaning another transition was applied first.
	ErrStale = errors.New("race state changed concurrently")
)
