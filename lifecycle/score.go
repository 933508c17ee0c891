package lifecycle

import "fmt"

// Score produces a comparable score from elapsed time and an optional par
// time. With a par the score is the normalized ratio elapsed/par, so attempts
// against different seeds compare; without one it is the raw elapsed seconds.
// Lower is better either way.
func Score(elapsedSeconds float64, parSeconds *int) (float64, error) {
	if elapsedSeconds <= 0 {
		return 0, fmt.Errorf("%w: elapsed seconds must be positive", ErrValidation)
	}
	if parSeconds == nil || *parSeconds <= 0 {
		return elapsedSeconds, nil
	}
	return elapsedSeconds / float64(*parSeconds), nil
}
