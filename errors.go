package gopeakcore

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that abort only the affected peak or group.
var (
	// ErrInsufficientData means the curve segment has fewer samples than the
	// shape's parameter count requires.
	ErrInsufficientData = errors.New("insufficient data for fit")

	// ErrInvalidConfiguration means a threshold or option is out of range.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ConvergenceError reports that an optimizer reached its iteration cap
// without meeting the convergence threshold. The best point found so far is
// still usable; callers decide whether to escalate.
type ConvergenceError struct {
	Algorithm  string
	Iterations int
	Best       float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s: no convergence after %d iterations (best objective %g)", e.Algorithm, e.Iterations, e.Best)
}

// InstabilityError reports a singular or ill-conditioned system inside
// Levenberg-Marquardt. It triggers an automatic grid-search fallback within
// the same fit attempt.
type InstabilityError struct {
	Cause string
}

func (e *InstabilityError) Error() string {
	return fmt.Sprintf("numerical instability: %s", e.Cause)
}

func insufficientData(got, want int) error {
	return fmt.Errorf("%w: %d samples, need at least %d", ErrInsufficientData, got, want)
}

func invalidConfig(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
