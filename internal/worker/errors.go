package worker

import (
	"errors"

	"github.com/syfol/syfol-worker/pkg/numstr"
)

var (
	// ErrAlreadyStarted is returned by Start when the scheduler is running
	ErrAlreadyStarted = errors.New("scheduler has already been started")
)

// isInvariantViolation reports whether err comes from corrupt data rather
// than a transient failure. Those errors abort the cycle.
func isInvariantViolation(err error) bool {
	return errors.Is(err, numstr.ErrNaN) || errors.Is(err, numstr.ErrNotDigits)
}
