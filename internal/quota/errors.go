package quota

import (
	"errors"
	"fmt"
	"time"
)

// ErrLimitReached is returned when a resource has no quota left in its window.
var ErrLimitReached = errors.New("rate limit reached")

// LimitError carries the resource key and the time the next slot frees up.
// It matches ErrLimitReached with errors.Is.
type LimitError struct {
	Key     string
	ResetAt time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s until %s", ErrLimitReached, e.Key, e.ResetAt.Format(time.RFC3339))
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitReached
}
