package quota

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Registry hands out one Limiter per resource key. Asking for the same key
// twice returns the same limiter, so its window is shared by every caller.
//
// Windows live in memory only. A restart starts every key with a fresh window.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	now      func() time.Time
}

type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		limiters: make(map[string]*Limiter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Limiter returns the limiter for key, creating it with the given limit and
// window on first use. Later calls keep the settings of the first one.
func (r *Registry) Limiter(key string, limit int, window time.Duration) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[key]; ok {
		if l.limit != limit || l.window != window {
			logrus.Warnf("Limiter %s already registered with %d per %v, ignoring %d per %v", key, l.limit, l.window, limit, window)
		}
		return l
	}

	if limit <= 0 {
		limit = 1
	}
	l := newLimiter(key, limit, window, r.now)
	r.limiters[key] = l
	logrus.Debugf("Registered limiter %s: %d per %v", key, limit, window)
	return l
}
