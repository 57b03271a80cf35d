package quota

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Resource keys for the Twitter operations the worker performs. Each key is
// limited independently.
const (
	TwitterSearch   = "twitter:search"
	TwitterFollow   = "twitter:follow"
	TwitterUnfollow = "twitter:unfollow"
)

// Limiter allows at most limit executions within any trailing window.
//
// Every execution is recorded when its slot is reserved, before the operation
// runs, so failed operations still consume quota.
type Limiter struct {
	key    string
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	stamps []time.Time // oldest first
}

func newLimiter(key string, limit int, window time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		key:    key,
		limit:  limit,
		window: window,
		now:    now,
	}
}

// Key returns the resource key of the limiter.
func (l *Limiter) Key() string {
	return l.key
}

// prune drops executions that have left the window. Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// reserve records an execution at the current time if the window allows it.
func (l *Limiter) reserve() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.stamps) >= l.limit {
		return &LimitError{Key: l.key, ResetAt: l.stamps[0].Add(l.window)}
	}
	l.stamps = append(l.stamps, now)
	return nil
}

// Execute runs op if the quota allows it. When the quota is exhausted op is
// not called and a *LimitError is returned.
func (l *Limiter) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.reserve(); err != nil {
		logrus.Debugf("Quota for %s exhausted", l.key)
		return err
	}
	return op(ctx)
}

// Reserve takes a slot without running anything, for calls that are
// metered per attempt. It returns a *LimitError when the quota is exhausted.
func (l *Limiter) Reserve(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.reserve()
}

// LimitReached reports whether the next Execute would be rejected.
func (l *Limiter) LimitReached() bool {
	return l.Remaining() == 0
}

// Remaining returns the number of executions still allowed in the current window.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	if r := l.limit - len(l.stamps); r > 0 {
		return r
	}
	return 0
}

// ResetAt returns when the oldest execution leaves the window. It returns the
// zero time when nothing has been executed in the current window.
func (l *Limiter) ResetAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	if len(l.stamps) == 0 {
		return time.Time{}
	}
	return l.stamps[0].Add(l.window)
}
