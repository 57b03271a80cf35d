package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/syfol/syfol-worker/internal/config"
	"github.com/syfol/syfol-worker/internal/quota"
	"github.com/syfol/syfol-worker/internal/stats"
	"github.com/syfol/syfol-worker/internal/store"
)

// FollowAPI creates and destroys friendships.
type FollowAPI interface {
	Follow(ctx context.Context, userID string) error
	Unfollow(ctx context.Context, userID string) error
}

// CandidateSource finds accounts to follow.
type CandidateSource interface {
	Search(ctx context.Context, query string, quantity int) ([]string, error)
}

// Deps are the collaborators of the scheduler. Stats and Now are optional.
type Deps struct {
	Store  store.Store
	API    FollowAPI
	Search CandidateSource
	Quotas *quota.Registry
	Stats  *stats.Collector
	Now    func() time.Time
}

// Scheduler runs a reconciliation cycle immediately on Start and then every
// BatchInterval, one cycle at a time.
type Scheduler struct {
	cfg      *config.Config
	store    store.Store
	api      FollowAPI
	search   CandidateSource
	stats    *stats.Collector
	now      func() time.Time
	follow   *quota.Limiter
	unfollow *quota.Limiter

	mu      sync.Mutex
	running bool
	quit    chan struct{}
	doneCh  chan struct{}
}

func New(cfg *config.Config, deps Deps) *Scheduler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	quotas := deps.Quotas
	if quotas == nil {
		quotas = quota.NewRegistry()
	}

	done := make(chan struct{})
	close(done)

	return &Scheduler{
		cfg:      cfg,
		store:    deps.Store,
		api:      deps.API,
		search:   deps.Search,
		stats:    deps.Stats,
		now:      now,
		follow:   quotas.Limiter(quota.TwitterFollow, cfg.FollowQuota.Limit, cfg.FollowQuota.Window),
		unfollow: quotas.Limiter(quota.TwitterUnfollow, cfg.UnfollowQuota.Limit, cfg.UnfollowQuota.Window),
		doneCh:   done,
	}
}

// Start runs the first cycle in the background right away and schedules the
// following ones. It returns ErrAlreadyStarted if the scheduler is running.
// Cancelling ctx stops the scheduler like Stop does.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}
	s.running = true

	prev := s.doneCh
	s.quit = make(chan struct{})
	s.doneCh = make(chan struct{})

	logrus.Infof("Starting scheduler, running a cycle every %v", s.cfg.BatchInterval)
	go s.run(ctx, s.quit, prev, s.doneCh)
	return nil
}

// Stop prevents further cycles from starting. A cycle in progress runs to
// completion; wait on Done for it. Stop is a no-op when not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// stopRun stops the scheduler only if quit still belongs to the current run.
func (s *Scheduler) stopRun(quit <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit == quit {
		s.stopLocked()
	}
}

func (s *Scheduler) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	close(s.quit)
	logrus.Info("Scheduler stopped")
}

// Done returns a channel that is closed once the scheduler loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh
}

func (s *Scheduler) run(ctx context.Context, quit <-chan struct{}, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// A restarted scheduler waits for the cycle of the previous run.
	select {
	case <-prev:
	case <-quit:
		return
	case <-ctx.Done():
		s.stopRun(quit)
		return
	}

	interval := s.cfg.BatchInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			s.stopRun(quit)
			return
		case <-ticker.C:
			select {
			case <-quit:
				return
			default:
			}
			s.tick(ctx)
		}
	}
}

// tick runs one cycle detached from the cancellation of ctx.
func (s *Scheduler) tick(ctx context.Context) {
	cycleID := uuid.NewString()
	cctx := stats.WithCycle(context.WithoutCancel(ctx), cycleID)
	log := logrus.WithField("cycle", cycleID)

	start := s.now()
	if err := s.RunCycle(cctx); err != nil {
		s.stats.Add(cycleID, stats.CycleErrors, 1)
		log.WithError(err).Error("Cycle aborted")
	}
	s.stats.Add(cycleID, stats.Cycles, 1)

	log.Infof("This cycle has finished in %v", s.now().Sub(start).Round(time.Millisecond))
	log.Infof("Next cycle at %s", start.Add(s.cfg.BatchInterval).Format(time.RFC3339))
}
