package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/syfol/syfol-worker/internal/quota"
	"github.com/syfol/syfol-worker/internal/stats"
	"github.com/syfol/syfol-worker/internal/store"
	"github.com/syfol/syfol-worker/internal/twitter"
)

// RunCycle runs the unfollow phase and then the follow phase. A phase that
// fails is logged and does not prevent the other one. The returned error is
// always a data invariant violation, which aborts the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	log := logrus.WithField("cycle", stats.CycleFromContext(ctx))
	log.Info("Cycle has been called")

	if err := s.unfollowPhase(ctx); err != nil {
		if isInvariantViolation(err) {
			return err
		}
		log.WithError(err).Error("Unfollow phase failed")
	}

	if err := s.followPhase(ctx); err != nil {
		if isInvariantViolation(err) {
			return err
		}
		log.WithError(err).Error("Follow phase failed")
	}
	return nil
}

// unfollowPhase unfollows every account followed for longer than
// FollowPeriod, oldest first. It stops at the first API error that does not
// say the account is gone; the rest are retried next cycle.
func (s *Scheduler) unfollowPhase(ctx context.Context) error {
	cycleID := stats.CycleFromContext(ctx)
	log := logrus.WithField("cycle", cycleID)
	log.Info("--- Starting to unfollow users ---")

	following := true
	expiry := s.now().Add(-s.cfg.FollowPeriod)
	expired, err := s.store.Find(ctx, store.Filter{Following: &following, FollowedBefore: &expiry})
	if err != nil {
		return fmt.Errorf("failed to list expired follows: %w", err)
	}

	if len(expired) == 0 {
		log.Info("No users to unfollow, moving on...")
		return nil
	}
	log.Infof("Planning to unfollow %d users", len(expired))

	for _, record := range expired {
		err := s.unfollow.Execute(ctx, func(ctx context.Context) error {
			return s.api.Unfollow(ctx, record.ID)
		})
		switch {
		case err == nil:
			s.stats.Add(cycleID, stats.Unfollows, 1)
		case twitter.IsTargetGone(err):
			log.WithError(err).Infof("User %s no longer exists, marking as unfollowed", record.ID)
			s.stats.Add(cycleID, stats.TargetsGone, 1)
		default:
			s.reportCallError(cycleID, err, stats.UnfollowErrors)
			log.WithError(err).Warnf("Error occurred while unfollowing user %s, breaking", record.ID)
			return nil
		}

		if err := s.store.MarkUnfollowed(ctx, record.ID, s.now()); err != nil {
			return fmt.Errorf("failed to mark %s unfollowed: %w", record.ID, err)
		}
	}
	return nil
}

// followPhase follows new accounts from the search until FollowerLimit
// accounts are followed. Accounts that were ever followed are skipped. It
// stops at the first API error.
func (s *Scheduler) followPhase(ctx context.Context) error {
	cycleID := stats.CycleFromContext(ctx)
	log := logrus.WithField("cycle", cycleID)
	log.Info("--- Starting to follow users ---")

	active, err := s.store.CountFollowing(ctx)
	if err != nil {
		return fmt.Errorf("failed to count follows: %w", err)
	}
	remaining := s.cfg.FollowerLimit - int(active)

	log.Infof("Currently following %d users", active)
	if remaining <= 0 {
		log.Infof("Follower limit of %d has been reached, ending follow process", s.cfg.FollowerLimit)
		return nil
	}
	log.Infof("Able to follow %d more users before reaching limit of %d", remaining, s.cfg.FollowerLimit)

	found, err := s.search.Search(ctx, s.cfg.SearchQuery, s.cfg.BatchQuantity)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	candidates := make([]string, 0, len(found))
	for _, id := range found {
		if s.cfg.IsExcluded(id) {
			log.Debugf("User %s is on the excluded list, skipping", id)
			continue
		}
		exists, err := s.store.Exists(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", id, err)
		}
		if exists {
			log.Debugf("User %s has been followed before, skipping", id)
			continue
		}
		candidates = append(candidates, id)
	}

	if len(candidates) > remaining {
		log.Debugf("Removed %d users to match follower limit of %d", len(candidates)-remaining, s.cfg.FollowerLimit)
		candidates = candidates[:remaining]
	}
	log.Infof("Attempting to follow %d users", len(candidates))

	for _, id := range candidates {
		err := s.follow.Execute(ctx, func(ctx context.Context) error {
			return s.api.Follow(ctx, id)
		})
		if err != nil {
			s.reportCallError(cycleID, err, stats.FollowErrors)
			log.WithError(err).Warnf("Error occurred while following user %s, breaking", id)
			return nil
		}

		if err := s.store.Insert(ctx, store.FollowRecord{ID: id, Following: true, FollowTime: s.now()}); err != nil {
			return fmt.Errorf("failed to record follow of %s: %w", id, err)
		}
		s.stats.Add(cycleID, stats.Follows, 1)
	}
	return nil
}

func (s *Scheduler) reportCallError(cycleID string, err error, typ stats.StatType) {
	if errors.Is(err, quota.ErrLimitReached) {
		typ = stats.QuotaExhausted
	}
	s.stats.Add(cycleID, typ, 1)
}
