package worker_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/syfol/syfol-worker/internal/config"
	"github.com/syfol/syfol-worker/internal/quota"
	"github.com/syfol/syfol-worker/internal/stats"
	"github.com/syfol/syfol-worker/internal/store"
	"github.com/syfol/syfol-worker/internal/twitter"
	. "github.com/syfol/syfol-worker/internal/worker"
	"github.com/syfol/syfol-worker/pkg/numstr"
)

var _ = Describe("Scheduler", func() {
	var (
		ctx    context.Context
		cfg    *config.Config
		db     *store.GormStore
		api    *fakeAPI
		search *fakeSearch
		clock  *fakeClock
		start  time.Time
	)

	newScheduler := func() *Scheduler {
		return New(cfg, Deps{
			Store:  db,
			API:    api,
			Search: search,
			Quotas: quota.NewRegistry(quota.WithClock(clock.Now)),
			Now:    clock.Now,
		})
	}

	record := func(id string) store.FollowRecord {
		records, err := db.Find(ctx, store.Filter{IDs: []string{id}})
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
		return records[0]
	}

	follow := func(id string, age time.Duration) {
		Expect(db.Insert(ctx, store.FollowRecord{ID: id, Following: true, FollowTime: clock.Now().Add(-age)})).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		clock = &fakeClock{now: start}
		api = newFakeAPI()
		search = &fakeSearch{}
		cfg = &config.Config{
			SearchQuery:   "#golang",
			BatchInterval: time.Hour,
			BatchQuantity: 10,
			FollowPeriod:  12 * time.Hour,
			FollowerLimit: 1000,
			FollowQuota:   config.Quota{Limit: 200, Window: 4 * time.Hour},
			UnfollowQuota: config.Quota{Limit: 100, Window: 4 * time.Hour},
		}

		var err error
		db, err = store.Open(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
	})

	Describe("unfollow phase", func() {
		It("should unfollow an expired follow exactly once", func() {
			follow("1", 13*time.Hour)
			s := newScheduler()

			Expect(s.RunCycle(ctx)).To(Succeed())
			r := record("1")
			Expect(r.Following).To(BeFalse())
			Expect(r.UnfollowTime).NotTo(BeNil())
			Expect(*r.UnfollowTime).To(BeTemporally("==", start))
			Expect(api.Unfollows()).To(Equal([]string{"1"}))

			clock.Advance(time.Hour)
			Expect(s.RunCycle(ctx)).To(Succeed())
			again := record("1")
			Expect(again.Following).To(BeFalse())
			Expect(*again.UnfollowTime).To(BeTemporally("==", start))
			Expect(api.Unfollows()).To(Equal([]string{"1"}))
		})

		It("should leave follows younger than the period alone", func() {
			follow("1", 11*time.Hour)
			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(api.Unfollows()).To(BeEmpty())
			Expect(record("1").Following).To(BeTrue())
		})

		It("should unfollow oldest first", func() {
			follow("b", 13*time.Hour)
			follow("a", 20*time.Hour)
			follow("c", 15*time.Hour)
			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(api.Unfollows()).To(Equal([]string{"a", "c", "b"}))
		})

		It("should stop at the first failure and retry the rest next cycle", func() {
			follow("1", 16*time.Hour)
			follow("2", 15*time.Hour)
			follow("3", 14*time.Hour)
			api.errs["2"] = &twitter.APIError{StatusCode: 500}
			s := newScheduler()

			Expect(s.RunCycle(ctx)).To(Succeed())
			Expect(api.Unfollows()).To(Equal([]string{"1", "2"}))
			Expect(record("1").Following).To(BeFalse())
			Expect(record("2").Following).To(BeTrue())
			Expect(record("2").UnfollowTime).To(BeNil())
			Expect(record("3").Following).To(BeTrue())

			delete(api.errs, "2")
			Expect(s.RunCycle(ctx)).To(Succeed())
			Expect(record("2").Following).To(BeFalse())
			Expect(record("3").Following).To(BeFalse())
		})

		It("should treat accounts that no longer exist as unfollowed", func() {
			follow("1", 16*time.Hour)
			follow("2", 15*time.Hour)
			api.errs["1"] = &twitter.APIError{StatusCode: 404, Errors: []twitter.ErrorItem{{Code: twitter.CodeUserNotFound}}}

			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(record("1").Following).To(BeFalse())
			Expect(record("1").UnfollowTime).NotTo(BeNil())
			Expect(record("2").Following).To(BeFalse())
		})

		It("should stop when the unfollow quota is exhausted", func() {
			cfg.UnfollowQuota = config.Quota{Limit: 2, Window: 4 * time.Hour}
			for i := 1; i <= 4; i++ {
				follow(fmt.Sprint(i), time.Duration(20-i)*time.Hour)
			}

			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(api.Unfollows()).To(Equal([]string{"1", "2"}))
			Expect(record("3").Following).To(BeTrue())
		})
	})

	Describe("follow phase", func() {
		It("should follow search results and record them", func() {
			search.result = []string{"100", "200"}

			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(api.Follows()).To(Equal([]string{"100", "200"}))
			r := record("100")
			Expect(r.Following).To(BeTrue())
			Expect(r.FollowTime).To(BeTemporally("==", start))
			Expect(search.asked).To(Equal([]int{10}))
		})

		It("should skip excluded accounts", func() {
			cfg.ExcludeUsers = []string{"42", "77"}
			search.result = []string{"42", "100", "77"}

			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(api.Follows()).To(Equal([]string{"100"}))
		})

		It("should never follow an account twice", func() {
			follow("100", time.Hour)
			Expect(db.MarkUnfollowed(ctx, "100", clock.Now())).To(Succeed())
			follow("300", time.Hour)
			search.result = []string{"100", "200", "300"}
			s := newScheduler()

			Expect(s.RunCycle(ctx)).To(Succeed())
			Expect(s.RunCycle(ctx)).To(Succeed())
			Expect(api.Follows()).To(Equal([]string{"200"}))

			all, err := db.All(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(3))
		})

		It("should not exceed the follower limit", func() {
			cfg.FollowerLimit = 3
			follow("1", time.Hour)
			follow("2", time.Hour)
			search.result = []string{"a", "b", "c"}
			s := newScheduler()

			Expect(s.RunCycle(ctx)).To(Succeed())
			Expect(api.Follows()).To(Equal([]string{"a"}))

			search.result = []string{"d"}
			Expect(s.RunCycle(ctx)).To(Succeed())
			Expect(api.Follows()).To(Equal([]string{"a"}))
			Expect(search.Calls()).To(Equal(1))

			count, err := db.CountFollowing(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeNumerically("<=", cfg.FollowerLimit))
		})

		It("should make room once follows expire", func() {
			cfg.FollowerLimit = 1
			follow("old", 13*time.Hour)
			search.result = []string{"new"}

			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(api.Unfollows()).To(Equal([]string{"old"}))
			Expect(api.Follows()).To(Equal([]string{"new"}))
		})

		It("should stop at the first failed follow", func() {
			search.result = []string{"a", "b", "c"}
			api.errs["b"] = &twitter.APIError{StatusCode: 403, Errors: []twitter.ErrorItem{{Code: twitter.CodeFollowLimit}}}

			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(api.Follows()).To(Equal([]string{"a", "b"}))

			all, err := db.All(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
			Expect(all[0].ID).To(Equal("a"))
		})

		It("should stop when the follow quota is exhausted", func() {
			cfg.FollowQuota = config.Quota{Limit: 1, Window: 4 * time.Hour}
			search.result = []string{"a", "b"}

			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(api.Follows()).To(Equal([]string{"a"}))
		})
	})

	Describe("RunCycle", func() {
		It("should run the follow phase when the unfollow phase fails", func() {
			follow("1", 13*time.Hour)
			api.errs["1"] = errors.New("connection reset")
			search.result = []string{"2"}

			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(api.Follows()).To(Equal([]string{"2"}))
		})

		It("should swallow search failures", func() {
			search.err = errors.New("boom")
			Expect(newScheduler().RunCycle(ctx)).To(Succeed())
			Expect(api.Follows()).To(BeEmpty())
		})

		It("should return corrupt cursor errors", func() {
			follow("1", 13*time.Hour)
			search.result = []string{"2"}
			search.err = fmt.Errorf("failed to compare tweet ids: %w", numstr.ErrNotDigits)

			err := newScheduler().RunCycle(ctx)
			Expect(err).To(MatchError(numstr.ErrNotDigits))
			Expect(record("1").Following).To(BeFalse())
			Expect(api.Follows()).To(BeEmpty())
		})

		It("should report statistics for the cycle", func() {
			sctx, cancel := context.WithCancel(ctx)
			defer cancel()
			collector := stats.StartCollector(sctx, 16)

			follow("1", 13*time.Hour)
			search.result = []string{"a", "b"}
			s := New(cfg, Deps{Store: db, API: api, Search: search, Stats: collector, Now: clock.Now})

			Expect(s.RunCycle(stats.WithCycle(ctx, "c1"))).To(Succeed())
			Eventually(func() map[stats.StatType]uint { return collector.Cycle("c1") }).Should(Equal(map[stats.StatType]uint{
				stats.Unfollows: 1,
				stats.Follows:   2,
			}))
		})
	})

	Describe("Start and Stop", func() {
		It("should run the first cycle right away", func() {
			search.result = []string{"a"}
			s := newScheduler()

			Expect(s.Start(ctx)).To(Succeed())
			Eventually(api.Follows).Should(Equal([]string{"a"}))
			s.Stop()
			Eventually(s.Done()).Should(BeClosed())
		})

		It("should refuse a second start", func() {
			s := newScheduler()
			Expect(s.Start(ctx)).To(Succeed())
			Expect(s.Start(ctx)).To(MatchError(ErrAlreadyStarted))
			s.Stop()
			Eventually(s.Done()).Should(BeClosed())
		})

		It("should allow stopping more than once or before starting", func() {
			s := newScheduler()
			Expect(s.Done()).To(BeClosed())
			s.Stop()

			Expect(s.Start(ctx)).To(Succeed())
			s.Stop()
			s.Stop()
			Eventually(s.Done()).Should(BeClosed())

			Expect(s.Start(ctx)).To(Succeed())
			Eventually(search.Calls).Should(BeNumerically(">=", 1))
			s.Stop()
			Eventually(s.Done()).Should(BeClosed())
		})

		It("should run cycles on every interval", func() {
			cfg.BatchInterval = 20 * time.Millisecond
			s := newScheduler()

			Expect(s.Start(ctx)).To(Succeed())
			Eventually(search.Calls).Should(BeNumerically(">=", 3))
			s.Stop()
			Eventually(s.Done()).Should(BeClosed())
			calls := search.Calls()
			Consistently(search.Calls, 100*time.Millisecond).Should(Equal(calls))
		})

		It("should let the running cycle finish after Stop", func() {
			follow("1", 13*time.Hour)
			api.block = make(chan struct{})
			api.entered = make(chan string, 1)
			s := newScheduler()

			Expect(s.Start(ctx)).To(Succeed())
			Eventually(api.entered).Should(Receive(Equal("1")))

			s.Stop()
			Consistently(s.Done(), 50*time.Millisecond).ShouldNot(BeClosed())

			close(api.block)
			Eventually(s.Done()).Should(BeClosed())
			Expect(record("1").Following).To(BeFalse())
		})

		It("should stop when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			s := newScheduler()
			Expect(s.Start(cctx)).To(Succeed())
			Eventually(search.Calls).Should(Equal(1))

			cancel()
			Eventually(s.Done()).Should(BeClosed())
			Expect(s.Start(ctx)).To(Succeed())
			s.Stop()
			Eventually(s.Done()).Should(BeClosed())
		})
	})
})
