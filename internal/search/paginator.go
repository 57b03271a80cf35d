package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/syfol/syfol-worker/internal/quota"
	"github.com/syfol/syfol-worker/internal/stats"
	"github.com/syfol/syfol-worker/internal/twitter"
	"github.com/syfol/syfol-worker/pkg/client"
	"github.com/syfol/syfol-worker/pkg/numstr"
)

// Searcher requests one page of search results.
type Searcher interface {
	SearchTweets(ctx context.Context, params twitter.SearchParams) ([]twitter.Tweet, error)
}

// Paginator walks the search results from newest to oldest and collects the
// authors of the tweets it sees.
type Paginator struct {
	searcher Searcher
	limiter  *quota.Limiter
	stats    *stats.Collector
	pageSize int
}

type Option func(*Paginator)

// WithStats reports pages and candidates to c.
func WithStats(c *stats.Collector) Option {
	return func(p *Paginator) {
		p.stats = c
	}
}

// WithPageSize sets the number of tweets requested per page.
func WithPageSize(n int) Option {
	return func(p *Paginator) {
		if n > 0 && n <= twitter.MaxSearchCount {
			p.pageSize = n
		}
	}
}

// NewPaginator returns a paginator that sends every page request through limiter.
func NewPaginator(searcher Searcher, limiter *quota.Limiter, opts ...Option) *Paginator {
	p := &Paginator{
		searcher: searcher,
		limiter:  limiter,
		pageSize: twitter.MaxSearchCount,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Search returns up to quantity unique author IDs for query, in the order they
// were first seen.
//
// Running out of results, exhausting the search quota and API errors all end
// the walk early and the IDs collected so far are returned. The only error
// returned is a tweet ID that cannot be compared, which means the response is
// corrupt.
func (p *Paginator) Search(ctx context.Context, query string, quantity int) ([]string, error) {
	cycleID := stats.CycleFromContext(ctx)
	log := logrus.WithField("cycle", cycleID)
	if quantity <= 0 {
		return []string{}, nil
	}
	log.Infof("Searching Twitter for %q", query)

	userIDs := make([]string, 0, min(quantity, p.pageSize))
	var maxID, lastMaxID string
	page := 0

	for len(userIDs) < quantity && !p.limiter.LimitReached() {
		// A cursor that did not move would return the same page forever.
		if maxID != "" && maxID == lastMaxID {
			log.Debugf("Tweet ID %s used for max has been repeated, finishing", maxID)
			break
		}
		lastMaxID = maxID

		page++
		if maxID == "" {
			log.Debugf("Getting page %d using no max", page)
		} else {
			log.Debugf("Getting page %d using a max of %s", page, maxID)
		}

		var tweets []twitter.Tweet
		err := p.limiter.Execute(ctx, func(ctx context.Context) error {
			var err error
			// Retries of the page request take their own slot.
			ctx = client.WithRetryGate(ctx, p.limiter.Reserve)
			tweets, err = p.searcher.SearchTweets(ctx, twitter.SearchParams{
				Query: query,
				MaxID: maxID,
				Count: p.pageSize,
			})
			return err
		})
		if err != nil {
			if errors.Is(err, quota.ErrLimitReached) {
				p.stats.Add(cycleID, stats.QuotaExhausted, 1)
			} else {
				p.stats.Add(cycleID, stats.SearchErrors, 1)
			}
			log.WithError(err).Warn("Error occurred when searching, finishing")
			break
		}
		p.stats.Add(cycleID, stats.SearchPages, 1)

		if len(tweets) == 0 {
			log.Debug("Received page with no tweets, finishing")
			break
		}
		log.Debugf("Received page with %d tweets", len(tweets))

		sizeBefore := len(userIDs)
		for _, tweet := range tweets {
			if id := tweet.User.IDStr; id != "" && !slices.Contains(userIDs, id) {
				userIDs = append(userIDs, id)
			}

			if tweet.IDStr == "" {
				return userIDs, fmt.Errorf("tweet without id on page %d: %w", page, numstr.ErrNotDigits)
			}
			if maxID == "" {
				if _, err := numstr.Compare(tweet.IDStr, tweet.IDStr); err != nil {
					return userIDs, fmt.Errorf("invalid tweet id %q on page %d: %w", tweet.IDStr, page, err)
				}
				maxID = tweet.IDStr
				continue
			}
			cmp, err := numstr.Compare(maxID, tweet.IDStr)
			if err != nil {
				return userIDs, fmt.Errorf("failed to compare tweet ids %q and %q: %w", maxID, tweet.IDStr, err)
			}
			if cmp > 0 {
				maxID = tweet.IDStr
			}
		}
		log.Debugf("Added %d users to the list", len(userIDs)-sizeBefore)
	}

	if len(userIDs) > quantity {
		log.Debugf("Removed %d users from list to not exceed requested quantity", len(userIDs)-quantity)
		userIDs = userIDs[:quantity]
	}

	p.stats.Add(cycleID, stats.Candidates, uint(len(userIDs)))
	log.Infof("Finished forming a list of %d users", len(userIDs))
	return userIDs, nil
}
