package stats

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

// These are the types of statistics that we can add. The value is the JSON key that will be used for serialization.
type StatType string

const (
	Cycles         StatType = "cycles"
	CycleErrors    StatType = "cycle_errors"
	SearchPages    StatType = "search_pages"
	SearchErrors   StatType = "search_errors"
	Candidates     StatType = "candidates"
	Follows        StatType = "follows"
	FollowErrors   StatType = "follow_errors"
	Unfollows      StatType = "unfollows"
	UnfollowErrors StatType = "unfollow_errors"
	TargetsGone    StatType = "targets_gone"
	QuotaExhausted StatType = "quota_exhausted"
)

// AddStat is the message sent to the collector goroutine
type AddStat struct {
	Type    StatType
	CycleID string
	Num     uint
}

// Stats is the structure we use to store the statistics
type Stats struct {
	BootTimeUnix      int64             `json:"boot_time"`
	LastOperationUnix int64             `json:"last_operation_time"`
	CurrentTimeUnix   int64             `json:"current_time"`
	Totals            map[StatType]uint `json:"totals"`
	LastCycleID       string            `json:"last_cycle_id"`
	LastCycle         map[StatType]uint `json:"last_cycle"`
	sync.Mutex
}

// Collector is the object used to collect statistics. A nil *Collector
// discards everything added to it.
type Collector struct {
	Stats *Stats
	Chan  chan AddStat
	done  <-chan struct{}
}

// StartCollector starts a goroutine that listens to a channel for AddStat
// messages and updates the stats accordingly. It stops when ctx is done.
func StartCollector(ctx context.Context, bufSize uint) *Collector {
	logrus.Info("Starting stats collector")

	s := Stats{
		BootTimeUnix: time.Now().Unix(),
		Totals:       make(map[StatType]uint),
		LastCycle:    make(map[StatType]uint),
	}

	ch := make(chan AddStat, bufSize)

	go func(s *Stats, ch chan AddStat) {
		for {
			select {
			case <-ctx.Done():
				logrus.Debug("Stats collector stopped")
				return
			case stat := <-ch:
				s.Lock()
				s.LastOperationUnix = time.Now().Unix()
				s.Totals[stat.Type] += stat.Num
				if stat.CycleID != "" {
					if stat.CycleID != s.LastCycleID {
						s.LastCycleID = stat.CycleID
						s.LastCycle = make(map[StatType]uint)
					}
					s.LastCycle[stat.Type] += stat.Num
				}
				s.Unlock()
				logrus.Debugf("Added %d to stat %s", stat.Num, stat.Type)
			}
		}
	}(&s, ch)

	return &Collector{Stats: &s, Chan: ch, done: ctx.Done()}
}

// Add is a convenience method to add a number to a statistic
func (c *Collector) Add(cycleID string, typ StatType, num uint) {
	if c == nil || num == 0 {
		return
	}
	select {
	case c.Chan <- AddStat{CycleID: cycleID, Type: typ, Num: num}:
	case <-c.done:
	}
}

// Totals returns a copy of the counters accumulated since boot
func (c *Collector) Totals() map[StatType]uint {
	if c == nil {
		return map[StatType]uint{}
	}
	c.Stats.Lock()
	defer c.Stats.Unlock()
	return maps.Clone(c.Stats.Totals)
}

// Cycle returns a copy of the counters of cycleID, or an empty map when
// cycleID is not the most recent cycle.
func (c *Collector) Cycle(cycleID string) map[StatType]uint {
	if c == nil {
		return map[StatType]uint{}
	}
	c.Stats.Lock()
	defer c.Stats.Unlock()
	if c.Stats.LastCycleID != cycleID {
		return map[StatType]uint{}
	}
	return maps.Clone(c.Stats.LastCycle)
}

// Json returns the current statistics as a JSON byte array
func (c *Collector) Json() ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	c.Stats.Lock()
	defer c.Stats.Unlock()
	c.Stats.CurrentTimeUnix = time.Now().Unix()
	return json.Marshal(c.Stats)
}

type cycleKey struct{}

// WithCycle returns a context carrying the ID of the running cycle
func WithCycle(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, cycleKey{}, cycleID)
}

// CycleFromContext returns the cycle ID stored by WithCycle, or "".
func CycleFromContext(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey{}).(string)
	return id
}
