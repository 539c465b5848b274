package lazyembed

import (
	"time"

	"github.com/Zachkp/folio/internal/eventloop"
)

type DelayKey struct {
	Fast  bool
	Class DeviceClass
}

// DelayTable holds the base throttle per (fast hint, device class). It staggers
// how many expensive embeds initialize at once; it is not a network timeout.
type DelayTable map[DelayKey]time.Duration

func (t DelayTable) lookup(k DelayKey) time.Duration {
	if d, ok := t[k]; ok {
		return d
	}
	// Missing entries fall back to the slowest configured delay.
	var worst time.Duration
	for _, d := range t {
		worst = max(worst, d)
	}
	return worst
}

type Scheduler struct {
	loop  eventloop.Loop
	cache Warmth
	table DelayTable
	floor time.Duration
}

func NewScheduler(loop eventloop.Loop, cache Warmth, table DelayTable, floor time.Duration) *Scheduler {
	return &Scheduler{loop: loop, cache: cache, table: table, floor: floor}
}

// Delay picks the wait before a slot may mount id. A warm resource collapses
// to the floor, never above the cold delay for the same key.
func (s *Scheduler) Delay(id ResourceID, class DeviceClass, fast bool) (time.Duration, bool) {
	base := s.table.lookup(DelayKey{Fast: fast, Class: class})
	if s.cache.IsWarm(id) {
		return min(s.floor, base), true
	}
	return base, false
}

// Schedule arms authorize after the computed delay. Stopping the returned
// timer guarantees authorize never runs.
func (s *Scheduler) Schedule(id ResourceID, class DeviceClass, fast bool, authorize func()) (eventloop.Timer, time.Duration, bool) {
	d, warm := s.Delay(id, class, fast)
	return s.loop.AfterFunc(d, authorize), d, warm
}
