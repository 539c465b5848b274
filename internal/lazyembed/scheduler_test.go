package lazyembed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachkp/folio/internal/eventloop"
)

func TestScheduler_ColdDelaysFollowTable(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	cfg := DefaultConfig()
	s := NewScheduler(loop, NewCache(cfg.CacheExpiry, cfg.CacheMaxEntries, loop.Now), cfg.Delays, cfg.WarmFloor)

	for key, want := range cfg.Delays {
		got, warm := s.Delay("scene", key.Class, key.Fast)
		assert.False(t, warm)
		assert.Equal(t, want, got, "fast=%t class=%s", key.Fast, key.Class)
	}
}

func TestScheduler_ConstrainedFastSitsBetween(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	cfg := DefaultConfig()
	s := NewScheduler(loop, NewCache(cfg.CacheExpiry, cfg.CacheMaxEntries, loop.Now), cfg.Delays, cfg.WarmFloor)

	constrainedFast, _ := s.Delay("contact", Constrained, true)
	constrainedNormal, _ := s.Delay("contact", Constrained, false)
	fullFast, _ := s.Delay("contact", Full, true)

	assert.Less(t, constrainedFast, constrainedNormal)
	assert.Greater(t, constrainedFast, fullFast)
}

func TestScheduler_WarmNeverSlowerThanCold(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	tables := []DelayTable{
		DefaultConfig().Delays,
		{
			{Fast: false, Class: Full}:        0,
			{Fast: true, Class: Full}:         0,
			{Fast: false, Class: Constrained}: 5 * time.Millisecond,
			{Fast: true, Class: Constrained}:  time.Millisecond,
		},
	}
	for _, table := range tables {
		cache := NewCache(time.Minute, 4, loop.Now)
		s := NewScheduler(loop, cache, table, 10*time.Millisecond)
		for _, class := range []DeviceClass{Constrained, Full} {
			for _, fast := range []bool{false, true} {
				cold, _ := s.Delay("x", class, fast)
				cache.RecordLoaded("x")
				warm, isWarm := s.Delay("x", class, fast)
				require.True(t, isWarm)
				assert.LessOrEqual(t, warm, cold, "class=%s fast=%t", class, fast)
				cache = NewCache(time.Minute, 4, loop.Now)
				s = NewScheduler(loop, cache, table, 10*time.Millisecond)
			}
		}
	}
}

func TestScheduler_MissingKeyFallsBackToSlowest(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	s := NewScheduler(loop, NewCache(time.Minute, 4, loop.Now), DelayTable{
		{Fast: false, Class: Full}: 300 * time.Millisecond,
		{Fast: true, Class: Full}:  50 * time.Millisecond,
	}, 0)

	got, _ := s.Delay("x", Constrained, true)
	assert.Equal(t, 300*time.Millisecond, got)
}

func TestScheduler_ScheduleIsCancellable(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	cfg := DefaultConfig()
	s := NewScheduler(loop, NewCache(cfg.CacheExpiry, cfg.CacheMaxEntries, loop.Now), cfg.Delays, cfg.WarmFloor)

	authorized := 0
	timer, d, _ := s.Schedule("hero-scene", Full, false, func() { authorized++ })
	require.Equal(t, 150*time.Millisecond, d)

	loop.Advance(10 * time.Millisecond)
	timer.Stop()
	loop.Advance(time.Second)
	assert.Zero(t, authorized)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Normal.ThresholdRatio = 1.5 }},
		{"negative margin", func(c *Config) { c.Fast.PreMargin = -1 }},
		{"missing delay", func(c *Config) { delete(c.Delays, DelayKey{Fast: true, Class: Constrained}) }},
		{"constrained faster than full", func(c *Config) { c.Delays[DelayKey{Fast: false, Class: Constrained}] = time.Millisecond }},
		{"fast slower than normal", func(c *Config) { c.Delays[DelayKey{Fast: true, Class: Full}] = time.Second }},
		{"zero expiry", func(c *Config) { c.CacheExpiry = 0 }},
		{"no room", func(c *Config) { c.CacheMaxEntries = 0 }},
		{"zero breakpoint", func(c *Config) { c.Breakpoint = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
