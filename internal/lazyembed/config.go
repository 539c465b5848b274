package lazyembed

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid loader config")

// Profile is the visibility tuning for one fast-hint value.
type Profile struct {
	ThresholdRatio float64
	PreMargin      float64
}

func (p Profile) watchOptions() WatchOptions {
	return WatchOptions{ThresholdRatio: p.ThresholdRatio, PreMargin: p.PreMargin}
}

// Config is the construction-time surface of the loader. Nothing here changes
// while a page is live.
type Config struct {
	Normal Profile
	Fast   Profile

	Delays    DelayTable
	WarmFloor time.Duration

	CacheExpiry     time.Duration
	CacheMaxEntries int

	ResizeDebounce  time.Duration
	Breakpoint      float64
	TouchBreakpoint float64
}

func DefaultConfig() Config {
	return Config{
		Normal: Profile{ThresholdRatio: 0.05, PreMargin: 100},
		Fast:   Profile{ThresholdRatio: 0.02, PreMargin: 200},
		Delays: DelayTable{
			{Fast: false, Class: Full}:        150 * time.Millisecond,
			{Fast: true, Class: Full}:         50 * time.Millisecond,
			{Fast: false, Class: Constrained}: 800 * time.Millisecond,
			{Fast: true, Class: Constrained}:  200 * time.Millisecond,
		},
		WarmFloor:       10 * time.Millisecond,
		CacheExpiry:     5 * time.Minute,
		CacheMaxEntries: 32,
		ResizeDebounce:  150 * time.Millisecond,
		Breakpoint:      768,
		TouchBreakpoint: 1024,
	}
}

func (c Config) profile(fast bool) Profile {
	if fast {
		return c.Fast
	}
	return c.Normal
}

func (c Config) Validate() error {
	for name, p := range map[string]Profile{"normal": c.Normal, "fast": c.Fast} {
		if p.ThresholdRatio < 0 || p.ThresholdRatio > 1 {
			return fmt.Errorf("%w: %s threshold %.3f outside [0,1]", ErrInvalidConfig, name, p.ThresholdRatio)
		}
		if p.PreMargin < 0 {
			return fmt.Errorf("%w: %s pre-margin is negative", ErrInvalidConfig, name)
		}
	}
	for _, fast := range []bool{false, true} {
		for _, class := range []DeviceClass{Constrained, Full} {
			d, ok := c.Delays[DelayKey{Fast: fast, Class: class}]
			if !ok {
				return fmt.Errorf("%w: no delay for fast=%t class=%s", ErrInvalidConfig, fast, class)
			}
			if d < 0 {
				return fmt.Errorf("%w: negative delay for fast=%t class=%s", ErrInvalidConfig, fast, class)
			}
		}
		if c.Delays[DelayKey{fast, Constrained}] < c.Delays[DelayKey{fast, Full}] {
			return fmt.Errorf("%w: constrained delay below full delay for fast=%t", ErrInvalidConfig, fast)
		}
	}
	for _, class := range []DeviceClass{Constrained, Full} {
		if c.Delays[DelayKey{true, class}] > c.Delays[DelayKey{false, class}] {
			return fmt.Errorf("%w: fast delay above normal delay for class=%s", ErrInvalidConfig, class)
		}
	}
	if c.WarmFloor < 0 {
		return fmt.Errorf("%w: warm floor is negative", ErrInvalidConfig)
	}
	if c.CacheExpiry <= 0 {
		return fmt.Errorf("%w: cache expiry must be positive", ErrInvalidConfig)
	}
	if c.CacheMaxEntries < 1 {
		return fmt.Errorf("%w: cache needs room for at least one entry", ErrInvalidConfig)
	}
	if c.ResizeDebounce < 0 {
		return fmt.Errorf("%w: resize debounce is negative", ErrInvalidConfig)
	}
	if c.Breakpoint <= 0 {
		return fmt.Errorf("%w: breakpoint must be positive", ErrInvalidConfig)
	}
	return nil
}
