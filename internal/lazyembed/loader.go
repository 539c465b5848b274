// Package lazyembed decides when, and whether, to mount expensive externally
// hosted embeds (iframe-hosted 3D scenes) on a page.
//
// A Loader is built once per page lifetime. Each placement of an embed gets
// its own Slot that waits for its region to become visible, asks the Scheduler
// for a delay biased by device class, warmth of the shared Cache and the
// caller's fast hint, then mounts the live content or falls back on failure.
//
// Everything in this package runs on a single eventloop.Loop.
package lazyembed

import (
	"fmt"
	"log/slog"

	"github.com/Zachkp/folio/internal/eventloop"
)

type Loader struct {
	loop      eventloop.Loop
	cfg       Config
	cache     Warmth
	device    *DeviceMonitor
	detector  *Detector
	scheduler *Scheduler
	logger    *slog.Logger
}

type Option func(*Loader)

// WithCache injects the warmth store shared by every slot of this loader.
func WithCache(c Warmth) Option {
	return func(l *Loader) { l.cache = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

func New(loop eventloop.Loop, cfg Config, initial Viewport, opts ...Option) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loop == nil {
		return nil, fmt.Errorf("%w: nil loop", ErrInvalidConfig)
	}
	l := &Loader{loop: loop, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.cache == nil {
		l.cache = NewCache(cfg.CacheExpiry, cfg.CacheMaxEntries, loop.Now)
	}

	classifier := Classifier{Breakpoint: cfg.Breakpoint, TouchBreakpoint: cfg.TouchBreakpoint}
	l.device = NewDeviceMonitor(loop, classifier, cfg.ResizeDebounce, initial)
	l.device.OnChange(func(c DeviceClass) {
		l.logger.Debug("device class changed", "class", c)
	})
	l.detector = NewDetector(loop, initial.Rect())
	l.scheduler = NewScheduler(loop, l.cache, cfg.Delays, cfg.WarmFloor)
	return l, nil
}

func (l *Loader) Cache() Warmth         { return l.cache }
func (l *Loader) Class() DeviceClass    { return l.device.Class() }
func (l *Loader) Scheduler() *Scheduler { return l.scheduler }
func (l *Loader) Detector() *Detector   { return l.detector }

// SetViewport applies a scroll or resize. Visibility reacts immediately;
// device reclassification is debounced.
func (l *Loader) SetViewport(v Viewport) {
	prev := l.detector.Viewport()
	l.detector.SetViewport(v.Rect())
	if prev.Width != v.Width || prev.Height != v.Height {
		l.device.Resize(v)
	}
}

// NewSlot creates a slot in Idle and starts watching its region. Must be
// called on the loop.
func (l *Loader) NewSlot(spec SlotSpec, observer Observer) *Slot {
	s := &Slot{
		spec:      spec,
		device:    l.device,
		scheduler: l.scheduler,
		cache:     l.cache,
		observer:  observer,
		logger:    l.logger,
		class:     l.device.Class(),
	}
	s.sub = l.detector.Watch(spec.Region, l.cfg.profile(spec.Fast).watchOptions(), Handlers{
		Approaching: func() { s.dispatch(approachingEvent{}) },
		Entered:     func() { s.dispatch(enteredEvent{}) },
	})
	return s
}

// Close stops the pending device reclassification. Slots are torn down by
// their owners.
func (l *Loader) Close() {
	l.device.Stop()
}
