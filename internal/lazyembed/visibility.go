package lazyembed

import "github.com/Zachkp/folio/internal/eventloop"

// WatchOptions tune one subscription.
type WatchOptions struct {
	// ThresholdRatio is the fraction of the region's area that must fall inside
	// the (margin-expanded) viewport to count as entered.
	ThresholdRatio float64
	// PreMargin extends every viewport edge, so regions just outside it already
	// count as approaching.
	PreMargin float64
}

// Handlers receive the two one-shot signals of a subscription. Either may be nil.
type Handlers struct {
	Entered     func()
	Approaching func()
}

// Detector tracks the viewport and evaluates every live subscription against it.
type Detector struct {
	loop     eventloop.Loop
	viewport Rect
	subs     []*Subscription
}

func NewDetector(loop eventloop.Loop, viewport Rect) *Detector {
	return &Detector{loop: loop, viewport: viewport}
}

func (d *Detector) Viewport() Rect { return d.viewport }

// SetViewport records a scroll or resize and re-evaluates all subscriptions.
func (d *Detector) SetViewport(r Rect) {
	d.viewport = r
	// evaluate may detach subscriptions, so walk a copy.
	subs := append([]*Subscription(nil), d.subs...)
	for _, s := range subs {
		s.evaluate()
	}
}

// Watch starts observing region. The first evaluation happens on the next loop
// turn so a region that is already visible still gets its Entered signal.
func (d *Detector) Watch(region Rect, opts WatchOptions, h Handlers) *Subscription {
	s := &Subscription{detector: d, region: region, opts: opts, handlers: h}
	d.subs = append(d.subs, s)
	d.loop.Post(s.evaluate)
	return s
}

// Live reports how many subscriptions are still being observed.
func (d *Detector) Live() int { return len(d.subs) }

func (d *Detector) detach(s *Subscription) {
	for i, other := range d.subs {
		if other == s {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			return
		}
	}
}

// Subscription is the scoped handle returned by Watch. Release must be called
// when the region goes away; no callback runs after it.
type Subscription struct {
	detector *Detector
	region   Rect
	opts     WatchOptions
	handlers Handlers

	entered     bool
	approaching bool
	released    bool
}

// Move updates the observed region (layout shift) and re-evaluates it.
func (s *Subscription) Move(region Rect) {
	if s.released {
		return
	}
	s.region = region
	s.evaluate()
}

func (s *Subscription) Release() {
	if s.released {
		return
	}
	s.released = true
	s.detector.detach(s)
}

func (s *Subscription) Entered() bool  { return s.entered }
func (s *Subscription) Released() bool { return s.released }

func (s *Subscription) evaluate() {
	if s.released {
		return
	}
	ratio, hit := visibleRatio(s.region, s.detector.viewport.Expand(s.opts.PreMargin))
	if !hit {
		return
	}
	if !s.approaching {
		s.approaching = true
		if s.handlers.Approaching != nil {
			s.handlers.Approaching()
		}
		if s.released {
			return
		}
	}
	if !s.entered && ratio >= s.opts.ThresholdRatio {
		s.entered = true
		if s.handlers.Entered != nil {
			s.handlers.Entered()
		}
	}
	if s.entered && s.approaching && !s.released {
		// Nothing left to report.
		s.released = true
		s.detector.detach(s)
	}
}
