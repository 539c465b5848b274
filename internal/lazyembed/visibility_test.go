package lazyembed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachkp/folio/internal/eventloop"
)

type signals struct {
	entered     int
	approaching int
	order       []string
}

func (s *signals) handlers() Handlers {
	return Handlers{
		Entered: func() {
			s.entered++
			s.order = append(s.order, "entered")
		},
		Approaching: func() {
			s.approaching++
			s.order = append(s.order, "approaching")
		},
	}
}

func viewportAt(y float64) Rect { return Rect{X: 0, Y: y, Width: 1000, Height: 800} }

func TestRect_Intersect(t *testing.T) {
	a := Rect{X: 0, Y: 0, Width: 100, Height: 100}

	got, ok := a.Intersect(Rect{X: 50, Y: 50, Width: 100, Height: 100})
	require.True(t, ok)
	assert.Equal(t, Rect{X: 50, Y: 50, Width: 50, Height: 50}, got)

	got, ok = a.Intersect(Rect{X: 0, Y: 100, Width: 100, Height: 10})
	require.True(t, ok, "edge-adjacent rects intersect")
	assert.Zero(t, got.Area())

	_, ok = a.Intersect(Rect{X: 0, Y: 101, Width: 100, Height: 10})
	assert.False(t, ok)
}

func TestDetector_AlreadyVisibleFiresOnNextTurn(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	d := NewDetector(loop, viewportAt(0))

	var s signals
	sub := d.Watch(Rect{X: 0, Y: 100, Width: 1000, Height: 400}, WatchOptions{ThresholdRatio: 0.05}, s.handlers())

	assert.Zero(t, s.entered, "must not fire inside Watch")
	loop.RunPending()
	assert.Equal(t, 1, s.entered)
	assert.True(t, sub.Entered())
	assert.Equal(t, []string{"approaching", "entered"}, s.order)
}

func TestDetector_EnteredFiresOnceAcrossScrolling(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	d := NewDetector(loop, viewportAt(0))

	var s signals
	d.Watch(Rect{X: 0, Y: 2000, Width: 1000, Height: 600}, WatchOptions{ThresholdRatio: 0.3}, s.handlers())
	loop.RunPending()
	require.Zero(t, s.entered)

	for i := 0; i < 5; i++ {
		d.SetViewport(viewportAt(2000)) // in
		d.SetViewport(viewportAt(0))    // out
	}
	assert.Equal(t, 1, s.entered)
	assert.Equal(t, 1, s.approaching)
	assert.Zero(t, d.Live(), "fully reported subscriptions detach")
}

func TestDetector_ThresholdRatio(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	d := NewDetector(loop, viewportAt(0))

	var s signals
	// region 1000x400 starting at the viewport's bottom edge
	d.Watch(Rect{X: 0, Y: 800, Width: 1000, Height: 400}, WatchOptions{ThresholdRatio: 0.25}, s.handlers())
	loop.RunPending()
	assert.Equal(t, 1, s.approaching, "touching the edge counts as approaching")
	assert.Zero(t, s.entered)

	d.SetViewport(viewportAt(99)) // 99px of 400 visible: 0.2475
	assert.Zero(t, s.entered)

	d.SetViewport(viewportAt(100)) // exactly a quarter
	assert.Equal(t, 1, s.entered)
}

func TestDetector_PreMarginApproachesBeforeStrictlyVisible(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	d := NewDetector(loop, viewportAt(0))

	var s signals
	d.Watch(Rect{X: 0, Y: 1000, Width: 1000, Height: 500}, WatchOptions{ThresholdRatio: 0.1, PreMargin: 200}, s.handlers())
	loop.RunPending()
	assert.Equal(t, 1, s.approaching, "region 200px below the fold is within the margin")
	assert.Zero(t, s.entered)

	d.SetViewport(viewportAt(50)) // expanded viewport reaches 1050: 50/500 = 0.1
	assert.Equal(t, 1, s.entered)
}

func TestDetector_MoveReevaluates(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	d := NewDetector(loop, viewportAt(0))

	var s signals
	sub := d.Watch(Rect{X: 0, Y: 5000, Width: 100, Height: 100}, WatchOptions{ThresholdRatio: 0.5}, s.handlers())
	loop.RunPending()
	require.Zero(t, s.entered)

	sub.Move(Rect{X: 0, Y: 300, Width: 100, Height: 100})
	assert.Equal(t, 1, s.entered)
}

func TestDetector_ReleaseStopsCallbacks(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	d := NewDetector(loop, viewportAt(0))

	var s signals
	sub := d.Watch(Rect{X: 0, Y: 0, Width: 100, Height: 100}, WatchOptions{}, s.handlers())
	sub.Release()
	loop.RunPending()
	d.SetViewport(viewportAt(0))
	sub.Move(Rect{X: 0, Y: 10, Width: 100, Height: 100})

	assert.Zero(t, s.entered)
	assert.Zero(t, s.approaching)
	assert.Zero(t, d.Live())
	assert.NotPanics(t, sub.Release)
}

func TestDetector_ReleaseFromApproachingHandler(t *testing.T) {
	loop := eventloop.NewManual(time.Time{})
	d := NewDetector(loop, viewportAt(0))

	entered := 0
	var sub *Subscription
	sub = d.Watch(Rect{X: 0, Y: 0, Width: 100, Height: 100}, WatchOptions{}, Handlers{
		Approaching: func() { sub.Release() },
		Entered:     func() { entered++ },
	})
	loop.RunPending()
	assert.Zero(t, entered)
}
