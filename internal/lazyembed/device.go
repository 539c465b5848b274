package lazyembed

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Zachkp/folio/internal/eventloop"
)

// DeviceClass is a coarse bucket used to bias load delays. It never hides content.
type DeviceClass int

const (
	Constrained DeviceClass = iota
	Full
)

func (c DeviceClass) String() string {
	switch c {
	case Constrained:
		return "constrained"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

func (c DeviceClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *DeviceClass) UnmarshalText(b []byte) error {
	switch string(b) {
	case "constrained":
		*c = Constrained
	case "full":
		*c = Full
	default:
		return fmt.Errorf("unknown device class %q", b)
	}
	return nil
}

// Viewport is what the page knows about the visible window: size, scroll
// offset and the device signals used for classification.
type Viewport struct {
	Width     float64
	Height    float64
	ScrollX   float64
	ScrollY   float64
	Touch     bool
	UserAgent string
}

// Rect returns the viewport in document coordinates.
func (v Viewport) Rect() Rect {
	return Rect{X: v.ScrollX, Y: v.ScrollY, Width: v.Width, Height: v.Height}
}

var mobileUA = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)

type Classifier struct {
	Breakpoint      float64
	TouchBreakpoint float64
}

func (c Classifier) Classify(v Viewport) DeviceClass {
	switch {
	case v.Width < c.Breakpoint:
		return Constrained
	case mobileUA.MatchString(v.UserAgent):
		return Constrained
	case v.Touch && v.Width < c.TouchBreakpoint:
		return Constrained
	default:
		return Full
	}
}

// DeviceMonitor keeps the current class and recomputes it once resizing
// settles for the debounce window.
type DeviceMonitor struct {
	loop       eventloop.Loop
	classifier Classifier
	debounce   time.Duration

	class     DeviceClass
	latest    Viewport
	pending   eventloop.Timer
	listeners []func(DeviceClass)
}

func NewDeviceMonitor(loop eventloop.Loop, classifier Classifier, debounce time.Duration, initial Viewport) *DeviceMonitor {
	return &DeviceMonitor{
		loop:       loop,
		classifier: classifier,
		debounce:   debounce,
		class:      classifier.Classify(initial),
		latest:     initial,
	}
}

func (m *DeviceMonitor) Class() DeviceClass { return m.class }

// OnChange registers fn to run on the loop whenever the class flips.
func (m *DeviceMonitor) OnChange(fn func(DeviceClass)) {
	m.listeners = append(m.listeners, fn)
}

// Resize records a new viewport. Reclassification happens once no further
// resize arrives for the debounce window.
func (m *DeviceMonitor) Resize(v Viewport) {
	m.latest = v
	if m.pending != nil {
		m.pending.Stop()
	}
	m.pending = m.loop.AfterFunc(m.debounce, m.settle)
}

func (m *DeviceMonitor) Stop() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	m.listeners = nil
}

func (m *DeviceMonitor) settle() {
	m.pending = nil
	next := m.classifier.Classify(m.latest)
	if next == m.class {
		return
	}
	m.class = next
	for _, fn := range m.listeners {
		fn(next)
	}
}
