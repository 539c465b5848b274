package lazyembed

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Zachkp/folio/internal/eventloop"
)

// SlotState is the lifecycle of one slot instance:
// Idle -> InView -> Scheduled -> Mounted | Failed.
type SlotState int

const (
	Idle SlotState = iota
	InView
	Scheduled
	Mounted
	Failed
)

func (s SlotState) String() string {
	switch s {
	case Idle:
		return "idle"
	case InView:
		return "in_view"
	case Scheduled:
		return "scheduled"
	case Mounted:
		return "mounted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s SlotState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SlotState) UnmarshalText(b []byte) error {
	for st := Idle; st <= Failed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown slot state %q", b)
}

// Presentation is what the host renders for a slot.
type Presentation int

const (
	Placeholder Presentation = iota
	Live
	Fallback
)

func (p Presentation) String() string {
	switch p {
	case Live:
		return "live"
	case Fallback:
		return "fallback"
	default:
		return "placeholder"
	}
}

func (p Presentation) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Presentation) UnmarshalText(b []byte) error {
	for v := Placeholder; v <= Fallback; v++ {
		if v.String() == string(b) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("unknown presentation %q", b)
}

func (s SlotState) Presentation() Presentation {
	switch s {
	case Mounted:
		return Live
	case Failed:
		return Fallback
	default:
		return Placeholder
	}
}

// SlotSpec is what a page section hands to the loader.
type SlotSpec struct {
	Name     string
	Resource ResourceID
	Region   Rect
	Fast     bool
	// Large only affects presentation.
	Large bool
}

// Snapshot is a read-only view of a slot after a transition.
type Snapshot struct {
	Slot         string        `json:"slot"`
	Resource     ResourceID    `json:"resource"`
	State        SlotState     `json:"state"`
	Presentation Presentation  `json:"presentation"`
	Fast         bool          `json:"fast"`
	Large        bool          `json:"large"`
	Class        DeviceClass   `json:"deviceClass"`
	Delay        time.Duration `json:"delay"`
	Warm         bool          `json:"warm"`
	Approaching  bool          `json:"approaching"`
	Loaded       bool          `json:"loaded"`
	Closed       bool          `json:"closed"`
	Reason       string        `json:"reason,omitempty"`
}

type slotEvent interface{ isSlotEvent() }

type (
	enteredEvent     struct{}
	approachingEvent struct{}
	timerFiredEvent  struct{}
	loadedEvent      struct{}
	failedEvent      struct{ reason string }
	teardownEvent    struct{}
)

func (enteredEvent) isSlotEvent()     {}
func (approachingEvent) isSlotEvent() {}
func (timerFiredEvent) isSlotEvent()  {}
func (loadedEvent) isSlotEvent()      {}
func (failedEvent) isSlotEvent()      {}
func (teardownEvent) isSlotEvent()    {}

// Observer is told about every transition of a slot, on the loop.
type Observer func(Snapshot)

// Slot owns one deferred-load lifecycle. All methods must be called on the
// loop; a slot is never shared between goroutines.
type Slot struct {
	spec      SlotSpec
	device    *DeviceMonitor
	scheduler *Scheduler
	cache     Warmth
	observer  Observer
	logger    *slog.Logger

	sub   *Subscription
	timer eventloop.Timer

	state       SlotState
	class       DeviceClass
	delay       time.Duration
	warm        bool
	approaching bool
	loaded      bool
	closed      bool
	reason      string
}

func (s *Slot) State() SlotState { return s.state }
func (s *Slot) Spec() SlotSpec   { return s.spec }
func (s *Slot) Closed() bool     { return s.closed }

func (s *Slot) Snapshot() Snapshot {
	return Snapshot{
		Slot:         s.spec.Name,
		Resource:     s.spec.Resource,
		State:        s.state,
		Presentation: s.state.Presentation(),
		Fast:         s.spec.Fast,
		Large:        s.spec.Large,
		Class:        s.class,
		Delay:        s.delay,
		Warm:         s.warm,
		Approaching:  s.approaching,
		Loaded:       s.loaded,
		Closed:       s.closed,
		Reason:       s.reason,
	}
}

// Move forwards a layout change of the slot's region to its detector.
func (s *Slot) Move(region Rect) {
	s.spec.Region = region
	if s.sub != nil {
		s.sub.Move(region)
	}
}

// ContentLoaded is the embedded content's own success signal.
func (s *Slot) ContentLoaded() { s.dispatch(loadedEvent{}) }

// ContentFailed is the embedded content's own error signal.
func (s *Slot) ContentFailed(reason string) { s.dispatch(failedEvent{reason: reason}) }

// Teardown releases the detector subscription and cancels any pending
// authorization. The slot never transitions again.
func (s *Slot) Teardown() { s.dispatch(teardownEvent{}) }

func (s *Slot) dispatch(ev slotEvent) {
	if s.closed {
		return
	}
	prev := s.state
	changed := false

	switch ev := ev.(type) {
	case approachingEvent:
		if !s.approaching {
			s.approaching = true
			changed = true
		}

	case enteredEvent:
		if s.state != Idle {
			return
		}
		s.state = InView
		s.notify()
		s.schedule()
		changed = true

	case timerFiredEvent:
		if s.state != Scheduled {
			return
		}
		s.timer = nil
		s.state = Mounted
		changed = true

	case loadedEvent:
		if s.state != Mounted || s.loaded {
			return
		}
		s.loaded = true
		s.cache.RecordLoaded(s.spec.Resource)
		changed = true

	case failedEvent:
		if s.loaded || (s.state != Scheduled && s.state != Mounted) {
			return
		}
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.state = Failed
		s.reason = ev.reason
		s.logger.Warn("embed failed, showing fallback",
			"slot", s.spec.Name, "resource", s.spec.Resource, "reason", ev.reason)
		changed = true

	case teardownEvent:
		if s.sub != nil {
			s.sub.Release()
		}
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.closed = true
		changed = true
	}

	if !changed {
		return
	}
	if prev != s.state {
		s.logger.Debug("slot transition", "slot", s.spec.Name, "from", prev, "to", s.state)
	}
	s.notify()
}

func (s *Slot) schedule() {
	s.class = s.device.Class()
	timer, delay, warm := s.scheduler.Schedule(s.spec.Resource, s.class, s.spec.Fast, func() {
		s.dispatch(timerFiredEvent{})
	})
	s.timer = timer
	s.delay = delay
	s.warm = warm
	s.state = Scheduled
}

func (s *Slot) notify() {
	if s.observer != nil {
		s.observer(s.Snapshot())
	}
}
