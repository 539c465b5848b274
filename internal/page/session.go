// Package page hosts one browser page lifetime on the server: the loop the
// page's embed slots run on, its resource cache, and the live slot per section.
package page

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Zachkp/folio/internal/eventloop"
	"github.com/Zachkp/folio/internal/lazyembed"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrTooManySessions = errors.New("too many live sessions")
)

// Section is what the host page declares for one embed placement.
type Section struct {
	Slot     string               `json:"slot"`
	Resource lazyembed.ResourceID `json:"resource"`
	Fast     bool                 `json:"fast"`
	Large    bool                 `json:"large"`
}

// Outcome kinds reported to an OutcomeRecorder.
const (
	OutcomeMounted   = "mounted"
	OutcomeLoaded    = "loaded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Outcome is one notable step of a slot instance, kept for the admin stats.
type Outcome struct {
	SessionID string
	Slot      string
	Resource  lazyembed.ResourceID
	Kind      string
	Class     lazyembed.DeviceClass
	Fast      bool
	Warm      bool
	Delay     time.Duration
	Reason    string
	At        time.Time
}

type OutcomeRecorder interface {
	Record(Outcome)
}

type nopRecorder struct{}

func (nopRecorder) Record(Outcome) {}

// Session is one page lifetime. Its exported methods may be called from any
// goroutine; they validate synchronously and apply on the session's loop.
type Session struct {
	id       string
	loop     eventloop.Loop
	loader   *lazyembed.Loader
	sections []Section
	index    map[string]Section
	recorder OutcomeRecorder
	logger   *slog.Logger
	stop     func()

	// loop-owned
	slots map[string]*lazyembed.Slot

	mu       sync.RWMutex
	snaps    map[string]lazyembed.Snapshot
	subs     map[chan lazyembed.Snapshot]struct{}
	closed   bool
	lastSeen time.Time
}

type SessionOption func(*Session)

func WithRecorder(r OutcomeRecorder) SessionOption {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStop runs fn once the session closes, typically to stop its loop.
func WithStop(fn func()) SessionOption {
	return func(s *Session) { s.stop = fn }
}

func NewSession(id string, loop eventloop.Loop, cfg lazyembed.Config, vp lazyembed.Viewport, sections []Section, opts ...SessionOption) (*Session, error) {
	s := &Session{
		id:       id,
		loop:     loop,
		sections: sections,
		index:    make(map[string]Section, len(sections)),
		recorder: nopRecorder{},
		logger:   slog.Default(),
		slots:    make(map[string]*lazyembed.Slot),
		snaps:    make(map[string]lazyembed.Snapshot),
		subs:     make(map[chan lazyembed.Snapshot]struct{}),
		lastSeen: loop.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", id)

	for _, sec := range sections {
		if sec.Slot == "" {
			return nil, fmt.Errorf("section for %q has no slot name", sec.Resource)
		}
		if _, dup := s.index[sec.Slot]; dup {
			return nil, fmt.Errorf("duplicate slot %q", sec.Slot)
		}
		s.index[sec.Slot] = sec
		s.snaps[sec.Slot] = idleSnapshot(sec)
	}

	loader, err := lazyembed.New(loop, cfg, vp, lazyembed.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.loader = loader
	return s, nil
}

func idleSnapshot(sec Section) lazyembed.Snapshot {
	return lazyembed.Snapshot{
		Slot:         sec.Slot,
		Resource:     sec.Resource,
		State:        lazyembed.Idle,
		Presentation: lazyembed.Placeholder,
		Fast:         sec.Fast,
		Large:        sec.Large,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Sections() []Section { return s.sections }

// LastSeen is the time of the last client event.
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Snapshot returns the latest view of every section, in page order.
func (s *Session) Snapshot() []lazyembed.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]lazyembed.Snapshot, 0, len(s.sections))
	for _, sec := range s.sections {
		out = append(out, s.snaps[sec.Slot])
	}
	return out
}

func (s *Session) SlotSnapshot(slot string) (lazyembed.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[slot]
	if !ok {
		return lazyembed.Snapshot{}, fmt.Errorf("%w: %s", ErrSlotNotFound, slot)
	}
	return snap, nil
}

// Subscribe streams every snapshot published after the call. Slow readers
// miss updates rather than stall the loop. Call cancel to stop.
func (s *Session) Subscribe(buffer int) (<-chan lazyembed.Snapshot, func()) {
	ch := make(chan lazyembed.Snapshot, buffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *Session) UpdateViewport(vp lazyembed.Viewport) error {
	return s.post("", func() { s.loader.SetViewport(vp) })
}

// Mount creates a fresh slot instance for the section at region. A previous
// instance of the same slot is torn down first.
func (s *Session) Mount(slot string, region lazyembed.Rect) error {
	return s.post(slot, func() {
		if prev := s.slots[slot]; prev != nil {
			prev.Teardown()
		}
		sec := s.index[slot]
		var inst *lazyembed.Slot
		inst = s.loader.NewSlot(lazyembed.SlotSpec{
			Name:     sec.Slot,
			Resource: sec.Resource,
			Region:   region,
			Fast:     sec.Fast,
			Large:    sec.Large,
		}, func(snap lazyembed.Snapshot) { s.observe(inst, snap) })
		s.slots[slot] = inst
		s.publish(idleSnapshot(sec))
	})
}

func (s *Session) Layout(slot string, region lazyembed.Rect) error {
	return s.withSlot(slot, func(sl *lazyembed.Slot) { sl.Move(region) })
}

func (s *Session) Loaded(slot string) error {
	return s.withSlot(slot, func(sl *lazyembed.Slot) { sl.ContentLoaded() })
}

func (s *Session) Failed(slot, reason string) error {
	return s.withSlot(slot, func(sl *lazyembed.Slot) { sl.ContentFailed(reason) })
}

// Unmount tears the slot instance down; the section falls back to an idle placeholder.
func (s *Session) Unmount(slot string) error {
	return s.post(slot, func() {
		sl := s.slots[slot]
		if sl == nil {
			return
		}
		sl.Teardown()
		delete(s.slots, slot)
		s.publish(idleSnapshot(s.index[slot]))
	})
}

// Close tears every slot down and ends subscriptions. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.loop.Post(func() {
		for name, sl := range s.slots {
			sl.Teardown()
			delete(s.slots, name)
		}
		s.loader.Close()

		s.mu.Lock()
		for ch := range s.subs {
			close(ch)
			delete(s.subs, ch)
		}
		s.mu.Unlock()

		if s.stop != nil {
			s.stop()
		}
	})
}

func (s *Session) withSlot(slot string, fn func(*lazyembed.Slot)) error {
	return s.post(slot, func() {
		if sl := s.slots[slot]; sl != nil {
			fn(sl)
		}
	})
}

func (s *Session) post(slot string, fn func()) error {
	if slot != "" {
		if _, ok := s.index[slot]; !ok {
			return fmt.Errorf("%w: %s", ErrSlotNotFound, slot)
		}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.lastSeen = s.loop.Now()
	s.mu.Unlock()

	s.loop.Post(func() {
		if s.Closed() {
			return
		}
		fn()
	})
	return nil
}

// observe runs on the loop after every transition of inst.
func (s *Session) observe(inst *lazyembed.Slot, snap lazyembed.Snapshot) {
	if s.slots[snap.Slot] != inst {
		// a replaced instance only ever reports its own teardown
		return
	}
	if kind := s.outcomeFor(snap); kind != "" {
		s.recorder.Record(Outcome{
			SessionID: s.id,
			Slot:      snap.Slot,
			Resource:  snap.Resource,
			Kind:      kind,
			Class:     snap.Class,
			Fast:      snap.Fast,
			Warm:      snap.Warm,
			Delay:     snap.Delay,
			Reason:    snap.Reason,
			At:        s.loop.Now(),
		})
	}
	if snap.Closed {
		return
	}
	s.publish(snap)
}

func (s *Session) outcomeFor(snap lazyembed.Snapshot) string {
	prev := s.snapFor(snap.Slot)
	switch {
	case snap.Closed:
		if snap.State == lazyembed.Scheduled {
			return OutcomeCancelled
		}
	case snap.State == lazyembed.Failed && prev.State != lazyembed.Failed:
		return OutcomeFailed
	case snap.State == lazyembed.Mounted && snap.Loaded && !prev.Loaded:
		return OutcomeLoaded
	case snap.State == lazyembed.Mounted && prev.State != lazyembed.Mounted:
		return OutcomeMounted
	}
	return ""
}

func (s *Session) snapFor(slot string) lazyembed.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snaps[slot]
}

func (s *Session) publish(snap lazyembed.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.Slot] = snap
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			s.logger.Debug("dropping slot update for slow subscriber", "slot", snap.Slot)
		}
	}
}
