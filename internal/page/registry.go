package page

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Zachkp/folio/internal/eventloop"
	"github.com/Zachkp/folio/internal/lazyembed"
)

// LoopFactory builds the loop for a new session. stop is called when the
// session closes.
type LoopFactory func() (loop eventloop.Loop, stop func())

type RegistryConfig struct {
	Loader   lazyembed.Config
	Sections []Section
	// IdleTTL closes sessions that have not reported anything for this long.
	IdleTTL     time.Duration
	MaxSessions int
}

// Registry tracks the live page sessions of the process.
type Registry struct {
	cfg      RegistryConfig
	newLoop  LoopFactory
	recorder OutcomeRecorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

type RegistryOption func(*Registry)

func WithLoopFactory(f LoopFactory) RegistryOption {
	return func(r *Registry) { r.newLoop = f }
}

func WithOutcomeRecorder(rec OutcomeRecorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(cfg RegistryConfig, opts ...RegistryOption) (*Registry, error) {
	if err := cfg.Loader.Validate(); err != nil {
		return nil, err
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	r := &Registry{
		cfg:      cfg,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.newLoop == nil {
		return nil, fmt.Errorf("registry needs a loop factory")
	}
	return r, nil
}

// RunnerFactory returns a LoopFactory that starts one eventloop.Runner per
// session on wg, bound to ctx.
func RunnerFactory(ctx context.Context, wg *conc.WaitGroup) LoopFactory {
	return func() (eventloop.Loop, func()) {
		runner := eventloop.NewRunner()
		loopCtx, cancel := context.WithCancel(ctx)
		wg.Go(func() { _ = runner.Run(loopCtx) })
		return runner, cancel
	}
}

func (r *Registry) Sections() []Section { return r.cfg.Sections }

// Create opens a session for a freshly loaded page.
func (r *Registry) Create(vp lazyembed.Viewport) (*Session, error) {
	r.mu.Lock()
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrTooManySessions, r.cfg.MaxSessions)
	}
	r.mu.Unlock()

	loop, stop := r.newLoop()
	id := uuid.NewString()
	s, err := NewSession(id, loop, r.cfg.Loader, vp, r.cfg.Sections,
		WithRecorder(r.recorder),
		WithLogger(r.logger),
		WithStop(stop),
	)
	if err != nil {
		stop()
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	r.logger.Debug("session opened", "session", id, "width", vp.Width, "touch", vp.Touch)
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the TTL and reports how many.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.cfg.IdleTTL)
	var idle []*Session

	r.mu.Lock()
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		r.logger.Info("closed idle sessions", "count", len(idle))
	}
	return len(idle)
}

// Run sweeps idle sessions every interval until ctx is done, then closes
// whatever is left.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
