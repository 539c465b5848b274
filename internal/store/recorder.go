package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Zachkp/folio/internal/page"
)

const writeTimeout = 2 * time.Second

// AsyncRecorder persists embed outcomes off the session loops. Record never
// blocks; when the buffer is full the outcome is dropped.
type AsyncRecorder struct {
	store   *Store
	logger  *slog.Logger
	queue   chan page.Outcome
	dropped atomic.Int64
}

func NewAsyncRecorder(s *Store, buffer int, logger *slog.Logger) *AsyncRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer < 1 {
		buffer = 1
	}
	return &AsyncRecorder{store: s, logger: logger, queue: make(chan page.Outcome, buffer)}
}

func (r *AsyncRecorder) Record(o page.Outcome) {
	select {
	case r.queue <- o:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("outcome queue full, dropping", "dropped", n)
		}
	}
}

// Dropped reports how many outcomes were discarded.
func (r *AsyncRecorder) Dropped() int64 { return r.dropped.Load() }

// Run writes queued outcomes until ctx is done, then flushes what is left.
func (r *AsyncRecorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case o := <-r.queue:
			r.write(o)
		}
	}
}

func (r *AsyncRecorder) flush() {
	for {
		select {
		case o := <-r.queue:
			r.write(o)
		default:
			return
		}
	}
}

// write is detached from Run's context so shutdown still flushes.
func (r *AsyncRecorder) write(o page.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := r.store.RecordOutcome(ctx, OutcomeRow{
		SessionID: o.SessionID,
		Slot:      o.Slot,
		Resource:  string(o.Resource),
		Kind:      o.Kind,
		Class:     o.Class.String(),
		Fast:      o.Fast,
		Warm:      o.Warm,
		Delay:     o.Delay,
		Reason:    o.Reason,
		At:        o.At,
	})
	if err != nil {
		r.logger.Error("failed to persist embed outcome", "slot", o.Slot, "kind", o.Kind, "error", err)
	}
}
