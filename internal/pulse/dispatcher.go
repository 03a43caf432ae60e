package pulse

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/semaphore"

	"github.com/roasbeef/pulsebot/internal/lookup"
)

// Dispatcher defaults.
const (
	// DefaultMaxInFlight bounds concurrently running handlers.
	DefaultMaxInFlight = 32

	// DefaultHandlerTimeout bounds one handler invocation so a hung
	// lookup cannot hold a permit forever.
	DefaultHandlerTimeout = 2 * time.Minute
)

// ErrDispatcherStopped is returned when an event arrives after the
// dispatcher began shutting down. The event stays unacknowledged and the
// broker redelivers it.
var ErrDispatcherStopped = errors.New("pulse: dispatcher stopped")

// HandlerFunc handles one decoded event.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handlers binds one handler to each event kind. The union of kinds is
// closed, so this is the complete routing table.
type Handlers struct {
	// ReviewRequested handles KindReviewRequested events.
	ReviewRequested HandlerFunc

	// ReviewPublished handles KindReviewPublished events.
	ReviewPublished HandlerFunc
}

// DispatcherConfig holds the dispatcher's tunables.
type DispatcherConfig struct {
	// MaxInFlight is the permit pool capacity: the number of handlers
	// allowed to run concurrently.
	MaxInFlight int64

	// HandlerTimeout bounds one handler invocation.
	HandlerTimeout time.Duration
}

// DefaultDispatcherConfig returns a DispatcherConfig with sensible
// defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxInFlight:    DefaultMaxInFlight,
		HandlerTimeout: DefaultHandlerTimeout,
	}
}

// Dispatcher routes decoded events to their handlers under a counting
// permit pool, and acknowledges each event exactly once after handling.
//
// Acknowledgment policy: every event that reaches a handler is acked once
// the handler returns, whether it succeeded, failed, or panicked, and a
// body that cannot be decoded is logged and acked immediately. The
// notifications downstream are idempotent chat lines, so redelivery could
// only duplicate them, while withholding the ack on a poison message would
// loop it forever. The one exception is shutdown: an event whose permit
// was never acquired stays unacknowledged for redelivery.
type Dispatcher struct {
	cfg      DispatcherConfig
	handlers Handlers
	log      *slog.Logger

	// sem is the permit pool bounding in-flight handlers. Acquire order
	// is FIFO, which gives the (N+1)th event no way to jump the queue.
	sem *semaphore.Weighted

	// gm tracks every spawned handler goroutine so shutdown can await
	// all in-flight work.
	gm *fn.GoroutineManager
}

// NewDispatcher creates a dispatcher routing events to the given handlers.
func NewDispatcher(cfg DispatcherConfig, handlers Handlers,
	log *slog.Logger) *Dispatcher {

	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}

	return &Dispatcher{
		cfg:      cfg,
		handlers: handlers,
		log:      log.With("component", "dispatcher"),
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
		gm:       fn.NewGoroutineManager(),
	}
}

// Dispatch decodes the delivery and runs its handler on a tracked
// goroutine once a permit is free. The call blocks while the pool is
// exhausted, which is what backpressures the consume loop against slow
// lookups.
func (d *Dispatcher) Dispatch(ctx context.Context, del Delivery) error {
	ev, err := DecodeEvent(del.Body())
	if err != nil {
		// Malformed events are isolated per event: report, ack, move
		// on. Redelivery could never make the body parse.
		d.log.ErrorContext(ctx, "dropping undecodable event",
			"err", err)
		d.ack(ctx, del)

		return nil
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	// The handler runs decoupled from the consume loop's context, so the
	// loop going away at shutdown cannot cancel work already in flight.
	// Handler lifetime is bounded by the per-invocation timeout and by
	// Stop's grace period instead.
	runCtx := context.WithoutCancel(ctx)

	started := d.gm.Go(runCtx, func(ctx context.Context) {
		defer d.sem.Release(1)
		d.process(ctx, ev, del)
	})
	if !started {
		d.sem.Release(1)
		return ErrDispatcherStopped
	}

	return nil
}

// process runs one handler invocation end to end: fresh lookup scope,
// per-invocation timeout, panic isolation, then the single ack.
func (d *Dispatcher) process(ctx context.Context, ev Event, del Delivery) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()

	// Each invocation gets its own lookup scope; results never leak
	// into the next event.
	ctx = lookup.WithScope(ctx)

	// The ack is unconditional and runs after handling, panic included.
	defer d.ack(ctx, del)

	defer func() {
		if r := recover(); r != nil {
			d.log.ErrorContext(ctx, "handler panicked",
				"kind", ev.Kind, "panic", r)
		}
	}()

	if err := d.route(ev.Kind)(ctx, ev); err != nil {
		d.log.ErrorContext(ctx, "handler failed",
			"kind", ev.Kind, "submitter", ev.Submitter, "err", err)
		return
	}

	d.log.DebugContext(ctx, "event handled", "kind", ev.Kind)
}

// route returns the handler for the given kind.
func (d *Dispatcher) route(kind EventKind) HandlerFunc {
	var h HandlerFunc
	switch kind {
	case KindReviewRequested:
		h = d.handlers.ReviewRequested
	case KindReviewPublished:
		h = d.handlers.ReviewPublished
	}
	if h != nil {
		return h
	}

	// DecodeEvent only produces known kinds, so a miss here means a
	// hand-built event or a kind with no handler bound.
	return func(context.Context, Event) error {
		return ErrUnknownRoutingKey
	}
}

// ack acknowledges the delivery, logging a failure instead of propagating
// it: at that point the handler already ran, so the worst case is one
// duplicated notification after redelivery.
func (d *Dispatcher) ack(ctx context.Context, del Delivery) {
	if err := del.Ack(); err != nil {
		d.log.WarnContext(ctx, "ack failed", "err", err)
	}
}

// Stop drains the dispatcher: it waits up to grace for in-flight handlers
// to finish on their own, then cancels whatever remains and waits for it.
// No new handlers start after it is called. Draining first matters because
// a handler interrupted mid fan-out has its event acked without the notice
// going out.
func (d *Dispatcher) Stop(grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	// Holding every permit means no handler is still running.
	if err := d.sem.Acquire(ctx, d.cfg.MaxInFlight); err == nil {
		d.sem.Release(d.cfg.MaxInFlight)
	}

	d.gm.Stop()
}
