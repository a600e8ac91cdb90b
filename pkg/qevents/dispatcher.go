package qevents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/quatton/qci/pkg/kv"
	"github.com/quatton/qci/pkg/qerr"
	"github.com/quatton/qci/pkg/qlog"
)

var (
	ErrNoHandler         = errors.New("no handler registered for event type")
	ErrAlreadyRegistered = errors.New("event type already has a handler")
	ErrDuplicateEvent    = errors.New("event already delivered")
	ErrClosed            = errors.New("dispatcher is closed")
)

// Handler processes one event. The context is cancelled when the
// dispatcher is force-closed.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher is built once per process, typically in main, and closed
// on shutdown.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool
	inflight sync.WaitGroup

	// base context for asynchronous handlers
	ctx    context.Context
	cancel context.CancelFunc

	dedup    kv.Store
	dedupTTL time.Duration
	logger   *qlog.Logger

	errMu       sync.Mutex
	asyncErrs   []error // most recent failures, at most maxAsyncErrors
	droppedErrs int
}

// maxAsyncErrors bounds the asynchronous handler failures kept for Close.
// Older ones are still logged as they happen.
const maxAsyncErrors = 100

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithDedup rejects events whose ID was already seen within ttl.
func WithDedup(store kv.Store, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		d.dedup = store
		d.dedupTTL = ttl
	}
}

func WithLogger(logger *qlog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func NewDispatcher(opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		ctx:      ctx,
		cancel:   cancel,
		dedupTTL: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = qlog.Discard()
	}
	return d
}

// On registers the handler for eventType. Each type has at most one
// handler; a handler that fans out to several pipelines is built by the
// caller.
func (d *Dispatcher) On(eventType string, h Handler) error {
	if err := ValidateType(eventType); err != nil {
		return fmt.Errorf("invalid event type %q: %w", eventType, err)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", eventType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, exists := d.handlers[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, eventType)
	}
	d.handlers[eventType] = h
	return nil
}

// Types returns the registered event types, sorted.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch runs the handler for ev and returns its error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	ev, h, err := d.accept(ctx, ev)
	if err != nil {
		return err
	}
	defer d.inflight.Done()
	return d.handle(ctx, h, ev)
}

// DispatchAsync starts the handler in the background and returns the event
// ID. Handler failures are logged and reported by Close.
func (d *Dispatcher) DispatchAsync(ev Event) (string, error) {
	ev, h, err := d.accept(d.ctx, ev)
	if err != nil {
		return "", err
	}

	go func() {
		defer d.inflight.Done()
		if err := d.handle(d.ctx, h, ev); err != nil {
			d.recordAsyncErr(fmt.Errorf("event %s (%s): %w", ev.ID, ev.Type, err))
		}
	}()
	return ev.ID, nil
}

func (d *Dispatcher) recordAsyncErr(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if len(d.asyncErrs) == maxAsyncErrors {
		copy(d.asyncErrs, d.asyncErrs[1:])
		d.asyncErrs = d.asyncErrs[:maxAsyncErrors-1]
		d.droppedErrs++
	}
	d.asyncErrs = append(d.asyncErrs, err)
}

// accept resolves the handler and claims the event. On success the caller
// owns one inflight slot.
func (d *Dispatcher) accept(ctx context.Context, ev Event) (Event, Handler, error) {
	ev, err := ev.prepare()
	if err != nil {
		return Event{}, nil, err
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return Event{}, nil, ErrClosed
	}
	h, ok := d.handlers[ev.Type]
	if !ok {
		d.mu.RUnlock()
		return Event{}, nil, fmt.Errorf("%w: %s", ErrNoHandler, ev.Type)
	}
	// Added under the read lock so Close cannot start waiting in between.
	d.inflight.Add(1)
	d.mu.RUnlock()

	if d.dedup != nil {
		claimed, err := d.dedup.SetNX(ctx, dedupKey(ev.ID), []byte(ev.Type), d.dedupTTL)
		if err != nil {
			d.inflight.Done()
			return Event{}, nil, fmt.Errorf("failed to claim event %s: %w", ev.ID, err)
		}
		if !claimed {
			d.inflight.Done()
			return Event{}, nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, ev.ID)
		}
	}
	return ev, h, nil
}

func (d *Dispatcher) handle(ctx context.Context, h Handler, ev Event) error {
	log := d.logger.With("event_id", ev.ID, "type", ev.Type)
	log.Info("dispatching event", "source", ev.Source)

	start := time.Now()
	err := h(ctx, ev)
	if err != nil {
		log.Error("event handler failed", "error", err, "duration", time.Since(start).Round(time.Millisecond))
		// Platform failures are worth redelivering; release the claim.
		if d.dedup != nil && qerr.IsCode(err, qerr.CodePlatformError) {
			if derr := d.dedup.Delete(context.WithoutCancel(ctx), dedupKey(ev.ID)); derr != nil {
				log.Warn("failed to release event claim", "error", derr)
			}
		}
		return err
	}
	log.Info("event handled", "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func dedupKey(id string) string {
	return "qci:event:" + id
}

// Close stops accepting events and waits for in-flight handlers. If ctx
// ends first, handlers are cancelled and Close waits for them to return.
// The result aggregates asynchronous handler failures.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	var result *multierror.Error
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
		result = multierror.Append(result, fmt.Errorf("in-flight handlers cancelled: %w", ctx.Err()))
	}
	d.cancel()

	d.errMu.Lock()
	if d.droppedErrs > 0 {
		result = multierror.Append(result, fmt.Errorf("%d earlier handler failures omitted", d.droppedErrs))
	}
	result = multierror.Append(result, d.asyncErrs...)
	d.asyncErrs, d.droppedErrs = nil, 0
	d.errMu.Unlock()
	return result.ErrorOrNil()
}
