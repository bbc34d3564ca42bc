package observe

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/servalsync/internal/dispatch"
)

// Delivery selects the execution context an observer is called on.
type Delivery uint8

const (
	// Inline observers run on the goroutine that called Notify.
	Inline Delivery = iota
	// Background observers run on the registry's dispatch loop.
	Background
)

func (d Delivery) String() string {
	if d == Background {
		return "background"
	}
	return "inline"
}

// Handler receives change events. A returned error is reported as an
// ObserverFault and does not affect other observers.
type Handler[T any] func(Event[T]) error

// Handle identifies a subscription.
type Handle string

// FaultReporter receives observer failures.
type FaultReporter func(*ObserverFault)

type entry[T any] struct {
	handle   Handle
	name     string
	handler  Handler[T]
	delivery Delivery
	// post carries batches to the loop for Background entries.
	post *dispatch.Handler[[]Event[T]]
}

// Registry broadcasts events for one collection to its observers.
// Subscribe and Unsubscribe are safe from any goroutine; Notify must only be
// called by the collection's owner.
type Registry[T any] struct {
	name    string
	loop    *dispatch.Loop
	logger  *zap.Logger
	onFault FaultReporter

	mu      sync.Mutex // serializes writers of entries
	entries atomic.Pointer[[]*entry[T]]
}

// NewRegistry creates a registry. loop is used for Background observers; if it
// is nil, Background observers are delivered inline.
func NewRegistry[T any](name string, loop *dispatch.Loop, logger *zap.Logger) *Registry[T] {
	r := &Registry[T]{
		name:   name,
		loop:   loop,
		logger: logger,
	}
	empty := make([]*entry[T], 0)
	r.entries.Store(&empty)
	return r
}

// OnFault installs a reporter called for every observer failure.
func (r *Registry[T]) OnFault(fn FaultReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFault = fn
}

// Subscribe registers handler and returns a handle for Unsubscribe.
func (r *Registry[T]) Subscribe(handler Handler[T], delivery Delivery) Handle {
	return r.SubscribeNamed("", handler, delivery)
}

// SubscribeNamed is Subscribe with a label used in fault reports.
func (r *Registry[T]) SubscribeNamed(name string, handler Handler[T], delivery Delivery) Handle {
	e := &entry[T]{
		handle:   Handle(uuid.NewString()),
		name:     name,
		handler:  handler,
		delivery: delivery,
	}
	if delivery == Background && r.loop != nil {
		e.post = dispatch.NewHandler(r.loop, func(batch []Event[T]) { r.deliverAll(e, batch) })
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.entries.Load()
	next := make([]*entry[T], len(old), len(old)+1)
	copy(next, old)
	next = append(next, e)
	r.entries.Store(&next)

	r.logger.Debug("observer subscribed",
		zap.String("collection", r.name),
		zap.String("handle", string(e.handle)),
		zap.Stringer("delivery", delivery),
	)
	return e.handle
}

// Unsubscribe removes an observer. Deliveries already scheduled on the
// dispatch loop still run. It reports whether the handle was registered.
func (r *Registry[T]) Unsubscribe(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.entries.Load()
	next := make([]*entry[T], 0, len(old))
	found := false
	for _, e := range old {
		if e.handle == h {
			found = true
			continue
		}
		next = append(next, e)
	}
	if !found {
		return false
	}
	r.entries.Store(&next)
	return true
}

// Len returns the number of registered observers.
func (r *Registry[T]) Len() int {
	return len(*r.entries.Load())
}

// Notify delivers events, in order, to every observer registered at the time
// of the call. Each background observer receives the whole batch as a single
// loop callback, so per-observer order follows emission order. While the
// loop's queue is full Notify blocks; it never drops a batch for a live loop.
func (r *Registry[T]) Notify(events ...Event[T]) {
	if len(events) == 0 {
		return
	}
	snapshot := *r.entries.Load()

	for _, e := range snapshot {
		if e.post != nil {
			if !e.post.Send(events) {
				r.logger.Debug("dispatch loop closed, dropping delivery",
					zap.String("collection", r.name),
					zap.String("handle", string(e.handle)),
				)
			}
			continue
		}
		r.deliverAll(e, events)
	}
}

func (r *Registry[T]) deliverAll(e *entry[T], events []Event[T]) {
	for _, ev := range events {
		r.deliver(e, ev)
	}
}

func (r *Registry[T]) deliver(e *entry[T], ev Event[T]) {
	defer func() {
		if p := recover(); p != nil {
			r.fault(e, ev, fmt.Errorf("observer panicked: %v", p))
		}
	}()
	if err := e.handler(ev); err != nil {
		r.fault(e, ev, err)
	}
}

func (r *Registry[T]) fault(e *entry[T], ev Event[T], err error) {
	f := &ObserverFault{
		Collection: r.name,
		Observer:   e.handle,
		Name:       e.name,
		Kind:       ev.Kind,
		Err:        err,
	}

	r.logger.Warn("observer failed",
		zap.String("collection", r.name),
		zap.String("handle", string(e.handle)),
		zap.String("observer", e.name),
		zap.Stringer("event", ev.Kind),
		zap.Error(err),
	)

	r.mu.Lock()
	report := r.onFault
	r.mu.Unlock()
	if report != nil {
		report(f)
	}
}
