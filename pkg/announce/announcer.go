package announce

import (
	"context"
	"fmt"
	"sync"
)

// Logger is the tiny slice of internal/platform/logging.Logger the announcer
// needs, kept as an interface here so this package does not import the platform
// logging package directly.
type Logger interface {
	ErrorContext(ctx context.Context, msg string, args ...any)
}

type registration struct {
	listener Listener
	mode     DeliveryMode
}

// Announcer delivers lifecycle events to registered listeners, preserving
// per-case ordering (A.4.5). Synchronous listeners are invoked inline by Notify
// (the caller is expected to hold the case lock, per A.5); deferred listeners'
// events are queued per case and released by Flush once the caller has released
// the lock.
type Announcer struct {
	mu        sync.RWMutex
	listeners []registration
	seq       map[string]uint64 // per-case sequence counter

	deferredMu sync.Mutex
	pending    map[string][]Event // caseID -> queued events for deferred listeners

	logger Logger
}

func New(logger Logger) *Announcer {
	return &Announcer{
		seq:     make(map[string]uint64),
		pending: make(map[string][]Event),
		logger:  logger,
	}
}

// Register adds a listener with its declared delivery mode. Duplicate names are
// rejected, mirroring internal/application/observer/manager.go's Register.
func (a *Announcer) Register(l Listener, mode DeliveryMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.listeners {
		if r.listener.Name() == l.Name() {
			return fmt.Errorf("announce: listener %q already registered", l.Name())
		}
	}
	a.listeners = append(a.listeners, registration{listener: l, mode: mode})
	return nil
}

// Unregister removes a listener by name.
func (a *Announcer) Unregister(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, r := range a.listeners {
		if r.listener.Name() == name {
			a.listeners = append(a.listeners[:i], a.listeners[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("announce: listener %q not found", name)
}

// Notify delivers event to every registered listener whose filter accepts it.
// Call this while holding the originating case's lock: synchronous listeners run
// inline here; deferred listeners are queued for a later Flush. Event.Seq is
// assigned here, monotonically increasing per case.
func (a *Announcer) Notify(ctx context.Context, event Event) {
	a.mu.Lock()
	event.Seq = a.seq[event.CaseID] + 1
	a.seq[event.CaseID] = event.Seq
	listeners := make([]registration, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()

	deferred := false
	for _, r := range listeners {
		if f := r.listener.Filter(); f != nil && !f.ShouldNotify(event) {
			continue
		}
		switch r.mode {
		case Synchronous:
			a.safeNotify(ctx, r.listener, event)
		case Deferred:
			deferred = true
		}
	}
	if deferred {
		a.enqueueDeferred(event)
	}
}

// safeNotify invokes a synchronous listener with panic recovery, isolating a
// listener failure from the triggering engine operation per A.7's propagation
// policy: the failure is logged and re-announced as exception_raised, but never
// re-entrant and never aborts the caller. Grounded on
// pkg/engine/dag_executor.go's safeNotify.
func (a *Announcer) safeNotify(ctx context.Context, l Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			a.logFailure(ctx, l.Name(), event, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := l.HandleEvent(ctx, event); err != nil {
		a.logFailure(ctx, l.Name(), event, err)
	}
}

func (a *Announcer) logFailure(ctx context.Context, listenerName string, event Event, err error) {
	if a.logger != nil {
		a.logger.ErrorContext(ctx, "listener notification failed",
			"listener", listenerName, "event_kind", string(event.Kind), "case_id", event.CaseID, "error", err)
	}
	// Re-announce as exception_raised with a distinct listener-failure code, but
	// only to synchronous listeners registered for exception_raised — this
	// single extra hop cannot itself recurse because exception_raised carries
	// no further listener-failure payload to re-announce.
	failureEvent := Event{
		Kind:    KindExceptionRaised,
		CaseID:  event.CaseID,
		Payload: map[string]any{"code": "listener_failure", "listener": listenerName, "error": err.Error()},
		Message: "listener failure",
	}
	a.mu.RLock()
	listeners := make([]registration, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.RUnlock()
	for _, r := range listeners {
		if r.listener.Name() == listenerName {
			continue // the failing listener doesn't get its own failure re-announced to it
		}
		if f := r.listener.Filter(); f != nil && !f.ShouldNotify(failureEvent) {
			continue
		}
		if r.mode != Synchronous {
			continue
		}
		func() {
			defer func() { recover() }() // a second-order panic is simply dropped, never recursed further
			_ = r.listener.HandleEvent(ctx, failureEvent)
		}()
	}
}

func (a *Announcer) enqueueDeferred(event Event) {
	a.deferredMu.Lock()
	a.pending[event.CaseID] = append(a.pending[event.CaseID], event)
	a.deferredMu.Unlock()
}

// Flush delivers every queued deferred event for caseID, in order, to deferred
// listeners. Call this once the case lock has been released by the triggering
// operation (A.4.5's "deferred: event enqueued, delivered after the triggering
// operation returns").
func (a *Announcer) Flush(ctx context.Context, caseID string) {
	a.deferredMu.Lock()
	events := a.pending[caseID]
	delete(a.pending, caseID)
	a.deferredMu.Unlock()
	if len(events) == 0 {
		return
	}

	a.mu.RLock()
	listeners := make([]registration, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.RUnlock()

	for _, r := range listeners {
		if r.mode != Deferred {
			continue
		}
		for _, event := range events {
			if f := r.listener.Filter(); f != nil && !f.ShouldNotify(event) {
				continue
			}
			a.safeNotify(ctx, r.listener, event)
		}
	}
}

// Count returns the number of registered listeners; exposed for tests.
func (a *Announcer) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.listeners)
}
