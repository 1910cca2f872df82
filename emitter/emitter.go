/*
package emitter provides named events whose listeners may take their time.

Emit calls the listeners in registration order on the emitting goroutine,
one after another.  A Listener does all of its work before the next one is
called.  An AsyncListener starts its work and returns a future for the
rest, so later listeners need not wait for it.  Emit returns an Emission
that settles once every listener, and every future they returned, has
settled.  A listener that fails (or panics) does not stop its siblings;
the failure shows up in the Emission's outcomes.

There are no timeouts here.  A listener that never finishes holds its
Emission open for as long as somebody is willing to wait on it.
*/
package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/ts4z/contentqueue/future"
	"github.com/ts4z/contentqueue/varz"
)

var eventStats = varz.NewCounters("events")

// Listener reacts to an event.  args are whatever the emitter passed.
type Listener func(ctx context.Context, args ...any) error

// AsyncListener reacts to an event by starting work that finishes later.
// A nil future counts as done.
type AsyncListener func(ctx context.Context, args ...any) *future.Future[struct{}]

// ListenerID identifies a registration so it can be removed with Off.
type ListenerID uint64

type registration struct {
	id   ListenerID
	fn   AsyncListener
	once bool
}

// Emitter is a registry of listeners keyed by event name.  The zero value
// is ready to use.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]registration
	lastID    ListenerID
}

func New() *Emitter {
	return &Emitter{}
}

func (e *Emitter) add(event string, fn AsyncListener, once bool) ListenerID {
	if fn == nil {
		panic(fmt.Sprintf("emitter: nil listener for %q", event))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[string][]registration)
	}
	e.lastID++
	e.listeners[event] = append(e.listeners[event], registration{id: e.lastID, fn: fn, once: once})
	return e.lastID
}

func syncListener(event string, fn Listener) AsyncListener {
	if fn == nil {
		panic(fmt.Sprintf("emitter: nil listener for %q", event))
	}
	return func(ctx context.Context, args ...any) *future.Future[struct{}] {
		if err := fn(ctx, args...); err != nil {
			return future.Rejected[struct{}](err)
		}
		return nil
	}
}

// On registers fn for every future emission of event.
func (e *Emitter) On(event string, fn Listener) ListenerID {
	return e.add(event, syncListener(event, fn), false)
}

// Once registers fn for the next emission of event only.
func (e *Emitter) Once(event string, fn Listener) ListenerID {
	return e.add(event, syncListener(event, fn), true)
}

// OnAsync registers fn for every future emission of event.
func (e *Emitter) OnAsync(event string, fn AsyncListener) ListenerID {
	return e.add(event, fn, false)
}

// OnceAsync registers fn for the next emission of event only.
func (e *Emitter) OnceAsync(event string, fn AsyncListener) ListenerID {
	return e.add(event, fn, true)
}

// Off removes a registration.  It reports whether anything was removed.
func (e *Emitter) Off(event string, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.listeners[event]
	for i, r := range regs {
		if r.id == id {
			e.listeners[event] = append(regs[:i:i], regs[i+1:]...)
			if len(e.listeners[event]) == 0 {
				delete(e.listeners, event)
			}
			return true
		}
	}
	return false
}

func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

func (e *Emitter) EventNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.listeners))
	for name := range e.listeners {
		names = append(names, name)
	}
	return names
}

// take snapshots the listeners for event, dropping once-registrations
// from the registry so a concurrent Emit cannot run them again.
func (e *Emitter) take(event string) []registration {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.listeners[event]
	if len(regs) == 0 {
		return nil
	}
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)

	kept := regs[:0:0]
	for _, r := range regs {
		if !r.once {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(e.listeners, event)
	} else {
		e.listeners[event] = kept
	}
	return snapshot
}

// Emit calls every listener currently registered for event, in
// registration order, before returning.  Each listener has returned
// before the next is called; only the futures of async listeners are
// still running when Emit returns.
func (e *Emitter) Emit(ctx context.Context, event string, args ...any) *Emission {
	regs := e.take(event)
	eventStats.Add(event, "emits", 1)

	f, settle := future.New[[]error]()
	em := &Emission{event: event, f: f, n: len(regs)}

	outcomes := make([]error, len(regs))
	pending := make([]*future.Future[struct{}], len(regs))
	for i, r := range regs {
		if rec := panics.Try(func() { pending[i] = r.fn(ctx, args...) }); rec != nil {
			pending[i] = future.Rejected[struct{}](&future.PanicError{Recovered: rec})
		}
	}

	go func() {
		for i, p := range pending {
			if p != nil {
				<-p.Done()
				_, outcomes[i], _ = p.Peek()
			}
		}
		settle(outcomes, nil)
	}()
	return em
}

// Emission is the join over one Emit's listeners.
type Emission struct {
	event string
	f     *future.Future[[]error]
	n     int
}

func (em *Emission) Event() string {
	return em.event
}

// Listeners is how many listeners were dispatched.
func (em *Emission) Listeners() int {
	return em.n
}

// Done is closed once every listener has returned.
func (em *Emission) Done() <-chan struct{} {
	return em.f.Done()
}

// Wait blocks until every listener has returned, or ctx is done.  It
// returns the joined listener failures, or ctx's error.
func (em *Emission) Wait(ctx context.Context) error {
	outcomes, err := em.f.Await(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for i, o := range outcomes {
		if o != nil {
			errs = append(errs, fmt.Errorf("%s listener %d: %w", em.event, i, o))
		}
	}
	return errors.Join(errs...)
}

// Outcomes returns one entry per dispatched listener, in registration
// order, or nil if the emission has not settled yet.
func (em *Emission) Outcomes() []error {
	outcomes, _, ok := em.f.Peek()
	if !ok {
		return nil
	}
	out := make([]error, len(outcomes))
	copy(out, outcomes)
	return out
}
