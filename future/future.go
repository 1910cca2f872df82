/*
package future provides a settle-once shared result.

A Future is handed to every caller interested in the same piece of
work.  All of them observe the same value and error, no matter how many
there are or when they start waiting.
*/
package future

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// PanicError is what a Future settles with when the function producing it
// panics.
type PanicError struct {
	Recovered *panics.Recovered
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Recovered.Value)
}

// Future holds the eventual result of some work.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// New returns a pending future and the function that settles it.  Only
// the first call to settle has any effect.
func New[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.settle
}

func Resolved[T any](v T) *Future[T] {
	f, settle := New[T]()
	settle(v, nil)
	return f
}

func Rejected[T any](err error) *Future[T] {
	f, settle := New[T]()
	var zero T
	settle(zero, err)
	return f
}

// Go runs fn on its own goroutine and returns a future for its result.
// A panic in fn settles the future with a *PanicError.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f, settle := New[T]()
	go func() {
		var (
			v   T
			err error
		)
		if r := panics.Try(func() { v, err = fn(ctx) }); r != nil {
			var zero T
			settle(zero, &PanicError{Recovered: r})
			return
		}
		settle(v, err)
	}()
	return f
}

// Then derives a future that settles with fn applied to f's value.  fn
// is not called if f fails; the error is passed through.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	g, settle := New[U]()
	go func() {
		<-f.done
		if f.err != nil {
			var zero U
			settle(zero, f.err)
			return
		}
		var (
			u   U
			err error
		)
		if r := panics.Try(func() { u, err = fn(f.val) }); r != nil {
			var zero U
			settle(zero, &PanicError{Recovered: r})
			return
		}
		settle(u, err)
	}()
	return g
}

func (f *Future[T]) settle(v T, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx is done.  Giving up on
// ctx does not affect the work or any other waiter.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the result without blocking.  The final bool reports
// whether the future has settled.
func (f *Future[T]) Peek() (T, error, bool) {
	select {
	case <-f.done:
		return f.val, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}
