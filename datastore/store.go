// package datastore keeps remote data fresh enough without asking for it
// more than necessary.
//
// A Store caches a single value for a fixed time.  Reads while fresh are
// answered from memory; the first read after expiry starts a fetch, and
// every other read arriving while that fetch runs shares its result.  A
// Holder groups named stores, refreshes them all at once, and announces
// when it has done so.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/panics"

	"github.com/ts4z/contentqueue/future"
	"github.com/ts4z/contentqueue/varz"
)

const DefaultCacheTime = 60 * time.Second

// ErrNoData is returned (possibly wrapped) by a Fetcher that has nothing
// to cache.  This is not a failure: readers get the zero value, and the
// store is empty, hence expired, until the next fetch.
var ErrNoData = errors.New("no data")

var storeStats = varz.NewCounters("stores")

// Fetcher loads a new value.  previous is the cached value (the zero value
// if there is none), lastUpdate is when it was fetched (zero if never).
type Fetcher[T any] func(ctx context.Context, previous T, lastUpdate time.Time) (T, error)

// FetchError is what readers see when a Fetcher fails.
type FetchError struct {
	Store string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Store, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type storeConfig struct {
	name      string
	cacheTime time.Duration
	clock     clockwork.Clock
}

type StoreOption func(*storeConfig)

// WithCacheTime sets how long a fetched value stays fresh.
func WithCacheTime(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.cacheTime = d
	}
}

func WithClock(clock clockwork.Clock) StoreOption {
	return func(c *storeConfig) {
		c.clock = clock
	}
}

// WithName labels the store in logs, errors, and counters.
func WithName(name string) StoreOption {
	return func(c *storeConfig) {
		c.name = name
	}
}

// Snapshot is a point-in-time view of a store.
type Snapshot[T any] struct {
	Value     T
	Valid     bool
	UpdatedAt time.Time
	Fetching  bool
	// Expired is CacheExpired as of the same instant.
	Expired bool
}

// Store caches one value produced by a Fetcher.  At most one fetch is in
// flight at any time.
type Store[T any] struct {
	name      string
	fetch     Fetcher[T]
	cacheTime time.Duration
	clock     clockwork.Clock

	mu         sync.Mutex
	cached     T
	valid      bool
	lastUpdate time.Time
	inFlight   *future.Future[T]
}

func NewStore[T any](fetch Fetcher[T], opts ...StoreOption) *Store[T] {
	if fetch == nil {
		panic("datastore: nil fetcher")
	}
	cfg := storeConfig{
		name:      "anonymous",
		cacheTime: DefaultCacheTime,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store[T]{
		name:      cfg.name,
		fetch:     fetch,
		cacheTime: cfg.cacheTime,
		clock:     cfg.clock,
	}
}

func (s *Store[T]) Name() string {
	return s.name
}

func (s *Store[T]) CacheTime() time.Duration {
	return s.cacheTime
}

// CacheExpired reports whether the next GetData will fetch.
func (s *Store[T]) CacheExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredLocked()
}

func (s *Store[T]) expiredLocked() bool {
	return !s.valid || s.clock.Since(s.lastUpdate) >= s.cacheTime
}

// GetData returns the cached value if it is fresh, and otherwise the
// result of the one fetch that is (now) in flight.
func (s *Store[T]) GetData(ctx context.Context) *future.Future[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.expiredLocked() {
		storeStats.Add(s.name, "hits", 1)
		return future.Resolved(s.cached)
	}
	return s.fetchLocked(ctx)
}

// Refresh fetches regardless of freshness, or joins the fetch already in
// flight.
func (s *Store[T]) Refresh(ctx context.Context) *future.Future[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchLocked(ctx)
}

func (s *Store[T]) fetchLocked(ctx context.Context) *future.Future[T] {
	if s.inFlight != nil {
		storeStats.Add(s.name, "dedups", 1)
		return s.inFlight
	}
	storeStats.Add(s.name, "misses", 1)

	f, settle := future.New[T]()
	s.inFlight = f

	// The result belongs to every waiter, so the caller that happened to
	// trigger the fetch does not get to cancel it.
	go s.run(context.WithoutCancel(ctx), settle, s.cached, s.lastUpdate)
	return f
}

func (s *Store[T]) run(ctx context.Context, settle func(T, error), previous T, lastUpdate time.Time) {
	var (
		v   T
		err error
	)
	if r := panics.Try(func() { v, err = s.fetch(ctx, previous, lastUpdate) }); r != nil {
		err = &future.PanicError{Recovered: r}
	}

	s.mu.Lock()
	s.inFlight = nil
	switch {
	case err == nil:
		s.cached = v
		s.valid = true
		s.lastUpdate = s.clock.Now()
	case errors.Is(err, ErrNoData):
		var zero T
		s.cached = zero
		s.valid = false
		s.lastUpdate = s.clock.Now()
		v, err = zero, nil
	}
	s.mu.Unlock()

	if err != nil {
		storeStats.Add(s.name, "failures", 1)
		log.Printf("datastore: fetch of %s failed: %v", s.name, err)
		err = &FetchError{Store: s.name, Err: err}
	}
	settle(v, err)
}

func (s *Store[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot[T]{
		Value:     s.cached,
		Valid:     s.valid,
		UpdatedAt: s.lastUpdate,
		Fetching:  s.inFlight != nil,
		Expired:   s.expiredLocked(),
	}
}
