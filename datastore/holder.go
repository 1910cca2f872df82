package datastore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"

	"github.com/ts4z/contentqueue/emitter"
	"github.com/ts4z/contentqueue/future"
)

// EventStoresUpdated is emitted by Update once every store has been
// refreshed.  Listeners receive the *Holder as their only argument.
const EventStoresUpdated = "storesupdated"

var (
	ErrInvalidName   = errors.New("store name is not an identifier")
	ErrReservedName  = errors.New("store name is reserved")
	ErrDuplicateName = errors.New("store name already registered")
	ErrNilFetcher    = errors.New("nil fetcher")
	ErrBuilt         = errors.New("holder already built")
	ErrUnknownStore  = errors.New("no such store")
)

// ConfigError reports a store that could not be registered.
type ConfigError struct {
	Name string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("store %q: %v", e.Name, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var identifierRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Names a store may not take, because the Holder already answers to them.
var reservedNames = map[string]bool{
	"emitter":       true,
	"on":            true,
	"once":          true,
	"off":           true,
	"emit":          true,
	"update":        true,
	"get":           true,
	"has":           true,
	"names":         true,
	"snapshots":     true,
	"listenercount": true,
	"eventnames":    true,
}

func checkName(name string) error {
	if !identifierRx.MatchString(name) {
		return ErrInvalidName
	}
	if reservedNames[strings.ToLower(name)] {
		return ErrReservedName
	}
	return nil
}

// SnapshotInfo describes a store without its value.
type SnapshotInfo struct {
	Valid     bool      `json:"valid"`
	Expired   bool      `json:"expired"`
	Fetching  bool      `json:"fetching"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// member is a Store with its type erased.
type member interface {
	get(ctx context.Context) *future.Future[any]
	refresh(ctx context.Context) func(context.Context) error
	info() SnapshotInfo
}

func (s *Store[T]) get(ctx context.Context) *future.Future[any] {
	return future.Then(s.GetData(ctx), func(v T) (any, error) { return v, nil })
}

func (s *Store[T]) refresh(ctx context.Context) func(context.Context) error {
	f := s.Refresh(ctx)
	return func(ctx context.Context) error {
		_, err := f.Await(ctx)
		return err
	}
}

func (s *Store[T]) info() SnapshotInfo {
	snap := s.Snapshot()
	return SnapshotInfo{
		Valid:     snap.Valid,
		Expired:   snap.Expired,
		Fetching:  snap.Fetching,
		UpdatedAt: snap.UpdatedAt,
	}
}

// Property is the read-only face of one store in a Holder.
type Property[T any] struct {
	store *Store[T]
}

// Get returns the store's data, fetching only if it is stale.
func (p *Property[T]) Get(ctx context.Context) *future.Future[T] {
	return p.store.GetData(ctx)
}

func (p *Property[T]) Name() string {
	return p.store.Name()
}

func (p *Property[T]) Snapshot() Snapshot[T] {
	return p.store.Snapshot()
}

func (p *Property[T]) CacheExpired() bool {
	return p.store.CacheExpired()
}

type BuilderOption func(*Builder)

// WithDefaultCacheTime applies to stores registered without their own
// WithCacheTime.
func WithDefaultCacheTime(d time.Duration) BuilderOption {
	return func(b *Builder) {
		b.cacheTime = d
	}
}

func WithHolderClock(clock clockwork.Clock) BuilderOption {
	return func(b *Builder) {
		b.clock = clock
	}
}

// WithEmitter makes the Holder publish on e.  Fetchers that need to emit
// their own events can then be written before the Holder exists.
func WithEmitter(e *emitter.Emitter) BuilderOption {
	return func(b *Builder) {
		b.emitter = e
	}
}

// Builder collects stores for a Holder.  Once Build has been called the
// set of stores can no longer change.
type Builder struct {
	cacheTime time.Duration
	clock     clockwork.Clock
	emitter   *emitter.Emitter

	names   []string
	members map[string]member
	errs    []error
	built   bool
}

func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		cacheTime: DefaultCacheTime,
		clock:     clockwork.NewRealClock(),
		members:   make(map[string]member),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.emitter == nil {
		b.emitter = emitter.New()
	}
	return b
}

// Register adds a store called name.  It returns nil if the store cannot
// be registered; Build reports why.
func Register[T any](b *Builder, name string, fetch Fetcher[T], opts ...StoreOption) *Property[T] {
	fail := func(err error) *Property[T] {
		b.errs = append(b.errs, &ConfigError{Name: name, Err: err})
		return nil
	}

	if b.built {
		return fail(ErrBuilt)
	}
	if err := checkName(name); err != nil {
		return fail(err)
	}
	if _, ok := b.members[name]; ok {
		return fail(ErrDuplicateName)
	}
	if fetch == nil {
		return fail(ErrNilFetcher)
	}

	all := append([]StoreOption{
		WithName(name),
		WithCacheTime(b.cacheTime),
		WithClock(b.clock),
	}, opts...)
	s := NewStore(fetch, all...)

	b.names = append(b.names, name)
	b.members[name] = s
	return &Property[T]{store: s}
}

func (b *Builder) Build() (*Holder, error) {
	if len(b.errs) != 0 {
		return nil, errors.Join(b.errs...)
	}
	if b.built {
		return nil, ErrBuilt
	}
	b.built = true
	return &Holder{
		Emitter: b.emitter,
		names:   slices.Clone(b.names),
		members: b.members,
	}, nil
}

// NewHolder builds a Holder of untyped stores, one per entry of fetchers.
// Stores are registered in name order.
func NewHolder(fetchers map[string]Fetcher[any], opts ...BuilderOption) (*Holder, error) {
	b := NewBuilder(opts...)
	names := make([]string, 0, len(fetchers))
	for name := range fetchers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		Register(b, name, fetchers[name])
	}
	return b.Build()
}

// Holder owns a fixed set of named stores.  It is also the emitter on
// which EventStoresUpdated is published.
type Holder struct {
	*emitter.Emitter

	names   []string
	members map[string]member
}

// Names lists the stores in registration order.
func (h *Holder) Names() []string {
	return slices.Clone(h.names)
}

func (h *Holder) Has(name string) bool {
	_, ok := h.members[name]
	return ok
}

// Get reads the named store, as its Property would.
func (h *Holder) Get(ctx context.Context, name string) (*future.Future[any], error) {
	m, ok := h.members[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, name)
	}
	return m.get(ctx), nil
}

func (h *Holder) Snapshots() map[string]SnapshotInfo {
	out := make(map[string]SnapshotInfo, len(h.members))
	for name, m := range h.members {
		out[name] = m.info()
	}
	return out
}

// UpdateResult describes one Update pass.
type UpdateResult struct {
	// Stores maps each store to its refresh error, nil on success.
	Stores map[string]error
	// Listeners holds one outcome per EventStoresUpdated listener.
	Listeners []error
}

// Failed lists the stores whose refresh failed, in no particular order.
func (r *UpdateResult) Failed() []string {
	var failed []string
	for name, err := range r.Stores {
		if err != nil {
			failed = append(failed, name)
		}
	}
	return failed
}

// Update refreshes every store concurrently, waits for all of them, then
// emits EventStoresUpdated and waits for its listeners.  Store failures
// do not fail the update; they are reported in the result.  The only
// error returned is ctx's.  Listeners run on the calling goroutine, so ctx
// only bounds the wait for async listeners.
func (h *Holder) Update(ctx context.Context) (*UpdateResult, error) {
	waits := make([]func(context.Context) error, len(h.names))
	for i, name := range h.names {
		waits[i] = h.members[name].refresh(ctx)
	}

	errs := make([]error, len(h.names))
	var wg conc.WaitGroup
	for i, wait := range waits {
		wg.Go(func() {
			errs[i] = wait(ctx)
		})
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &UpdateResult{Stores: make(map[string]error, len(h.names))}
	for i, name := range h.names {
		res.Stores[name] = errs[i]
	}
	if failed := res.Failed(); len(failed) != 0 {
		log.Printf("datastore: update refreshed %d stores, %d failed: %v", len(h.names), len(failed), failed)
	}

	em := h.Emit(ctx, EventStoresUpdated, h)
	select {
	case <-em.Done():
	case <-ctx.Done():
		return res, ctx.Err()
	}
	res.Listeners = em.Outcomes()
	return res, nil
}
