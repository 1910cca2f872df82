// Package issues keeps the open and closed issues of a repository and
// announces when one is opened, changed, or closed.
package issues

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ts4z/contentqueue/datastore"
	"github.com/ts4z/contentqueue/dep"
	"github.com/ts4z/contentqueue/emitter"
	"github.com/ts4z/contentqueue/model"
)

// Events emitted on the Tracker.  Listeners get the *model.Issue, which
// is never modified afterwards.  The fetch that found the change waits for
// its listeners, so a listener must not wait on the store being fetched.
const (
	EventOpened  = "opened"
	EventUpdated = "updated"
	EventClosed  = "closed"
)

const DefaultIdentityCacheSize = 1024

type Lister interface {
	ListIssues(ctx context.Context, owner, repo, state string) ([]model.IssueInfo, error)
}

type Config struct {
	Lister            Lister
	Owner             string
	Repo              string
	IdentityCacheSize int
	Options           []datastore.BuilderOption
}

// Tracker is a Holder with two stores, issues (open) and closedIssues.
type Tracker struct {
	*datastore.Holder

	Issues       *datastore.Property[model.IssueMap]
	ClosedIssues *datastore.Property[model.IssueMap]

	lister Lister
	owner  string
	repo   string

	// mu serializes merges, since both stores may see the same issue
	// while it changes state.
	mu     sync.Mutex
	models *lru.Cache[int, *model.Issue]
}

func New(cfg *Config) (*Tracker, error) {
	size := cfg.IdentityCacheSize
	if size <= 0 {
		size = DefaultIdentityCacheSize
	}
	models, err := lru.New[int, *model.Issue](size)
	if err != nil {
		return nil, fmt.Errorf("creating identity map: %w", err)
	}

	t := &Tracker{
		lister: dep.Required(cfg.Lister),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		models: models,
	}

	em := emitter.New()
	b := datastore.NewBuilder(append([]datastore.BuilderOption{datastore.WithEmitter(em)}, cfg.Options...)...)
	t.Issues = datastore.Register(b, "issues", t.fetcher(em, "open"))
	t.ClosedIssues = datastore.Register(b, "closedIssues", t.fetcher(em, "closed"))
	if t.Holder, err = b.Build(); err != nil {
		return nil, err
	}
	return t, nil
}

type change struct {
	event string
	issue *model.Issue
}

// merge folds a fresh listing into the previous map.  Issues are never
// modified once handed out: an issue that changed gets a new *model.Issue,
// and an unchanged one keeps its old one.  The identity map remembers the
// latest of each, so an issue moving between the open and closed listings
// is recognized.  On a store's first listing only issues the tracker
// already knew in the other state are announced.
func (t *Tracker) merge(previous model.IssueMap, infos []model.IssueInfo, state string, first bool) (model.IssueMap, []change) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(model.IssueMap, len(infos))
	var changes []change
	for _, info := range infos {
		if issue, ok := previous[info.Number]; ok {
			if issue.NewerThanModel(info) {
				issue = model.NewIssue(info)
				t.models.Add(info.Number, issue)
				if state == "open" {
					changes = append(changes, change{EventUpdated, issue})
				}
			}
			next[info.Number] = issue
			continue
		}

		known, ok := t.models.Get(info.Number)
		moved := ok && known.Open != info.Open
		issue := known
		if !ok || moved || known.NewerThanModel(info) {
			issue = model.NewIssue(info)
			t.models.Add(info.Number, issue)
		}
		next[info.Number] = issue

		if first && !moved {
			continue
		}
		if state == "open" {
			changes = append(changes, change{EventOpened, issue})
		} else {
			changes = append(changes, change{EventClosed, issue})
		}
	}
	return next, changes
}

func (t *Tracker) fetcher(em *emitter.Emitter, state string) datastore.Fetcher[model.IssueMap] {
	return func(ctx context.Context, previous model.IssueMap, lastUpdate time.Time) (model.IssueMap, error) {
		infos, err := t.lister.ListIssues(ctx, t.owner, t.repo, state)
		if err != nil {
			return nil, err
		}
		next, changes := t.merge(previous, infos, state, lastUpdate.IsZero())

		emissions := make([]*emitter.Emission, len(changes))
		for i, c := range changes {
			emissions[i] = em.Emit(ctx, c.event, c.issue)
		}
		for _, e := range emissions {
			if err := e.Wait(ctx); err != nil {
				log.Printf("issues: %v", err)
			}
		}
		return next, nil
	}
}

// Ready waits for the first listing of open issues.
func (t *Tracker) Ready(ctx context.Context) error {
	if _, err := t.Issues.Get(ctx).Await(ctx); err != nil {
		return fmt.Errorf("issues not ready: %w", err)
	}
	return nil
}

// Lookup finds an issue by number among the cached open and closed issues.
// It returns nil if neither has it.
func (t *Tracker) Lookup(ctx context.Context, number int) (*model.Issue, error) {
	for _, p := range []*datastore.Property[model.IssueMap]{t.Issues, t.ClosedIssues} {
		m, err := p.Get(ctx).Await(ctx)
		if err != nil {
			return nil, err
		}
		if issue, ok := m[number]; ok {
			return issue, nil
		}
	}
	return nil, nil
}
