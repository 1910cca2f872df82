// Package repo ties together everything the content queue caches about
// one repository.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ts4z/contentqueue/account"
	"github.com/ts4z/contentqueue/board"
	"github.com/ts4z/contentqueue/datastore"
	"github.com/ts4z/contentqueue/issues"
)

var ErrMissingScopes = errors.New("not all required OAuth scopes are granted")

// Client is everything the repository reads from GitHub.
type Client interface {
	issues.Lister
	board.Lister
	account.RateLimiter
}

type Config struct {
	Client Client
	Owner  string
	Repo   string
	// ProjectID is the board's project.  Zero means no board.
	ProjectID         int64
	IdentityCacheSize int
	Options           []datastore.BuilderOption
}

type Repository struct {
	Owner string
	Name  string

	Issues  *issues.Tracker
	Board   *board.Board
	Account *account.Account
}

func New(cfg *Config) (*Repository, error) {
	r := &Repository{Owner: cfg.Owner, Name: cfg.Repo}

	var err error
	if r.Account, err = account.New(cfg.Client, cfg.Options...); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	r.Issues, err = issues.New(&issues.Config{
		Lister:            cfg.Client,
		Owner:             cfg.Owner,
		Repo:              cfg.Repo,
		IdentityCacheSize: cfg.IdentityCacheSize,
		Options:           cfg.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("issues: %w", err)
	}
	if cfg.ProjectID != 0 {
		if r.Board, err = board.New(cfg.Client, cfg.ProjectID, cfg.Options...); err != nil {
			return nil, fmt.Errorf("board: %w", err)
		}
	}
	return r, nil
}

func (r *Repository) String() string {
	return r.Owner + "/" + r.Name
}

// Holders returns every holder of the repository by name.
func (r *Repository) Holders() map[string]*datastore.Holder {
	h := map[string]*datastore.Holder{
		"account": r.Account.Holder,
		"issues":  r.Issues.Holder,
	}
	if r.Board != nil {
		h["board"] = r.Board.Holder
	}
	return h
}

// Ready checks the token's scopes, then waits for the first issue and
// board listings.
func (r *Repository) Ready(ctx context.Context) error {
	ok, err := r.Account.HasScopes(ctx, account.RequiredScopes...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: need %s", ErrMissingScopes, strings.Join(account.RequiredScopes, ", "))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Issues.Ready(gctx) })
	if r.Board != nil {
		g.Go(func() error { return r.Board.Ready(gctx) })
	}
	return g.Wait()
}

// Result is one Update pass over every holder.
type Result map[string]*datastore.UpdateResult

// Failed lists failed stores as holder.store, sorted.
func (r Result) Failed() []string {
	var failed []string
	for holder, res := range r {
		if res == nil {
			continue
		}
		for _, store := range res.Failed() {
			failed = append(failed, holder+"."+store)
		}
	}
	sort.Strings(failed)
	return failed
}

// Update updates every holder concurrently.  One holder's failures do not
// stop the others; the only error returned is ctx's.
func (r *Repository) Update(ctx context.Context) (Result, error) {
	var (
		mu  sync.Mutex
		out = Result{}
	)
	var g errgroup.Group
	for name, h := range r.Holders() {
		g.Go(func() error {
			res, err := h.Update(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			out[name] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failed := out.Failed(); len(failed) != 0 {
		log.Printf("repo: update of %s: %d stores failed: %v", r, len(failed), failed)
	}
	return out, nil
}
