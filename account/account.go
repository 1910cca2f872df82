// Package account watches the API quota and granted scopes of the token
// the content queue runs with.
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/ts4z/contentqueue/datastore"
	"github.com/ts4z/contentqueue/dep"
	"github.com/ts4z/contentqueue/model"
)

// RequiredScopes are the OAuth scopes the queue cannot work without.
var RequiredScopes = []string{"public_repo"}

type RateLimiter interface {
	RateLimit(ctx context.Context) (*model.RateLimit, error)
}

type Account struct {
	*datastore.Holder

	RateLimit *datastore.Property[*model.RateLimit]

	client RateLimiter
}

func New(client RateLimiter, opts ...datastore.BuilderOption) (*Account, error) {
	a := &Account{client: dep.Required(client)}

	b := datastore.NewBuilder(opts...)
	a.RateLimit = datastore.Register(b, "rateLimit", a.fetchRateLimit)

	var err error
	if a.Holder, err = b.Build(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) fetchRateLimit(ctx context.Context, _ *model.RateLimit, _ time.Time) (*model.RateLimit, error) {
	return a.client.RateLimit(ctx)
}

// HasScopes reports whether the token was granted every one of required.
func (a *Account) HasScopes(ctx context.Context, required ...string) (bool, error) {
	rl, err := a.RateLimit.Get(ctx).Await(ctx)
	if err != nil {
		return false, fmt.Errorf("checking scopes: %w", err)
	}
	return rl.HasScopes(required...), nil
}
