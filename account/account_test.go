package account

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ts4z/contentqueue/datastore"
	"github.com/ts4z/contentqueue/model"
)

type fakeClient struct {
	scopes []string
	err    error
	calls  atomic.Int32
}

func (f *fakeClient) RateLimit(context.Context) (*model.RateLimit, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &model.RateLimit{Limit: 5000, Remaining: 4000, Scopes: f.scopes}, nil
}

func TestHasScopes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := &fakeClient{scopes: []string{"public_repo"}}
	a, err := New(c, datastore.WithHolderClock(clock), datastore.WithDefaultCacheTime(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"rateLimit"}, a.Names())

	ok, err := a.HasScopes(context.Background(), RequiredScopes...)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.HasScopes(context.Background(), "public_repo", "admin:repo_hook")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), c.calls.Load())

	clock.Advance(time.Minute)
	_, err = a.HasScopes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.calls.Load())
}

func TestHasScopesFailure(t *testing.T) {
	errAuth := errors.New("bad credentials")
	a, err := New(&fakeClient{err: errAuth})
	require.NoError(t, err)

	ok, err := a.HasScopes(context.Background(), RequiredScopes...)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errAuth)
}
