package repo

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
	scopes      []string
	issuesErr   error
	issueCalls  atomic.Int32
	columnCalls atomic.Int32
}

func (f *fakeClient) ListIssues(_ context.Context, owner, repo, state string) ([]model.IssueInfo, error) {
	f.issueCalls.Add(1)
	if f.issuesErr != nil {
		return nil, f.issuesErr
	}
	if state == "open" {
		return []model.IssueInfo{{Number: 1, Owner: owner, Repo: repo, Open: true}}, nil
	}
	return nil, nil
}

func (f *fakeClient) ListColumns(context.Context, int64) ([]model.Column, error) {
	f.columnCalls.Add(1)
	return []model.Column{{ID: 1, Name: "Ideas"}}, nil
}

func (f *fakeClient) ListCards(context.Context, int64) ([]model.Card, error) {
	return nil, nil
}

func (f *fakeClient) RateLimit(context.Context) (*model.RateLimit, error) {
	return &model.RateLimit{Limit: 5000, Remaining: 5000, Reset: time.Unix(0, 0), Scopes: f.scopes}, nil
}

func newRepo(t *testing.T, c *fakeClient, projectID int64) *Repository {
	t.Helper()
	r, err := New(&Config{
		Client:    c,
		Owner:     "o",
		Repo:      "r",
		ProjectID: projectID,
		Options:   []datastore.BuilderOption{datastore.WithHolderClock(clockwork.NewFakeClock())},
	})
	require.NoError(t, err)
	return r
}

func TestReady(t *testing.T) {
	c := &fakeClient{scopes: []string{"public_repo"}}
	r := newRepo(t, c, 7)
	assert.Equal(t, "o/r", r.String())

	require.NoError(t, r.Ready(context.Background()))
	assert.Equal(t, int32(1), c.issueCalls.Load())
	assert.Equal(t, int32(1), c.columnCalls.Load())
}

func TestReadyNeedsScopes(t *testing.T) {
	c := &fakeClient{scopes: []string{"read:org"}}
	r := newRepo(t, c, 7)

	err := r.Ready(context.Background())
	assert.ErrorIs(t, err, ErrMissingScopes)
	assert.Equal(t, int32(0), c.issueCalls.Load())
}

func TestHolders(t *testing.T) {
	withBoard := newRepo(t, &fakeClient{}, 7)
	assert.Len(t, withBoard.Holders(), 3)

	noBoard := newRepo(t, &fakeClient{}, 0)
	assert.Nil(t, noBoard.Board)
	assert.Len(t, noBoard.Holders(), 2)
}

func TestUpdateKeepsGoingOnFailure(t *testing.T) {
	c := &fakeClient{scopes: []string{"public_repo"}, issuesErr: errors.New("503")}
	r := newRepo(t, c, 7)

	res, err := r.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"issues.closedIssues", "issues.issues"}, res.Failed())
	assert.Len(t, res, 3)
	assert.True(t, r.Board.Columns.Snapshot().Valid)
	assert.True(t, r.Account.RateLimit.Snapshot().Valid)
}
