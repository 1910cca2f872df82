// Package board caches the columns and cards of the project board the
// content queue is scheduled on.
package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ts4z/contentqueue/datastore"
	"github.com/ts4z/contentqueue/dep"
	"github.com/ts4z/contentqueue/model"
)

var ErrNoSuchColumn = errors.New("no such column")

type Lister interface {
	ListColumns(ctx context.Context, projectID int64) ([]model.Column, error)
	ListCards(ctx context.Context, columnID int64) ([]model.Card, error)
}

// Cards maps column ID to the cards in that column, top first.
type Cards map[int64][]model.Card

type Board struct {
	*datastore.Holder

	Columns *datastore.Property[[]model.Column]
	Cards   *datastore.Property[Cards]

	lister    Lister
	projectID int64
}

func New(lister Lister, projectID int64, opts ...datastore.BuilderOption) (*Board, error) {
	b := &Board{
		lister:    dep.Required(lister),
		projectID: projectID,
	}

	builder := datastore.NewBuilder(opts...)
	b.Columns = datastore.Register(builder, "columns", b.fetchColumns)
	b.Cards = datastore.Register(builder, "cards", b.fetchCards)

	var err error
	if b.Holder, err = builder.Build(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Board) fetchColumns(ctx context.Context, _ []model.Column, _ time.Time) ([]model.Column, error) {
	return b.lister.ListColumns(ctx, b.projectID)
}

// fetchCards lists every column's cards concurrently.  It reads columns
// through the store, so a cards refresh shares a columns fetch already
// running.
func (b *Board) fetchCards(ctx context.Context, _ Cards, _ time.Time) (Cards, error) {
	columns, err := b.Columns.Get(ctx).Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("cards need columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("project %d has no columns: %w", b.projectID, datastore.ErrNoData)
	}

	lists := make([][]model.Card, len(columns))
	g, gctx := errgroup.WithContext(ctx)
	for i, col := range columns {
		g.Go(func() error {
			cards, err := b.lister.ListCards(gctx, col.ID)
			lists[i] = cards
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(Cards, len(columns))
	for i, col := range columns {
		out[col.ID] = lists[i]
	}
	return out, nil
}

// ColumnByName finds a column, ignoring case.
func (b *Board) ColumnByName(ctx context.Context, name string) (model.Column, error) {
	columns, err := b.Columns.Get(ctx).Await(ctx)
	if err != nil {
		return model.Column{}, err
	}
	for _, c := range columns {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return model.Column{}, fmt.Errorf("%w: %q", ErrNoSuchColumn, name)
}

// CardsIn returns the cards of the named column.
func (b *Board) CardsIn(ctx context.Context, name string) ([]model.Card, error) {
	col, err := b.ColumnByName(ctx, name)
	if err != nil {
		return nil, err
	}
	cards, err := b.Cards.Get(ctx).Await(ctx)
	if err != nil {
		return nil, err
	}
	return cards[col.ID], nil
}

// Ready waits for the first listing of columns.
func (b *Board) Ready(ctx context.Context) error {
	if _, err := b.Columns.Get(ctx).Await(ctx); err != nil {
		return fmt.Errorf("board not ready: %w", err)
	}
	return nil
}
