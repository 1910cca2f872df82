package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ts4z/contentqueue/account"
	"github.com/ts4z/contentqueue/config"
	"github.com/ts4z/contentqueue/datastore"
	"github.com/ts4z/contentqueue/issues"
	"github.com/ts4z/contentqueue/model"
	"github.com/ts4z/contentqueue/refresher"
	"github.com/ts4z/contentqueue/repo"
	"github.com/ts4z/contentqueue/statusz"
)

func logIssueEvents(r *repo.Repository) {
	for _, ev := range []string{issues.EventOpened, issues.EventUpdated, issues.EventClosed} {
		r.Issues.On(ev, func(_ context.Context, args ...any) error {
			issue := args[0].(*model.Issue)
			log.Printf("%s %v: %s", ev, issue, issue.Title)
			return nil
		})
	}
	for name, h := range r.Holders() {
		h.On(datastore.EventStoresUpdated, func(context.Context, ...any) error {
			log.Printf("%s: stores updated", name)
			return nil
		})
	}
}

func watch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := newRepository()
	if err != nil {
		return err
	}
	if err := r.Ready(ctx); err != nil {
		return fmt.Errorf("setting up %s: %w", r, err)
	}
	logIssueEvents(r)

	interval := config.UpdateInterval()
	log.Printf("watching %s, updating every %v", r, interval)
	ref := refresher.New(func(ctx context.Context) error {
		_, err := r.Update(ctx)
		return err
	}, interval, clock.RealClock())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ref.Run(gctx)
		return nil
	})
	if addr := config.ListenAddress(); addr != "" {
		srv := statusz.New(&statusz.Config{
			Holders:        r.Holders(),
			AllowedOrigins: config.AllowedOrigins(),
			Clock:          clock.RealClock(),
		})
		g.Go(func() error {
			return srv.Serve(gctx, addr)
		})
	}
	return g.Wait()
}

func status(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	r, err := newRepository()
	if err != nil {
		return err
	}
	res, err := r.Update(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "holder\tstore\tvalid\texpired\tupdated\terror\n")
	holders := r.Holders()
	names := make([]string, 0, len(holders))
	for name := range holders {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, holder := range names {
		h := holders[holder]
		snaps := h.Snapshots()
		for _, store := range h.Names() {
			s := snaps[store]
			errText := ""
			if res[holder] != nil && res[holder].Stores[store] != nil {
				errText = res[holder].Stores[store].Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\t%s\n", holder, store, s.Valid, s.Expired, clock.Ago(s.UpdatedAt), errText)
		}
	}
	return w.Flush()
}

func listIssues(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	r, err := newRepository()
	if err != nil {
		return err
	}

	p := r.Issues.Issues
	if len(args) == 1 && args[0] == "closed" {
		p = r.Issues.ClosedIssues
	}
	m, err := p.Get(ctx).Await(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "number\ttitle\tassignee\tlabels\tupdated\n")
	for _, i := range m.Sorted() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i.Number, i.Title, i.Assignee, strings.Join(i.Labels, ","), clock.Ago(i.LastUpdate))
	}
	return w.Flush()
}

func showRateLimit(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	r, err := newRepository()
	if err != nil {
		return err
	}
	rl, err := r.Account.RateLimit.Get(ctx).Await(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Remaining: %d of %d\n", rl.Remaining, rl.Limit)
	fmt.Printf("Resets:    %s\n", clock.Ago(rl.Reset))
	fmt.Printf("Scopes:    %s\n", strings.Join(rl.Scopes, ", "))
	if !rl.HasScopes(account.RequiredScopes...) {
		fmt.Printf("Missing required scopes: %s\n", strings.Join(account.RequiredScopes, ", "))
	}
	return nil
}
