package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/ts4z/contentqueue/config"
	"github.com/ts4z/contentqueue/datastore"
	"github.com/ts4z/contentqueue/github"
	"github.com/ts4z/contentqueue/model"
	"github.com/ts4z/contentqueue/repo"
	"github.com/ts4z/contentqueue/ts"
)

var clock = ts.NewRealClock()

// token returns the configured token, or asks for one if we're talking
// to a person.
func token() (string, error) {
	if t := config.Token(); t != "" {
		return t, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "GitHub token (empty for anonymous): ")
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return string(b), nil
}

func newRepository() (*repo.Repository, error) {
	owner, name, err := model.ParseRepo(config.Repo())
	if err != nil {
		return nil, err
	}
	tok, err := token()
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Limit(config.RequestsPerSecond()), 1)
	client := github.New(&http.Client{Timeout: 30 * time.Second}, config.APIURL(), tok, limiter)

	return repo.New(&repo.Config{
		Client:            client,
		Owner:             owner,
		Repo:              name,
		ProjectID:         config.ProjectID(),
		IdentityCacheSize: config.IdentityCacheSize(),
		Options: []datastore.BuilderOption{
			datastore.WithDefaultCacheTime(config.CacheTime()),
			datastore.WithHolderClock(clock.RealClock()),
		},
	})
}

func main() {
	rootCmd := &cobra.Command{
		Short: "Keep a content queue's GitHub data fresh",
		Use:   "contentqueue",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.Init()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("repo", "", "Repository to watch, as owner/name")
	rootCmd.PersistentFlags().String("token", "", "GitHub token (default: prompt if interactive)")
	rootCmd.PersistentFlags().Int64("project", 0, "Project board ID (0 for no board)")
	viper.BindPFlag("repo", rootCmd.PersistentFlags().Lookup("repo"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("project_id", rootCmd.PersistentFlags().Lookup("project"))

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Update on an interval and log what changed",
		Args:  cobra.NoArgs,
		RunE:  watch,
	}
	watchCmd.Flags().String("listen", "", "Serve store status on this address (e.g. :8080)")
	watchCmd.Flags().String("interval", "", "Update interval, e.g. 90s or 1d (default from config)")
	viper.BindPFlag("listen_address", watchCmd.Flags().Lookup("listen"))
	viper.BindPFlag("update_interval", watchCmd.Flags().Lookup("interval"))

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Update once and show the state of every store",
		Args:  cobra.NoArgs,
		RunE:  status,
	}

	issuesCmd := &cobra.Command{
		Use:       "issues [open|closed]",
		Short:     "List open (default) or closed issues",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"open", "closed"},
		RunE:      listIssues,
	}

	rateLimitCmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Show the API quota and granted scopes",
		Args:  cobra.NoArgs,
		RunE:  showRateLimit,
	}

	rootCmd.AddCommand(watchCmd, statusCmd, issuesCmd, rateLimitCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Printf("contentqueue: %v", err)
		os.Exit(1)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
