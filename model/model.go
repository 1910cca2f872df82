package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Issue is one GitHub issue in the content queue.  Trackers never modify
// an *Issue once handed out; a change produces a new one, so readers and
// listeners can hold on to it.
type Issue struct {
	ID       int64
	Number   int
	Owner    string
	Repo     string
	Title    string
	Content  string
	Labels   []string
	Assignee string
	Open     bool

	// LastUpdate is the remote updated_at of the last data copied in.
	LastUpdate time.Time
}

// IssueInfo is what the API tells us about an issue.
type IssueInfo struct {
	ID        int64
	Number    int
	Owner     string
	Repo      string
	Title     string
	Content   string
	Labels    []string
	Assignee  string
	Open      bool
	UpdatedAt time.Time
}

func NewIssue(info IssueInfo) *Issue {
	i := &Issue{}
	i.Update(info)
	return i
}

// Update copies remote fields into the model.  Only call it on an Issue
// nobody else can see yet.
func (i *Issue) Update(info IssueInfo) {
	i.ID = info.ID
	i.Number = info.Number
	i.Owner = info.Owner
	i.Repo = info.Repo
	i.Title = info.Title
	i.Content = info.Content
	i.Labels = slices.Clone(info.Labels)
	i.Assignee = info.Assignee
	i.Open = info.Open
	i.LastUpdate = info.UpdatedAt
}

// NewerThanModel reports whether info carries changes the model has not
// seen yet.
func (i *Issue) NewerThanModel(info IssueInfo) bool {
	return info.UpdatedAt.After(i.LastUpdate)
}

func (i *Issue) HasLabel(name string) bool {
	return slices.ContainsFunc(i.Labels, func(l string) bool {
		return strings.EqualFold(l, name)
	})
}

func (i *Issue) String() string {
	return fmt.Sprintf("%s/%s#%d", i.Owner, i.Repo, i.Number)
}

// IssueMap indexes issues by number.
type IssueMap map[int]*Issue

// Sorted returns the issues by ascending number.
func (m IssueMap) Sorted() []*Issue {
	out := make([]*Issue, 0, len(m))
	for _, i := range m {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int {
		return a.Number - b.Number
	})
	return out
}

// Column is a column on a project board.
type Column struct {
	ID   int64
	Name string
}

// Card is a card in a board column.  Cards for issues carry the issue
// number; notes carry their text.
type Card struct {
	ID          int64
	ColumnID    int64
	IssueNumber int
	Note        string
	ContentURL  string
}

func (c *Card) IsIssue() bool {
	return c.IssueNumber != 0
}

// RateLimit is the API quota of the authenticated account.
type RateLimit struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Scopes    []string
}

// HasScopes reports whether every one of required was granted.
func (r *RateLimit) HasScopes(required ...string) bool {
	for _, s := range required {
		if !slices.Contains(r.Scopes, s) {
			return false
		}
	}
	return true
}

// ParseRepo splits "owner/repo".
func ParseRepo(s string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("repository %q is not of the form owner/repo", s)
	}
	return owner, repo, nil
}
