// Package github is the slice of the GitHub REST API the content queue
// reads: issues, project board columns and cards, and the rate limit.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ts4z/contentqueue/model"
)

const (
	DefaultBaseURL = "https://api.github.com"
	perPage        = 100
	userAgent      = "contentqueue"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("github: %d %s", e.StatusCode, e.Message)
}

type Client struct {
	http    HTTPClient
	baseURL string
	token   string
	limiter *rate.Limiter
}

// New makes a client.  A nil limiter means requests are not throttled.
func New(httpClient HTTPClient, baseURL, token string, limiter *rate.Limiter) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		limiter: limiter,
	}
}

// do sends one GET.  It returns the response with its body unread; the
// caller closes it.
func (c *Client) do(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body struct {
			Message string `json:"message"`
		}
		if b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
			if json.Unmarshal(b, &body) == nil {
				apiErr.Message = body.Message
			}
		}
		return nil, apiErr
	}
	return resp, nil
}

var nextLinkRx = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func nextLink(h http.Header) string {
	m := nextLinkRx.FindStringSubmatch(h.Get("Link"))
	if m == nil {
		return ""
	}
	return m[1]
}

// getAll decodes every page of a list endpoint into a single slice.
func getAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", strconv.Itoa(perPage))
	next := c.baseURL + path + "?" + query.Encode()

	var all []T
	for next != "" {
		resp, err := c.do(ctx, next)
		if err != nil {
			return nil, err
		}
		var page []T
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		all = append(all, page...)
		next = nextLink(resp.Header)
	}
	return all, nil
}

type apiIssue struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
	Assignee  *struct {
		Login string `json:"login"`
	} `json:"assignee"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *struct{} `json:"pull_request"`
}

// ListIssues returns the repository's issues in state ("open", "closed" or
// "all").  Pull requests, which the API lists as issues, are left out.
func (c *Client) ListIssues(ctx context.Context, owner, repo, state string) ([]model.IssueInfo, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(repo))
	raw, err := getAll[apiIssue](ctx, c, path, url.Values{"state": {state}})
	if err != nil {
		return nil, fmt.Errorf("listing %s issues of %s/%s: %w", state, owner, repo, err)
	}

	out := make([]model.IssueInfo, 0, len(raw))
	for _, i := range raw {
		if i.PullRequest != nil {
			continue
		}
		info := model.IssueInfo{
			ID:        i.ID,
			Number:    i.Number,
			Owner:     owner,
			Repo:      repo,
			Title:     i.Title,
			Content:   i.Body,
			Open:      i.State == "open",
			UpdatedAt: i.UpdatedAt,
		}
		if i.Assignee != nil {
			info.Assignee = i.Assignee.Login
		}
		for _, l := range i.Labels {
			info.Labels = append(info.Labels, l.Name)
		}
		out = append(out, info)
	}
	return out, nil
}

type apiColumn struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (c *Client) ListColumns(ctx context.Context, projectID int64) ([]model.Column, error) {
	raw, err := getAll[apiColumn](ctx, c, fmt.Sprintf("/projects/%d/columns", projectID), nil)
	if err != nil {
		return nil, fmt.Errorf("listing columns of project %d: %w", projectID, err)
	}
	out := make([]model.Column, len(raw))
	for i, col := range raw {
		out[i] = model.Column{ID: col.ID, Name: col.Name}
	}
	return out, nil
}

type apiCard struct {
	ID         int64  `json:"id"`
	Note       string `json:"note"`
	ContentURL string `json:"content_url"`
}

var issueURLRx = regexp.MustCompile(`/issues/(\d+)$`)

func (c *Client) ListCards(ctx context.Context, columnID int64) ([]model.Card, error) {
	raw, err := getAll[apiCard](ctx, c, fmt.Sprintf("/projects/columns/%d/cards", columnID), nil)
	if err != nil {
		return nil, fmt.Errorf("listing cards of column %d: %w", columnID, err)
	}
	out := make([]model.Card, len(raw))
	for i, card := range raw {
		out[i] = model.Card{
			ID:         card.ID,
			ColumnID:   columnID,
			Note:       card.Note,
			ContentURL: card.ContentURL,
		}
		if m := issueURLRx.FindStringSubmatch(card.ContentURL); m != nil {
			out[i].IssueNumber, _ = strconv.Atoi(m[1])
		}
	}
	return out, nil
}

// RateLimit returns the core API quota, and the OAuth scopes the token
// was granted.
func (c *Client) RateLimit(ctx context.Context) (*model.RateLimit, error) {
	resp, err := c.do(ctx, c.baseURL+"/rate_limit")
	if err != nil {
		return nil, fmt.Errorf("fetching rate limit: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Resources struct {
			Core struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding rate limit: %w", err)
	}

	core := body.Resources.Core
	return &model.RateLimit{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Reset:     time.Unix(core.Reset, 0),
		Scopes:    parseScopes(resp.Header.Get("X-OAuth-Scopes")),
	}, nil
}

func parseScopes(h string) []string {
	var scopes []string
	for _, s := range strings.Split(h, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
