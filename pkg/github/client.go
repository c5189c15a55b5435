// Package github queries the GitHub GraphQL API for a user's contribution
// activity within a UTC day window.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/sells-group/streakwatch/internal/connpool"
	"github.com/sells-group/streakwatch/internal/model"
	"github.com/sells-group/streakwatch/internal/resilience"
	"github.com/sells-group/streakwatch/internal/window"
)

// DefaultEndpoint is the public GraphQL API.
const DefaultEndpoint = "https://api.github.com/graphql"

const maxErrorBody = 512

// Credentials identify the monitored user. The token is attached to each
// request and never kept on the client.
type Credentials struct {
	Username string
	Token    string
}

// Count is the number of contributions in a window.
type Count struct {
	Total int `json:"total"`
}

// Option configures the GitHub client.
type Option func(*Client)

// WithEndpoint sets a custom GraphQL endpoint (for testing or GHES).
func WithEndpoint(url string) Option {
	return func(c *Client) {
		c.endpoint = url
	}
}

// WithRateLimiter throttles outbound queries.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// Client issues contribution queries over a shared connection pool.
type Client struct {
	doer     connpool.Doer
	endpoint string
	limiter  *rate.Limiter
}

// NewClient creates a GitHub client that sends every request through doer.
func NewClient(doer connpool.Doer, opts ...Option) *Client {
	c := &Client{
		doer:     doer,
		endpoint: DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Doer returns the connection the client sends requests through.
func (c *Client) Doer() connpool.Doer {
	return c.doer
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// ContributionCount returns the user's total contributions within w.
// Every call re-executes the query; the count can change during the day.
func (c *Client) ContributionCount(ctx context.Context, w window.Window, creds Credentials) (Count, error) {
	body, err := c.post(ctx, creds, contributionCountQuery, map[string]any{
		"username": creds.Username,
		"from":     formatTime(w.Start),
		"to":       formatTime(w.End),
	})
	if err != nil {
		return Count{}, err
	}

	var resp countResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Count{}, model.NewFailure(model.FailureMalformedResponse, "github: decode response", err)
	}

	total, err := resp.total()
	if err != nil {
		return Count{}, err
	}
	return Count{Total: total}, nil
}

// post sends one GraphQL request and returns the body of a 2xx response that
// carries no upstream errors. Failures come back as *model.Failure.
func (c *Client) post(ctx context.Context, creds Credentials, query string, vars map[string]any) ([]byte, error) {
	if creds.Username == "" || creds.Token == "" {
		return nil, model.NewFailure(model.FailureConfigMissing, "github: username and token are required", nil)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, model.NewFailure(resilience.ClassifyTransport(ctx, err), "github: rate limiter", err)
		}
	}

	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, eris.Wrap(err, "github: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, model.NewFailure(model.FailureConfigMissing, "github: create request", err)
	}
	req.Header.Set("Authorization", "bearer "+creds.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, model.NewFailure(resilience.ClassifyTransport(ctx, err), "github: request failed", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewFailure(resilience.ClassifyTransport(ctx, err), "github: read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, model.StatusFailure(model.FailureRemoteRejected, resp.StatusCode,
			fmt.Sprintf("github: unexpected status: %s", truncate(body, maxErrorBody)))
	}

	if !gjson.ValidBytes(body) {
		return nil, model.NewFailure(model.FailureMalformedResponse, "github: response is not valid JSON", nil)
	}

	// Upstream errors win over any partial data sent alongside them.
	if msg, ok := firstUpstreamError(body); ok {
		return nil, model.NewFailure(model.FailureUpstreamError, msg, nil)
	}

	return body, nil
}

func firstUpstreamError(body []byte) (string, bool) {
	errs := gjson.GetBytes(body, "errors")
	if !errs.Exists() || errs.Type == gjson.Null {
		return "", false
	}
	if errs.IsArray() {
		list := errs.Array()
		if len(list) == 0 {
			return "", false
		}
		if msg := list[0].Get("message").String(); msg != "" {
			return msg, true
		}
		return list[0].Raw, true
	}
	return errs.Raw, true
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
