// Package gitlab talks to the provider API on behalf of a project's owning
// collaborator.
package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/sevigo/build-trigger/internal/config"
	"github.com/sevigo/build-trigger/internal/metrics"
)

// Identity is the name/email/date triple inside a commit object.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date"`
}

// Actor is a provider account attached to a commit.
type Actor struct {
	Login string `json:"login"`
}

// CommitDetail is the nested commit object of a commit-list entry.
type CommitDetail struct {
	Message   string   `json:"message"`
	Author    Identity `json:"author"`
	Committer Identity `json:"committer"`
}

// Commit is one entry of a pull request's commit list.
type Commit struct {
	SHA       string       `json:"sha"`
	HTMLURL   string       `json:"html_url"`
	Commit    CommitDetail `json:"commit"`
	Author    *Actor       `json:"author"`
	Committer *Actor       `json:"committer"`
}

// Client lists commits on a pull request.
type Client interface {
	ListCommits(ctx context.Context, url, token string) ([]Commit, error)
}

type apiClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient builds the provider API client. Calls are bounded by the
// configured timeout and wrapped in a circuit breaker so a degraded provider
// API cannot pile up in-flight webhook handlers.
func NewClient(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) Client {
	httpClient := resty.New().
		SetTimeout(cfg.GitLab.APITimeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json").
		// A followed redirect would replay the token to whatever host the
		// response names; refuse them instead.
		SetRedirectPolicy(resty.NoRedirectPolicy())

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gitlab-api",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("provider API circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	})

	return &apiClient{
		http:    httpClient,
		breaker: breaker,
		metrics: m,
		logger:  logger,
	}
}

// ListCommits fetches the commit list behind url, authenticated with the
// owner's token.
func (c *apiClient) ListCommits(ctx context.Context, url, token string) ([]Commit, error) {
	start := time.Now()

	result, err := c.breaker.Execute(func() (any, error) {
		var commits []Commit
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Private-Token", token).
			SetResult(&commits).
			Get(url)
		if err != nil {
			return nil, fmt.Errorf("commit listing request failed: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("commit listing returned %s", resp.Status())
		}
		return commits, nil
	})

	c.metrics.ObserveProviderRequest("list_commits", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return result.([]Commit), nil
}
