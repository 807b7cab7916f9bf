// Package trigger turns classified webhook events into durable commit, build,
// and job records.
package trigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/sevigo/build-trigger/internal/core"
	"github.com/sevigo/build-trigger/internal/gitlab"
	"github.com/sevigo/build-trigger/internal/metrics"
	"github.com/sevigo/build-trigger/internal/storage"
)

// Environment variables handed to forked merge-request builds. This is the
// whitelist: fork builds receive base-branch metadata and nothing else.
const (
	envBaseLabel    = "GITLAB_PULL_REQUEST_BASE_LABEL"
	envBaseRef      = "GITLAB_PULL_REQUEST_BASE_REF"
	envBaseSHA      = "GITLAB_PULL_REQUEST_BASE_SHA"
	envBaseCloneURL = "GITLAB_PULL_REQUEST_BASE_REPO_CLONE_URL"
)

// Service is the build/job writer behind the webhook endpoint.
type Service struct {
	store   storage.Store
	gitlab  gitlab.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService creates the trigger service.
func NewService(store storage.Store, client gitlab.Client, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		gitlab:  client,
		metrics: m,
		logger:  logger,
	}
}

// HandlePush processes one push delivery. The returned message is sent to the
// provider verbatim; a nil error always means a 200 response. Conditions that
// are expected and permanent for a delivery (disabled flag, revoked token,
// nothing to build) are soft no-ops, never errors, because the provider
// retries every non-2xx response indefinitely.
func (s *Service) HandlePush(ctx context.Context, ev *core.PushEvent) (string, error) {
	repo, err := s.store.RepositoryByProviderID(ctx, ev.ProjectID)
	if err != nil {
		return "", err
	}

	enabled, err := s.store.BuildOnPush(ctx, repo.ProjectID)
	if err != nil {
		return "", err
	}
	if !enabled {
		return "build_on_push not set", nil
	}

	cls := core.ClassifyPush(ev)
	if cls.Commit == nil {
		// Branch deletion or an empty push; nothing to build.
		return "ok", nil
	}

	token, err := s.store.OwnerToken(ctx, ev.ProjectID)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "no token", nil
	}

	req := &core.BuildRequest{
		RepositoryID: repo.ID,
		ProjectID:    repo.ProjectID,
		Commit: core.Commit{
			ID:                cls.Commit.ID,
			Message:           cls.Commit.Message,
			Timestamp:         cls.Commit.Timestamp,
			AuthorName:        cls.Commit.Author.Name,
			AuthorEmail:       cls.Commit.Author.Email,
			AuthorUsername:    optional(cls.Commit.Author.Username),
			CommitterName:     cls.Committer.Name,
			CommitterEmail:    cls.Committer.Email,
			CommitterUsername: optional(cls.Committer.Username),
			URL:               cls.Commit.URL,
			Branch:            optional(cls.Branch),
			Tag:               optional(cls.Tag),
			StatusURL:         statusURL(ev.Project.WebURL, cls.Commit.ID),
		},
		Repo: core.RepoDescriptor{
			Commit:   cls.Commit.ID,
			CloneURL: ev.Project.GitHTTPURL,
			Private:  repo.Private,
			Branch:   cls.Branch,
		},
	}

	res, err := s.store.CreateBuild(ctx, req)
	if err != nil {
		return "", err
	}
	s.logResult(ev.ProjectID, res)
	return "ok", nil
}

// HandleMergeRequest processes one merge-request delivery. A build is created
// only the first time a head commit is seen; a synchronize event without a
// new head SHA writes nothing.
func (s *Service) HandleMergeRequest(ctx context.Context, ev *core.MergeRequestEvent) (string, error) {
	switch ev.Action {
	case "opened", "reopened", "synchronize":
	default:
		return "ok", nil
	}

	repo, err := s.store.RepositoryByProviderID(ctx, ev.ProjectID)
	if err != nil {
		return "", err
	}

	enabled, err := s.store.BuildOnPush(ctx, repo.ProjectID)
	if err != nil {
		return "", err
	}
	if !enabled {
		return "build_on_push not set", nil
	}

	token, err := s.store.OwnerToken(ctx, ev.ProjectID)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "no token", nil
	}

	pr := &ev.PullRequest
	commits, err := s.gitlab.ListCommits(ctx, pr.CommitsURL, token)
	if err != nil {
		return "", core.Internal("Internal Server Error", err)
	}

	head := findHead(commits, pr.Head.SHA)
	if head == nil {
		// The provider's own list does not contain the SHA it reported; this
		// is an API consistency issue an operator must look at, so the whole
		// list goes into the log.
		list, _ := json.Marshal(commits)
		s.logger.Error("head commit not found in commit list",
			"sha", pr.Head.SHA, "commits", string(list))
		return "", core.Internal("Internal Server Error", nil)
	}

	var committerUsername *string
	if head.Committer != nil {
		committerUsername = optional(head.Committer.Login)
	}
	var authorUsername *string
	if head.Author != nil {
		authorUsername = optional(head.Author.Login)
	}

	req := &core.BuildRequest{
		RepositoryID: repo.ID,
		ProjectID:    repo.ProjectID,
		Commit: core.Commit{
			ID:                head.SHA,
			Message:           head.Commit.Message,
			Timestamp:         head.Commit.Author.Date,
			AuthorName:        head.Commit.Author.Name,
			AuthorEmail:       head.Commit.Author.Email,
			AuthorUsername:    authorUsername,
			CommitterName:     head.Commit.Committer.Name,
			CommitterEmail:    head.Commit.Committer.Email,
			CommitterUsername: committerUsername,
			URL:               head.HTMLURL,
			Branch:            optional(pr.Head.Ref),
			StatusURL:         pr.StatusesURL,
		},
		Repo: core.RepoDescriptor{
			Commit:   head.SHA,
			CloneURL: pr.Head.Repo.CloneURL,
			Private:  repo.Private,
			Branch:   pr.Head.Ref,
			Fork:     pr.Head.Repo.Fork,
		},
		Env: map[string]string{
			envBaseLabel:    pr.Base.Label,
			envBaseRef:      pr.Base.Ref,
			envBaseSHA:      pr.Base.SHA,
			envBaseCloneURL: pr.Base.Repo.CloneURL,
		},
		PullRequest: &core.PullRequest{
			ProviderID: pr.ID,
			Title:      pr.Title,
			URL:        pr.HTMLURL,
		},
	}

	res, err := s.store.CreateBuild(ctx, req)
	if err != nil {
		return "", err
	}
	s.logResult(ev.ProjectID, res)
	return "ok", nil
}

func (s *Service) logResult(providerID int64, res *core.BuildResult) {
	if res.Created {
		s.metrics.CountBuildCreated()
		s.logger.Info("build created",
			"gitlab_id", providerID,
			"commit", res.CommitID,
			"build_number", res.BuildNumber,
			"job", res.JobID)
		return
	}
	s.logger.Info("commit already known, no build created",
		"gitlab_id", providerID,
		"commit", res.CommitID,
		"tag_updated", res.TagUpdated)
}

func findHead(commits []gitlab.Commit, sha string) *gitlab.Commit {
	for i := range commits {
		if commits[i].SHA == sha {
			return &commits[i]
		}
	}
	return nil
}

// statusURL expands the {sha} placeholder of the repository's status
// template.
func statusURL(template, sha string) string {
	return strings.ReplaceAll(template, "{sha}", sha)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
