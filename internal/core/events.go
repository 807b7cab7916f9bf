package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	tagRefPrefix = "refs/tags/"

	// Header values GitLab sends for the events this service acts on.
	EventPush         = "Push Hook"
	EventMergeRequest = "Merge Request Hook"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Identity names a commit author or committer.
type Identity struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// PushCommit is one entry of a push payload's commit list.
type PushCommit struct {
	ID        string   `json:"id" validate:"required"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	URL       string   `json:"url"`
	Author    Identity `json:"author"`
}

// ProjectInfo describes the pushed-to repository as the provider sees it.
type ProjectInfo struct {
	GitHTTPURL string `json:"git_http_url" validate:"required"`
	WebURL     string `json:"web_url"`
}

// PushEvent is the validated shape of a "Push Hook" delivery. It is built
// exactly once at the endpoint boundary; downstream components never
// re-validate it.
type PushEvent struct {
	Ref               string       `json:"ref" validate:"required"`
	ProjectID         int64        `json:"project_id" validate:"required"`
	Project           ProjectInfo  `json:"project" validate:"required"`
	Commits           []PushCommit `json:"commits"`
	TotalCommitsCount int          `json:"total_commits_count"`
	UserName          string       `json:"user_name"`
	UserEmail         string       `json:"user_email"`
	UserUsername      string       `json:"user_username"`
}

// RepoRef is the repository half of a pull request head or base.
type RepoRef struct {
	CloneURL string `json:"clone_url"`
	Fork     bool   `json:"fork"`
}

// PullRequestRef describes one side (head or base) of a pull request.
type PullRequestRef struct {
	Label string  `json:"label"`
	Ref   string  `json:"ref"`
	SHA   string  `json:"sha"`
	Repo  RepoRef `json:"repo"`
}

// PullRequestInfo is the pull_request object of a merge-request delivery.
type PullRequestInfo struct {
	ID          int64          `json:"id" validate:"required"`
	Title       string         `json:"title"`
	HTMLURL     string         `json:"html_url"`
	CommitsURL  string         `json:"commits_url" validate:"required"`
	StatusesURL string         `json:"statuses_url"`
	Head        PullRequestRef `json:"head" validate:"required"`
	Base        PullRequestRef `json:"base" validate:"required"`
}

// MergeRequestEvent is the validated shape of a merge-request delivery.
type MergeRequestEvent struct {
	Action      string          `json:"action" validate:"required"`
	ProjectID   int64           `json:"project_id" validate:"required"`
	PullRequest PullRequestInfo `json:"pull_request" validate:"required"`
}

// DecodePushEvent parses and validates a push payload.
func DecodePushEvent(body []byte) (*PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode push payload: %w", err)
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("invalid push payload: %w", err)
	}
	return &ev, nil
}

// DecodeMergeRequestEvent parses and validates a merge-request payload.
func DecodeMergeRequestEvent(body []byte) (*MergeRequestEvent, error) {
	var ev MergeRequestEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode merge request payload: %w", err)
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("invalid merge request payload: %w", err)
	}
	return &ev, nil
}

// PushClassification is the classifier's verdict on a push delivery. A nil
// Commit means the push has nothing to build (e.g. a branch deletion).
type PushClassification struct {
	Branch    string
	Tag       string
	Commit    *PushCommit
	Committer Identity
}

// ClassifyPush inspects a push payload and resolves the triggering commit.
// Tag pushes build the first listed commit; branch pushes build the last one,
// since providers order commit lists oldest-first and the last entry is the
// branch tip. The committer is synthesized from the top-level pusher fields
// because per-commit entries only carry author identity.
func ClassifyPush(ev *PushEvent) PushClassification {
	c := PushClassification{
		Committer: Identity{
			Name:     ev.UserName,
			Email:    ev.UserEmail,
			Username: ev.UserUsername,
		},
	}

	if strings.HasPrefix(ev.Ref, tagRefPrefix) {
		c.Tag = trimRef(ev.Ref)
		if ev.TotalCommitsCount > 0 && len(ev.Commits) > 0 {
			c.Commit = &ev.Commits[0]
		}
		return c
	}

	c.Branch = trimRef(ev.Ref)
	if len(ev.Commits) > 0 {
		c.Commit = &ev.Commits[len(ev.Commits)-1]
	}
	return c
}

// trimRef drops the first two path segments of a ref, turning
// "refs/heads/feature/x" into "feature/x".
func trimRef(ref string) string {
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
