package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPush(t *testing.T) {
	commits := []PushCommit{
		{ID: "aaa111", Message: "first"},
		{ID: "bbb222", Message: "second"},
		{ID: "ccc333", Message: "third"},
	}

	tests := []struct {
		name       string
		event      PushEvent
		wantBranch string
		wantTag    string
		wantCommit string
	}{
		{
			name: "branch push resolves the last commit as the tip",
			event: PushEvent{
				Ref:               "refs/heads/main",
				Commits:           commits,
				TotalCommitsCount: 3,
			},
			wantBranch: "main",
			wantCommit: "ccc333",
		},
		{
			name: "nested branch name keeps its slashes",
			event: PushEvent{
				Ref:               "refs/heads/feature/login-form",
				Commits:           commits[:1],
				TotalCommitsCount: 1,
			},
			wantBranch: "feature/login-form",
			wantCommit: "aaa111",
		},
		{
			name: "tag push resolves the first commit",
			event: PushEvent{
				Ref:               "refs/tags/v1.0",
				Commits:           commits,
				TotalCommitsCount: 3,
			},
			wantTag:    "v1.0",
			wantCommit: "aaa111",
		},
		{
			name: "tag push with zero commits resolves nothing",
			event: PushEvent{
				Ref:               "refs/tags/v1.0",
				TotalCommitsCount: 0,
			},
			wantTag: "v1.0",
		},
		{
			name: "branch deletion resolves nothing",
			event: PushEvent{
				Ref: "refs/heads/old-branch",
			},
			wantBranch: "old-branch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyPush(&tt.event)

			assert.Equal(t, tt.wantBranch, got.Branch)
			assert.Equal(t, tt.wantTag, got.Tag)
			if tt.wantCommit == "" {
				assert.Nil(t, got.Commit)
			} else {
				require.NotNil(t, got.Commit)
				assert.Equal(t, tt.wantCommit, got.Commit.ID)
			}
		})
	}
}

func TestClassifyPushSynthesizesCommitter(t *testing.T) {
	ev := PushEvent{
		Ref:          "refs/heads/main",
		Commits:      []PushCommit{{ID: "abc123", Author: Identity{Name: "Author", Email: "a@example.com"}}},
		UserName:     "Pusher",
		UserEmail:    "p@example.com",
		UserUsername: "pusher",
	}

	got := ClassifyPush(&ev)

	require.NotNil(t, got.Commit)
	assert.Equal(t, Identity{Name: "Pusher", Email: "p@example.com", Username: "pusher"}, got.Committer)
	// The per-commit author stays untouched.
	assert.Equal(t, "Author", got.Commit.Author.Name)
}

func TestDecodePushEvent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "valid payload",
			body: `{
				"ref": "refs/heads/main",
				"project_id": 42,
				"project": {"git_http_url": "https://git.example.com/p.git", "web_url": "https://git.example.com/p"},
				"commits": [{"id": "abc123", "message": "fix"}],
				"total_commits_count": 1,
				"user_name": "Pusher"
			}`,
		},
		{
			name:    "not JSON",
			body:    `ref=refs/heads/main`,
			wantErr: true,
		},
		{
			name:    "missing ref",
			body:    `{"project_id": 42, "project": {"git_http_url": "https://git.example.com/p.git"}}`,
			wantErr: true,
		},
		{
			name:    "missing project id",
			body:    `{"ref": "refs/heads/main", "project": {"git_http_url": "https://git.example.com/p.git"}}`,
			wantErr: true,
		},
		{
			name:    "missing clone url",
			body:    `{"ref": "refs/heads/main", "project_id": 42, "project": {"web_url": "https://git.example.com/p"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodePushEvent([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(42), ev.ProjectID)
			assert.Equal(t, "refs/heads/main", ev.Ref)
		})
	}
}

func TestDecodeMergeRequestEvent(t *testing.T) {
	body := `{
		"action": "opened",
		"project_id": 42,
		"pull_request": {
			"id": 7,
			"title": "Add login",
			"html_url": "https://git.example.com/p/pr/7",
			"commits_url": "https://api.example.com/pr/7/commits",
			"head": {"ref": "login", "sha": "abc123", "repo": {"clone_url": "https://git.example.com/fork.git", "fork": true}},
			"base": {"ref": "main", "sha": "def456", "repo": {"clone_url": "https://git.example.com/p.git"}}
		}
	}`

	ev, err := DecodeMergeRequestEvent([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "opened", ev.Action)
	assert.True(t, ev.PullRequest.Head.Repo.Fork)
	assert.Equal(t, "abc123", ev.PullRequest.Head.SHA)

	_, err = DecodeMergeRequestEvent([]byte(`{"action": "opened"}`))
	assert.Error(t, err)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, HTTPStatus(BadRequest("nope")))
	assert.Equal(t, 404, HTTPStatus(NotFound("gone")))
	assert.Equal(t, 500, HTTPStatus(Internal("boom", nil)))
	assert.Equal(t, 500, HTTPStatus(assert.AnError))
}
