// Package storage implements the persistence layer of the trigger service on
// top of PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sevigo/build-trigger/internal/core"
)

// buildNumberConstraint guards the per-project build numbering. Concurrent
// triggers for the same project race on max(build_number)+1; the loser hits
// this constraint and the whole transaction is retried.
const buildNumberConstraint = "build_project_id_build_number_key"

const buildNumberRetries = 3

// Store defines the database operations the trigger service needs.
type Store interface {
	// RepositoryByProviderID resolves a repository by its provider-side id.
	RepositoryByProviderID(ctx context.Context, gitlabID int64) (*core.Repository, error)
	// BuildOnPush reports whether the project wants builds for webhook events.
	BuildOnPush(ctx context.Context, projectID int64) (bool, error)
	// OwnerToken resolves the owning collaborator's provider token. An
	// unknown repository or an owner without a token yields "", nil.
	OwnerToken(ctx context.Context, gitlabID int64) (string, error)
	// CreateBuild writes commit, build, and job rows for one delivery in a
	// single transaction. See core.BuildResult for what was actually written.
	CreateBuild(ctx context.Context, req *core.BuildRequest) (*core.BuildResult, error)
}

type postgresStore struct {
	db *sqlx.DB
}

// NewStore creates a PostgreSQL-backed Store.
func NewStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) RepositoryByProviderID(ctx context.Context, gitlabID int64) (*core.Repository, error) {
	var repo core.Repository
	err := s.db.GetContext(ctx, &repo,
		`SELECT id, project_id, private FROM repository WHERE gitlab_id = $1`, gitlabID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NotFound("Unknown repository")
		}
		return nil, fmt.Errorf("failed to look up repository %d: %w", gitlabID, err)
	}
	return &repo, nil
}

func (s *postgresStore) BuildOnPush(ctx context.Context, projectID int64) (bool, error) {
	var enabled bool
	err := s.db.GetContext(ctx, &enabled,
		`SELECT build_on_push FROM project WHERE id = $1`, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, core.NotFound("Unknown project")
		}
		return false, fmt.Errorf("failed to look up project %d: %w", projectID, err)
	}
	return enabled, nil
}

func (s *postgresStore) OwnerToken(ctx context.Context, gitlabID int64) (string, error) {
	var token sql.NullString
	err := s.db.GetContext(ctx, &token, `
		SELECT u.gitlab_api_token
		FROM "user" u
		INNER JOIN collaborator co
			ON co.user_id = u.id
			AND co.owner = true
		INNER JOIN project p
			ON co.project_id = p.id
		INNER JOIN repository r
			ON r.gitlab_id = $1
			AND r.project_id = p.id`, gitlabID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve owner token: %w", err)
	}
	return token.String, nil
}

// CreateBuild retries the whole transaction on a build-number conflict. A
// failed statement aborts a postgres transaction, so the retry must restart
// from the beginning rather than re-issue the insert.
func (s *postgresStore) CreateBuild(ctx context.Context, req *core.BuildRequest) (*core.BuildResult, error) {
	var lastErr error
	for attempt := 0; attempt < buildNumberRetries; attempt++ {
		res, err := s.createBuildTx(ctx, req)
		if err != nil && isUniqueViolation(err, buildNumberConstraint) {
			lastErr = err
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("build number conflicts exhausted %d attempts: %w", buildNumberRetries, lastErr)
}

func (s *postgresStore) createBuildTx(ctx context.Context, req *core.BuildRequest) (*core.BuildResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var pullRequestID *int64
	if req.PullRequest != nil {
		id, err := upsertPullRequest(ctx, tx, req.ProjectID, req.PullRequest)
		if err != nil {
			return nil, err
		}
		pullRequestID = &id
	}

	inserted, err := insertCommit(ctx, tx, req, pullRequestID)
	if err != nil {
		return nil, err
	}

	res := &core.BuildResult{CommitID: req.Commit.ID, Created: inserted}

	if !inserted {
		// The commit is known from an earlier delivery. The tag is the only
		// mutable column: a tag push for an already-built commit records the
		// tag without creating another build.
		if req.Commit.Tag != nil {
			_, err := tx.ExecContext(ctx,
				`UPDATE "commit" SET tag = $1 WHERE id = $2 AND project_id = $3`,
				*req.Commit.Tag, req.Commit.ID, req.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("failed to update commit tag: %w", err)
			}
			res.TagUpdated = true
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return res, nil
	}

	var buildNumber int
	err = tx.GetContext(ctx, &buildNumber,
		`SELECT COALESCE(MAX(build_number), 0) + 1 FROM build WHERE project_id = $1`,
		req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute build number: %w", err)
	}

	var buildID int64
	err = tx.GetContext(ctx, &buildID,
		`INSERT INTO build (commit_id, build_number, project_id) VALUES ($1, $2, $3) RETURNING id`,
		req.Commit.ID, buildNumber, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert build: %w", err)
	}

	jobID, err := insertJob(ctx, tx, req, buildID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	res.BuildID = buildID
	res.BuildNumber = buildNumber
	res.JobID = jobID
	return res, nil
}

func upsertPullRequest(ctx context.Context, tx *sqlx.Tx, projectID int64, pr *core.PullRequest) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pull_request (project_id, gitlab_pull_request_id, title, url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, gitlab_pull_request_id) DO NOTHING`,
		projectID, pr.ProviderID, pr.Title, pr.URL)
	if err != nil {
		return 0, fmt.Errorf("failed to insert pull request: %w", err)
	}

	var id int64
	err = tx.GetContext(ctx, &id,
		`SELECT id FROM pull_request WHERE project_id = $1 AND gitlab_pull_request_id = $2`,
		projectID, pr.ProviderID)
	if err != nil {
		return 0, fmt.Errorf("failed to look up pull request: %w", err)
	}
	return id, nil
}

// insertCommit writes the commit row if it does not exist yet. A concurrent
// duplicate delivery loses the race on the (id, project_id) primary key and
// observes zero affected rows, which callers treat as "already exists".
func insertCommit(ctx context.Context, tx *sqlx.Tx, req *core.BuildRequest, pullRequestID *int64) (bool, error) {
	c := req.Commit
	result, err := tx.ExecContext(ctx, `
		INSERT INTO "commit" (
			id, message, repository_id, timestamp,
			author_name, author_email, author_username,
			committer_name, committer_email, committer_username,
			url, branch, tag, project_id, pull_request_id, gitlab_status_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id, project_id) DO NOTHING`,
		c.ID, c.Message, req.RepositoryID, nullString(c.Timestamp),
		c.AuthorName, c.AuthorEmail, c.AuthorUsername,
		c.CommitterName, c.CommitterEmail, c.CommitterUsername,
		c.URL, c.Branch, c.Tag, req.ProjectID, pullRequestID, c.StatusURL)
	if err != nil {
		return false, fmt.Errorf("failed to insert commit: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows > 0, nil
}

func insertJob(ctx context.Context, tx *sqlx.Tx, req *core.BuildRequest, buildID int64) (string, error) {
	repoBlob, err := json.Marshal(req.Repo)
	if err != nil {
		return "", fmt.Errorf("failed to marshal repo descriptor: %w", err)
	}

	// JSON parameters go over the wire as text; a []byte would be sent as
	// bytea and rejected by the jsonb columns.
	var envBlob any
	if len(req.Env) > 0 {
		b, err := json.Marshal(req.Env)
		if err != nil {
			return "", fmt.Errorf("failed to marshal job environment: %w", err)
		}
		envBlob = string(b)
	}

	jobID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO job (id, state, build_id, type,
				 name, project_id, build_only,
				 dockerfile, cpu, memory, repo, env_var, cluster_name)
		VALUES ($1, 'queued', $2, 'create_job_matrix',
			'Create Jobs', $3, false, '', 1, 1024, $4, $5, 'master')`,
		jobID, buildID, req.ProjectID, string(repoBlob), envBlob)
	if err != nil {
		return "", fmt.Errorf("failed to insert job: %w", err)
	}
	return jobID, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == constraint
}
