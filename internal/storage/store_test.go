package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/build-trigger/internal/core"
)

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewStore(sqlx.NewDb(mockDB, "postgres")), mock
}

func buildRequest(tag *string) *core.BuildRequest {
	branch := "main"
	return &core.BuildRequest{
		RepositoryID: 1,
		ProjectID:    10,
		Commit: core.Commit{
			ID:             "abc123",
			Message:        "fix",
			Timestamp:      "2024-05-01T10:00:00Z",
			AuthorName:     "Author",
			AuthorEmail:    "a@example.com",
			CommitterName:  "Pusher",
			CommitterEmail: "p@example.com",
			URL:            "https://git.example.com/c/abc123",
			Branch:         &branch,
			Tag:            tag,
			StatusURL:      "https://git.example.com/p/abc123",
		},
		Repo: core.RepoDescriptor{
			Commit:   "abc123",
			CloneURL: "https://git.example.com/p.git",
			Branch:   "main",
		},
	}
}

func buildNumberConflict() *pq.Error {
	return &pq.Error{Code: "23505", Constraint: buildNumberConstraint}
}

func TestCreateBuildFirstDelivery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "commit"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COALESCE`).
		WillReturnRows(sqlmock.NewRows([]string{"next_number"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO build`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec(`INSERT INTO job`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := store.CreateBuild(context.Background(), buildRequest(nil))

	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "abc123", res.CommitID)
	assert.Equal(t, int64(5), res.BuildID)
	assert.Equal(t, 1, res.BuildNumber)
	assert.NotEmpty(t, res.JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A duplicate delivery loses the commit upsert race: zero rows affected, the
// transaction commits immediately, and no build or job statement runs.
func TestCreateBuildDuplicateDelivery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "commit"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := store.CreateBuild(context.Background(), buildRequest(nil))

	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.False(t, res.TagUpdated)
	assert.Empty(t, res.JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBuildTagForKnownCommit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "commit"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "commit" SET tag`).
		WithArgs("v1.0", "abc123", int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tag := "v1.0"
	res, err := store.CreateBuild(context.Background(), buildRequest(&tag))

	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.TagUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBuildNumberConflictRetriesThenSucceeds(t *testing.T) {
	store, mock := newMockStore(t)

	// First attempt loses the numbering race and rolls the whole
	// transaction back.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "commit"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COALESCE`).
		WillReturnRows(sqlmock.NewRows([]string{"next_number"}).AddRow(3))
	mock.ExpectQuery(`INSERT INTO build`).WillReturnError(buildNumberConflict())
	mock.ExpectRollback()

	// Second attempt restarts from the commit upsert and wins.
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "commit"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COALESCE`).
		WillReturnRows(sqlmock.NewRows([]string{"next_number"}).AddRow(4))
	mock.ExpectQuery(`INSERT INTO build`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(`INSERT INTO job`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := store.CreateBuild(context.Background(), buildRequest(nil))

	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 4, res.BuildNumber)
	assert.Equal(t, int64(7), res.BuildID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBuildNumberConflictExhaustsRetries(t *testing.T) {
	store, mock := newMockStore(t)

	for i := 0; i < buildNumberRetries; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "commit"`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT COALESCE`).
			WillReturnRows(sqlmock.NewRows([]string{"next_number"}).AddRow(3))
		mock.ExpectQuery(`INSERT INTO build`).WillReturnError(buildNumberConflict())
		mock.ExpectRollback()
	}

	_, err := store.CreateBuild(context.Background(), buildRequest(nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failure after the build insert must roll back the whole unit: a build
// without its job never becomes visible.
func TestCreateBuildJobInsertFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "commit"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COALESCE`).
		WillReturnRows(sqlmock.NewRows([]string{"next_number"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO build`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec(`INSERT INTO job`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := store.CreateBuild(context.Background(), buildRequest(nil))

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A synchronize event whose head commit is already known upserts the
// pull_request row but creates no build.
func TestCreateBuildPullRequestSynchronizeNoNewHead(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO pull_request`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM pull_request`).
		WithArgs(int64(10), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO "commit"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	req := buildRequest(nil)
	req.PullRequest = &core.PullRequest{ProviderID: 7, Title: "Add login", URL: "https://git.example.com/p/pr/7"}

	res, err := store.CreateBuild(context.Background(), req)

	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "build number conflict",
			err:  &pq.Error{Code: "23505", Constraint: buildNumberConstraint},
			want: true,
		},
		{
			name: "unique violation on another constraint",
			err:  &pq.Error{Code: "23505", Constraint: "commit_pkey"},
			want: false,
		},
		{
			name: "different error code",
			err:  &pq.Error{Code: "23503", Constraint: buildNumberConstraint},
			want: false,
		},
		{
			name: "not a pq error",
			err:  assert.AnError,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err, buildNumberConstraint))
		})
	}
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "2024-05-01T10:00:00Z", nullString("2024-05-01T10:00:00Z"))
}
