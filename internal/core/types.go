package core

// Repository is the tracked source-control project as stored locally.
type Repository struct {
	ID        int64 `db:"id"`
	ProjectID int64 `db:"project_id"`
	Private   bool  `db:"private"`
}

// RepoDescriptor is embedded in every job row and tells the scheduler what to
// clone. Its JSON keys are part of the scheduler contract and must not change.
type RepoDescriptor struct {
	Commit   string `json:"commit"`
	CloneURL string `json:"clone_url"`
	Private  bool   `json:"gitlab_private_repo"`
	Branch   string `json:"branch"`
	Fork     bool   `json:"fork"`
}

// Commit carries the metadata written for a new commit row. Optional fields
// are pointers; a nil Tag or Branch is stored as NULL.
type Commit struct {
	ID                string
	Message           string
	Timestamp         string
	AuthorName        string
	AuthorEmail       string
	AuthorUsername    *string
	CommitterName     string
	CommitterEmail    string
	CommitterUsername *string
	URL               string
	Branch            *string
	Tag               *string
	StatusURL         string
}

// PullRequest identifies a provider pull request tracked for a project.
type PullRequest struct {
	ProviderID int64
	Title      string
	URL        string
}

// BuildRequest is the unit of work handed to the store: one commit, at most
// one new build, exactly one job, written in a single transaction.
type BuildRequest struct {
	RepositoryID int64
	ProjectID    int64
	Commit       Commit
	Repo         RepoDescriptor
	Env          map[string]string
	PullRequest  *PullRequest
}

// BuildResult reports what the transaction actually wrote. Created is false
// when the commit row already existed and no build was made.
type BuildResult struct {
	Created     bool
	TagUpdated  bool
	CommitID    string
	BuildID     int64
	BuildNumber int
	JobID       string
}
