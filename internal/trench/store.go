package trench

import "trench/internal/model"

// Store provides the persistent state operations the service needs.
// Lookups return (nil, nil) when the record does not exist.
type Store interface {
	// Repo operations

	// InsertRepo records a repository root and returns the populated row.
	InsertRepo(name, path, defaultBase string) (*model.Repo, error)

	// GetRepo returns a repo by id.
	GetRepo(id int64) (*model.Repo, error)

	// GetRepoByPath returns a repo by its canonical path.
	GetRepoByPath(path string) (*model.Repo, error)

	// Worktree operations

	// InsertWorktree records a managed worktree and returns the populated row.
	InsertWorktree(repoID int64, name, branch, path string, baseBranch *string) (*model.Worktree, error)

	// GetWorktree returns a worktree by id, including soft-deleted rows.
	GetWorktree(id int64) (*model.Worktree, error)

	// GetWorktreeByPath returns a worktree by its unique path, including soft-deleted rows.
	GetWorktreeByPath(path string) (*model.Worktree, error)

	// FindWorktreeByIdentifier matches a live worktree of the repo by name, then by branch.
	FindWorktreeByIdentifier(repoID int64, identifier string) (*model.Worktree, error)

	// ListWorktrees returns the live worktrees of a repo ordered by creation time.
	ListWorktrees(repoID int64) ([]*model.Worktree, error)

	// UpdateWorktree applies a partial update. Fails with ErrNotFound for an unknown id.
	UpdateWorktree(id int64, update model.WorktreeUpdate) error

	// Event operations

	// InsertEvent appends an audit event. worktreeID, when set, must belong to repoID.
	InsertEvent(repoID int64, worktreeID *int64, eventType string, payload map[string]any) (*model.Event, error)

	// CountEvents counts events of a worktree; an empty eventType counts all types.
	CountEvents(worktreeID int64, eventType string) (int64, error)

	// ListEvents returns the most recent events of a repo, newest first.
	ListEvents(repoID int64, limit int) ([]*model.Event, error)

	// Tag operations

	// AddTag attaches a tag. Adding an existing tag is a no-op.
	AddTag(worktreeID int64, name string) error

	// RemoveTag detaches a tag. Removing an absent tag is a no-op.
	RemoveTag(worktreeID int64, name string) error

	// ListTags returns the tags of a worktree sorted alphabetically.
	ListTags(worktreeID int64) ([]string, error)

	// Session operations

	// SetSession stores a UI session value.
	SetSession(key, value string) error

	// GetSession reads a UI session value.
	GetSession(key string) (string, bool, error)

	// Close closes the database connection.
	Close() error
}
