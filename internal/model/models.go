package model

import "time"

// Repo is a distinct repository root known to the store.
type Repo struct {
	ID          int64
	Name        string
	Path        string // canonical absolute path, unique
	DefaultBase string // empty when unknown
	CreatedAt   time.Time
}

// Worktree is one checkout tracked by the store.
type Worktree struct {
	ID           int64
	RepoID       int64 // Foreign key to Repo
	Name         string
	Branch       string
	Path         string // unique across all repos
	BaseBranch   *string
	Managed      bool
	AdoptedAt    *time.Time
	LastAccessed *time.Time
	RemovedAt    *time.Time // soft-delete marker, never cleared once set
	CreatedAt    time.Time
}

// Removed reports whether the worktree has been soft-deleted.
func (w *Worktree) Removed() bool {
	return w.RemovedAt != nil
}

// Event is an immutable audit record.
type Event struct {
	ID         int64
	RepoID     int64
	WorktreeID *int64
	EventType  string
	Payload    map[string]any // nil when the event carries no payload
	CreatedAt  time.Time
}

// Event types written by the service layer.
const (
	EventCreated  = "created"
	EventRemoved  = "removed"
	EventSwitched = "switched"
	EventSynced   = "synced"
	EventTagged   = "tagged"
)

// WorktreeUpdate lists the fields of a partial worktree update.
// The zero value changes nothing.
type WorktreeUpdate struct {
	BaseBranch   Optional[string]
	AdoptedAt    Optional[time.Time]
	LastAccessed Optional[time.Time]
	RemovedAt    Optional[time.Time]
	Managed      *bool
}

// Empty reports whether the update would leave every column unchanged.
func (u WorktreeUpdate) Empty() bool {
	return u.BaseBranch.Unchanged() &&
		u.AdoptedAt.Unchanged() &&
		u.LastAccessed.Unchanged() &&
		u.RemovedAt.Unchanged() &&
		u.Managed == nil
}
