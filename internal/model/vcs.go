package model

// RepoInfo describes a discovered repository.
type RepoInfo struct {
	Name        string
	Path        string // canonical worktree root
	RemoteURL   string // origin URL, empty when there is no origin
	DefaultBase string // HEAD branch at discovery time
}

// WorktreeEntry is one working directory known to the VCS, managed or not.
type WorktreeEntry struct {
	Name   string
	Path   string
	Branch *string // nil when detached or unreadable
	IsMain bool
}

// AheadBehind holds commit counts relative to a reference branch.
type AheadBehind struct {
	Ahead    int
	Behind   int
	Upstream string // short name of the reference the counts are against
}
