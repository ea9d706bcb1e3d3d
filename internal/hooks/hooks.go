// Package hooks executes user-configured lifecycle automation: a copy step,
// a list of shell commands and an inline script, in that order.
package hooks

import (
	"fmt"
	"os"
)

// Event names a lifecycle point a hook can be attached to.
type Event string

const (
	PreCreate  Event = "pre_create"
	PostCreate Event = "post_create"
	PreSync    Event = "pre_sync"
	PostSync   Event = "post_sync"
	PreRemove  Event = "pre_remove"
	PostRemove Event = "post_remove"
)

// Events lists every lifecycle event in firing order.
var Events = []Event{PreCreate, PostCreate, PreSync, PostSync, PreRemove, PostRemove}

// ParseEvent converts a configuration key into an Event.
func ParseEvent(s string) (Event, error) {
	for _, e := range Events {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown hook event %q", s)
}

// IsPre reports whether a failure of this hook cancels the operation.
func (e Event) IsPre() bool {
	switch e {
	case PreCreate, PreSync, PreRemove:
		return true
	}
	return false
}

func (e Event) String() string { return string(e) }

// Env is the operation context exposed to hook processes.
type Env struct {
	WorktreePath string
	WorktreeName string
	Branch       string
	RepoName     string
	RepoPath     string
	BaseBranch   string
}

// Vars returns the TRENCH_* variables for event.
func (e Env) Vars(event Event) []string {
	return []string{
		"TRENCH_WORKTREE_PATH=" + e.WorktreePath,
		"TRENCH_WORKTREE_NAME=" + e.WorktreeName,
		"TRENCH_BRANCH=" + e.Branch,
		"TRENCH_REPO_NAME=" + e.RepoName,
		"TRENCH_REPO_PATH=" + e.RepoPath,
		"TRENCH_BASE_BRANCH=" + e.BaseBranch,
		"TRENCH_EVENT=" + event.String(),
	}
}

// Environ returns the invoking process environment with the TRENCH_*
// variables appended. Later entries win, so they shadow inherited values.
func (e Env) Environ(event Event) []string {
	return append(os.Environ(), e.Vars(event)...)
}
