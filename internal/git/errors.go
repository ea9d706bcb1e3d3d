package git

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is matching against the typed errors below.
var (
	ErrNotARepo           = errors.New("not a git repository")
	ErrBranchExists       = errors.New("branch already exists")
	ErrRemoteBranchExists = errors.New("branch already exists on remote")
	ErrBaseBranchNotFound = errors.New("base branch not found")
	ErrWorktreeNotFound   = errors.New("worktree not found")
)

// NotARepoError is returned when no repository encloses a path.
type NotARepoError struct {
	Path string
}

func (e *NotARepoError) Error() string {
	return fmt.Sprintf("not a git repository: %s", e.Path)
}

func (e *NotARepoError) Is(target error) bool { return target == ErrNotARepo }

// BranchAlreadyExistsError is returned when the branch exists locally.
type BranchAlreadyExistsError struct {
	Branch string
}

func (e *BranchAlreadyExistsError) Error() string {
	return fmt.Sprintf("branch %q already exists", e.Branch)
}

func (e *BranchAlreadyExistsError) Is(target error) bool { return target == ErrBranchExists }

// RemoteBranchAlreadyExistsError is returned when the branch exists only as a
// remote-tracking branch.
type RemoteBranchAlreadyExistsError struct {
	Branch string
	Remote string
}

func (e *RemoteBranchAlreadyExistsError) Error() string {
	return fmt.Sprintf("branch %q already exists on remote %q", e.Branch, e.Remote)
}

func (e *RemoteBranchAlreadyExistsError) Is(target error) bool {
	return target == ErrRemoteBranchExists
}

// BaseBranchNotFoundError is returned when the base resolves neither locally
// nor on origin.
type BaseBranchNotFoundError struct {
	Base string
}

func (e *BaseBranchNotFoundError) Error() string {
	return fmt.Sprintf("base branch %q not found locally or on origin", e.Base)
}

func (e *BaseBranchNotFoundError) Is(target error) bool { return target == ErrBaseBranchNotFound }

// WorktreeNotFoundError is returned when a worktree directory is missing.
type WorktreeNotFoundError struct {
	Name string
}

func (e *WorktreeNotFoundError) Error() string {
	return fmt.Sprintf("worktree %q not found", e.Name)
}

func (e *WorktreeNotFoundError) Is(target error) bool { return target == ErrWorktreeNotFound }

// CommandError represents a failed git CLI invocation.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s failed", strings.Join(e.Args, " "))
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
