package main

import (
	"errors"

	"trench/internal/git"
	"trench/internal/trench"
)

// Process exit codes. A failing hook command exits with its own code.
const (
	exitGeneral    = 1
	exitNotFound   = 2
	exitConflict   = 3
	exitHookFailed = 4
	exitNotARepo   = 5
)

func exitCode(err error) int {
	var hookErr *trench.HookFailedError
	switch {
	case errors.As(err, &hookErr):
		if code := hookErr.ExitCode(); code > 0 {
			return code
		}
		return exitHookFailed
	case errors.Is(err, git.ErrNotARepo):
		return exitNotARepo
	case errors.Is(err, trench.ErrRepoNotTracked),
		errors.Is(err, trench.ErrWorktreeNotTracked),
		errors.Is(err, git.ErrBaseBranchNotFound),
		errors.Is(err, git.ErrWorktreeNotFound):
		return exitNotFound
	case errors.Is(err, git.ErrBranchExists),
		errors.Is(err, git.ErrRemoteBranchExists),
		errors.Is(err, trench.ErrPathRecorded):
		return exitConflict
	}
	return exitGeneral
}
