package main

import (
	"errors"
	"fmt"
	"testing"

	"trench/internal/git"
	"trench/internal/hooks"
	"trench/internal/trench"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "generic", err: errors.New("boom"), want: exitGeneral},
		{name: "not a repo", err: &git.NotARepoError{Path: "/tmp"}, want: exitNotARepo},
		{name: "worktree not tracked", err: fmt.Errorf("looking up: %w", trench.ErrWorktreeNotTracked), want: exitNotFound},
		{name: "repo not tracked", err: trench.ErrRepoNotTracked, want: exitNotFound},
		{name: "base branch missing", err: &git.BaseBranchNotFoundError{Base: "develop"}, want: exitNotFound},
		{name: "branch exists", err: &git.BranchAlreadyExistsError{Branch: "feature"}, want: exitConflict},
		{name: "remote branch exists", err: &git.RemoteBranchAlreadyExistsError{Branch: "feature", Remote: "origin"}, want: exitConflict},
		{name: "path recorded", err: trench.ErrPathRecorded, want: exitConflict},
		{
			name: "hook command exit code",
			err: &trench.HookFailedError{
				Event: hooks.PreCreate,
				Err:   &hooks.StepError{Event: hooks.PreCreate, Step: hooks.StepRun, Err: &hooks.RunStepError{Command: "exit 7", ExitCode: 7}},
			},
			want: 7,
		},
		{
			name: "hook without exit code",
			err:  &trench.HookFailedError{Event: hooks.PostCreate, Err: hooks.ErrHookTimeout},
			want: exitHookFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
