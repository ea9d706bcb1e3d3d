// Package git is the VCS adapter: repository discovery, worktree add and
// teardown, branch resolution and per-worktree state queries.
//
// Ref and commit-graph reads go through go-git. Operations go-git does not
// cover faithfully (worktree administration, fetch with prune, porcelain
// status, fast-forward merge, remote branch deletion) shell out to git.
package git

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds any git invocation whose context has no deadline.
const DefaultCommandTimeout = 5 * time.Minute

// FetchTimeout bounds the best-effort fetch before branch creation.
const FetchTimeout = 30 * time.Second

// CommandRunner executes git commands against one directory.
type CommandRunner struct {
	dir string
}

// NewCommandRunner creates a CommandRunner that passes dir to git via -C.
func NewCommandRunner(dir string) *CommandRunner {
	return &CommandRunner{dir: dir}
}

// Run executes git with args and returns trimmed stdout.
func (r *CommandRunner) Run(ctx context.Context, args ...string) (string, error) {
	out, err := r.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Lines executes git with args and returns stdout split into non-empty lines.
func (r *CommandRunner) Lines(ctx context.Context, args ...string) ([]string, error) {
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (r *CommandRunner) run(ctx context.Context, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCommandTimeout)
		defer cancel()
	}

	fullArgs := args
	if r.dir != "" {
		fullArgs = append([]string{"-C", r.dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return "", &CommandError{Args: args, Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}
