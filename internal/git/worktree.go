package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"trench/internal/model"
)

// ErrNoUpstream is returned by FastForward when the branch has no reference
// branch to move to.
var ErrNoUpstream = errors.New("no upstream to sync from")

// CreateWorktree creates branch from base and checks it out at targetPath.
//
// A local branch collision is rejected before anything else runs. Remote
// refs are then refreshed best-effort, and a collision with origin/<branch>
// is rejected. If adding the worktree fails after the branch was created,
// the branch is deleted again before the error is returned.
func (a *Adapter) CreateWorktree(ctx context.Context, repoPath, branch, base, targetPath string) error {
	repo, err := openRepository(repoPath)
	if err != nil {
		return err
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	existing, err := lookupRef(repo, branchRef)
	if err != nil {
		return err
	}
	if existing != nil {
		return &BranchAlreadyExistsError{Branch: branch}
	}

	if hasRemote(repo, DefaultRemote) {
		if err := a.Fetch(ctx, repoPath); err != nil {
			a.logger.Debug("fetch failed, using cached remote refs", "repo", repoPath, "error", err)
		}
	}

	remoteRef, err := lookupRef(repo, plumbing.NewRemoteReferenceName(DefaultRemote, branch))
	if err != nil {
		return err
	}
	if remoteRef != nil {
		return &RemoteBranchAlreadyExistsError{Branch: branch, Remote: DefaultRemote}
	}

	baseHash, err := resolveBase(repo, base)
	if err != nil {
		return err
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, baseHash)); err != nil {
		return fmt.Errorf("creating branch %s: %w", branch, err)
	}
	a.logger.Debug("created branch", "branch", branch, "base", base, "commit", baseHash.String())

	runner := NewCommandRunner(repoPath)
	if _, err := runner.Run(ctx, "worktree", "add", targetPath, branch); err != nil {
		if rmErr := repo.Storer.RemoveReference(branchRef); rmErr != nil {
			a.logger.Error("failed to delete orphaned branch", "branch", branch, "error", rmErr)
			return fmt.Errorf("adding worktree at %s: %w (orphaned branch %s could not be deleted: %v)",
				targetPath, err, branch, rmErr)
		}
		a.logger.Debug("deleted orphaned branch after failed worktree add", "branch", branch)
		return fmt.Errorf("adding worktree at %s: %w", targetPath, err)
	}
	return nil
}

// RemoveWorktree deletes the worktree directory and prunes the repository's
// bookkeeping for it. The branch is left in place.
func (a *Adapter) RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error {
	if _, err := os.Stat(worktreePath); err != nil {
		if os.IsNotExist(err) {
			return &WorktreeNotFoundError{Name: filepath.Base(worktreePath)}
		}
		return fmt.Errorf("checking worktree path: %w", err)
	}

	if err := os.RemoveAll(worktreePath); err != nil {
		return fmt.Errorf("deleting worktree directory %s: %w", worktreePath, err)
	}

	if _, err := NewCommandRunner(repoPath).Run(ctx, "worktree", "prune"); err != nil {
		return fmt.Errorf("pruning worktree metadata: %w", err)
	}
	return nil
}

// ListWorktrees returns the main working directory followed by every linked
// worktree the repository knows about.
func (a *Adapter) ListWorktrees(ctx context.Context, repoPath string) ([]model.WorktreeEntry, error) {
	out, err := NewCommandRunner(repoPath).run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}
	return parseWorktreeList(out), nil
}

// parseWorktreeList parses `git worktree list --porcelain` output. Blocks are
// separated by blank lines; the first block is the main working directory.
func parseWorktreeList(output string) []model.WorktreeEntry {
	var (
		entries []model.WorktreeEntry
		current *model.WorktreeEntry
		bare    bool
	)
	flush := func() {
		if current != nil && !bare {
			current.IsMain = len(entries) == 0
			entries = append(entries, *current)
		}
		current, bare = nil, false
	}

	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			flush()
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "worktree":
			flush()
			current = &model.WorktreeEntry{Path: value, Name: filepath.Base(value)}
		case "branch":
			if current != nil {
				short := plumbing.ReferenceName(value).Short()
				current.Branch = &short
			}
		case "bare":
			bare = true
		}
	}
	flush()
	return entries
}

// DirtyCount counts modified, added, deleted, renamed and untracked paths in
// the worktree. Untracked directories are counted file by file.
func (a *Adapter) DirtyCount(ctx context.Context, worktreePath string) (int, error) {
	lines, err := NewCommandRunner(worktreePath).Lines(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return 0, fmt.Errorf("reading status of %s: %w", worktreePath, err)
	}
	return len(lines), nil
}

// Fetch refreshes remote-tracking refs from origin, pruning deleted branches.
func (a *Adapter) Fetch(ctx context.Context, repoPath string) error {
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	if _, err := NewCommandRunner(repoPath).Run(ctx, "fetch", "--prune", DefaultRemote); err != nil {
		return fmt.Errorf("fetching %s: %w", DefaultRemote, err)
	}
	return nil
}

// FastForward moves the branch checked out at worktreePath to its reference
// branch, refusing anything but a fast-forward. Returns the reference's short
// name.
func (a *Adapter) FastForward(ctx context.Context, repoPath, worktreePath, branch string, baseOverride *string) (string, error) {
	repo, err := openRepository(repoPath)
	if err != nil {
		return "", err
	}
	upstream, err := resolveUpstream(repo, branch, baseOverride)
	if err != nil {
		return "", err
	}
	if upstream == nil {
		return "", ErrNoUpstream
	}

	if _, err := NewCommandRunner(worktreePath).Run(ctx, "merge", "--ff-only", upstream.Name().String()); err != nil {
		return "", fmt.Errorf("fast-forwarding %s to %s: %w", branch, upstream.Name().Short(), err)
	}
	return upstream.Name().Short(), nil
}

// CheckBranchAvailable fails with *BranchAlreadyExistsError when branch
// already exists locally. It reads refs only and never fetches.
func (a *Adapter) CheckBranchAvailable(repoPath, branch string) error {
	repo, err := openRepository(repoPath)
	if err != nil {
		return err
	}
	existing, err := lookupRef(repo, plumbing.NewBranchReferenceName(branch))
	if err != nil {
		return err
	}
	if existing != nil {
		return &BranchAlreadyExistsError{Branch: branch}
	}
	return nil
}

// DeleteBranch deletes a local branch ref. Deleting a missing branch is a no-op.
func (a *Adapter) DeleteBranch(repoPath, branch string) error {
	repo, err := openRepository(repoPath)
	if err != nil {
		return err
	}
	if err := repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(branch)); err != nil {
		return fmt.Errorf("deleting branch %s: %w", branch, err)
	}
	a.logger.Debug("deleted branch", "branch", branch)
	return nil
}

// DeleteRemoteBranch deletes branch on origin.
func (a *Adapter) DeleteRemoteBranch(ctx context.Context, repoPath, branch string) error {
	if _, err := NewCommandRunner(repoPath).Run(ctx, "push", DefaultRemote, "--delete", branch); err != nil {
		return fmt.Errorf("deleting remote branch %s: %w", branch, err)
	}
	return nil
}

func hasRemote(repo *gogit.Repository, name string) bool {
	_, err := repo.Remote(name)
	return err == nil
}
