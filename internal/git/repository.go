package git

import (
	"errors"
	"fmt"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"trench/internal/model"
	"trench/internal/trench"
)

// DefaultRemote is the only remote consulted for conflicts and base fallback.
const DefaultRemote = "origin"

// Adapter implements the VCS operations used by the service layer.
type Adapter struct {
	logger trench.Logger
}

// NewAdapter creates an Adapter. A nil logger discards output.
func NewAdapter(logger trench.Logger) *Adapter {
	if logger == nil {
		logger = trench.NewNopLogger()
	}
	return &Adapter{logger: logger}
}

// Discover walks upward from path to the enclosing repository and describes it.
func (a *Adapter) Discover(path string) (*model.RepoInfo, error) {
	repo, err := openRepository(path)
	if err != nil {
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no working directory to manage.
		return nil, &NotARepoError{Path: path}
	}
	root, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		return nil, &NotARepoError{Path: path}
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, &NotARepoError{Path: path}
	}

	info := &model.RepoInfo{
		Name:        filepath.Base(root),
		Path:        root,
		DefaultBase: headBranch(repo),
	}
	if remote, err := repo.Remote(DefaultRemote); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			info.RemoteURL = urls[0]
		}
	}
	return info, nil
}

// openRepository opens the repository enclosing path, linked worktrees included.
func openRepository(path string) (*gogit.Repository, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &NotARepoError{Path: path}
	}
	repo, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, &NotARepoError{Path: path}
		}
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}
	return repo, nil
}

// headBranch returns the branch HEAD points at, unborn branches included.
func headBranch(repo *gogit.Repository) string {
	ref, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "main"
	}
	if ref.Type() == plumbing.SymbolicReference && ref.Target().IsBranch() {
		return ref.Target().Short()
	}
	return "main"
}

// lookupRef returns the named reference, or nil when it does not exist.
func lookupRef(repo *gogit.Repository, name plumbing.ReferenceName) (*plumbing.Reference, error) {
	ref, err := repo.Reference(name, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading reference %s: %w", name, err)
	}
	return ref, nil
}

// resolveBase finds the commit a new branch forks from: local branch first,
// then the origin remote-tracking branch.
func resolveBase(repo *gogit.Repository, base string) (plumbing.Hash, error) {
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(base),
		plumbing.NewRemoteReferenceName(DefaultRemote, base),
	} {
		ref, err := lookupRef(repo, name)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if ref != nil {
			return ref.Hash(), nil
		}
	}
	return plumbing.ZeroHash, &BaseBranchNotFoundError{Base: base}
}

// resolveUpstream picks the reference branch is compared against: its
// configured upstream, else override as a local branch, else origin/override.
// Returns nil when none of those exist.
func resolveUpstream(repo *gogit.Repository, branch string, override *string) (*plumbing.Reference, error) {
	var candidates []plumbing.ReferenceName

	cfg, err := repo.Config()
	if err != nil {
		return nil, fmt.Errorf("reading repository config: %w", err)
	}
	if b, ok := cfg.Branches[branch]; ok && b.Merge != "" {
		if b.Remote == "" || b.Remote == "." {
			candidates = append(candidates, b.Merge)
		} else {
			candidates = append(candidates, plumbing.NewRemoteReferenceName(b.Remote, b.Merge.Short()))
		}
	}
	if override != nil && *override != "" {
		candidates = append(candidates,
			plumbing.NewBranchReferenceName(*override),
			plumbing.NewRemoteReferenceName(DefaultRemote, *override),
		)
	}

	for _, name := range candidates {
		ref, err := lookupRef(repo, name)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			return ref, nil
		}
	}
	return nil, nil
}

// AheadBehind counts commits unique to branch and to its reference branch.
// Returns nil when the branch or a reference point cannot be found.
func (a *Adapter) AheadBehind(repoPath, branch string, baseOverride *string) (*model.AheadBehind, error) {
	repo, err := openRepository(repoPath)
	if err != nil {
		return nil, err
	}

	local, err := lookupRef(repo, plumbing.NewBranchReferenceName(branch))
	if err != nil || local == nil {
		return nil, err
	}
	upstream, err := resolveUpstream(repo, branch, baseOverride)
	if err != nil || upstream == nil {
		return nil, err
	}

	result := &model.AheadBehind{Upstream: upstream.Name().Short()}
	if local.Hash() == upstream.Hash() {
		return result, nil
	}

	localCommit, err := repo.CommitObject(local.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", local.Hash(), err)
	}
	upstreamCommit, err := repo.CommitObject(upstream.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", upstream.Hash(), err)
	}

	upstreamSeen, err := ancestors(upstreamCommit)
	if err != nil {
		return nil, err
	}
	if result.Ahead, err = countExcluding(localCommit, upstreamSeen); err != nil {
		return nil, err
	}
	localSeen, err := ancestors(localCommit)
	if err != nil {
		return nil, err
	}
	if result.Behind, err = countExcluding(upstreamCommit, localSeen); err != nil {
		return nil, err
	}
	return result, nil
}

// ancestors returns every commit reachable from c, c included.
func ancestors(c *object.Commit) (map[plumbing.Hash]bool, error) {
	seen := make(map[plumbing.Hash]bool)
	err := object.NewCommitPreorderIter(c, nil, nil).ForEach(func(commit *object.Commit) error {
		seen[commit.Hash] = true
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, fmt.Errorf("walking history of %s: %w", c.Hash, err)
	}
	return seen, nil
}

// countExcluding counts commits reachable from c that are not in seen.
// The walk does not descend past commits in seen.
func countExcluding(c *object.Commit, seen map[plumbing.Hash]bool) (int, error) {
	count := 0
	err := object.NewCommitPreorderIter(c, seen, nil).ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return 0, fmt.Errorf("walking history of %s: %w", c.Hash, err)
	}
	return count, nil
}
