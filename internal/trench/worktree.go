package trench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trench/internal/hooks"
	"trench/internal/model"
	"trench/internal/paths"
)

// CreateRequest describes a worktree to create.
type CreateRequest struct {
	Cwd    string
	Branch string
	From   string // base branch; empty uses the configured or HEAD branch
	DryRun bool
}

// CreatePlan is what Create does, or would do on a dry run.
type CreatePlan struct {
	DryRun       bool          `json:"dry_run"`
	RepoName     string        `json:"repo_name"`
	RepoPath     string        `json:"repo_path"`
	Name         string        `json:"name"`
	Branch       string        `json:"branch"`
	BaseBranch   string        `json:"base_branch"`
	WorktreePath string        `json:"worktree_path"`
	Hooks        []hooks.Event `json:"hooks"`
}

// CreateResult is the outcome of Create. Worktree is nil on a dry run.
type CreateResult struct {
	Plan     *CreatePlan
	Worktree *model.Worktree
	Hooks    []*hooks.Result
}

// Create creates a branch and its worktree, records both and fires the
// create hooks. A failing pre_create hook cancels the operation. A failing
// post_create hook is returned along with the result; the worktree stays.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	branch := strings.TrimSpace(req.Branch)
	name := paths.SanitizeBranch(branch)
	if name == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBranch, req.Branch)
	}

	rc, err := s.resolveRepo(req.Cwd)
	if err != nil {
		return nil, err
	}

	root, err := s.worktreeRoot()
	if err != nil {
		return nil, err
	}
	path, err := paths.RenderWorktreePath(root, s.settings.WorktreeTemplate, rc.info.Name, branch)
	if err != nil {
		return nil, fmt.Errorf("rendering worktree path: %w", err)
	}

	base := req.From
	if base == "" {
		base = s.settings.DefaultBase
	}
	if base == "" {
		base = rc.info.DefaultBase
	}

	plan := &CreatePlan{
		DryRun:       req.DryRun,
		RepoName:     rc.info.Name,
		RepoPath:     rc.info.Path,
		Name:         name,
		Branch:       branch,
		BaseBranch:   base,
		WorktreePath: path,
	}
	for _, event := range []hooks.Event{hooks.PreCreate, hooks.PostCreate} {
		if s.settings.Hooks.For(event) != nil {
			plan.Hooks = append(plan.Hooks, event)
		}
	}
	result := &CreateResult{Plan: plan}
	if req.DryRun {
		return result, nil
	}

	recorded, err := s.store.GetWorktreeByPath(path)
	if err != nil {
		return nil, fmt.Errorf("checking worktree path: %w", err)
	}
	if recorded != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathRecorded, path)
	}

	// Local branch conflicts are refused before pre_create runs.
	if err := s.vcs.CheckBranchAvailable(rc.info.Path, branch); err != nil {
		return nil, err
	}

	env := hooks.Env{
		WorktreePath: path,
		WorktreeName: name,
		Branch:       branch,
		RepoName:     rc.info.Name,
		RepoPath:     rc.info.Path,
		BaseBranch:   base,
	}

	// The worktree does not exist yet, so pre_create runs in the repo root.
	hookResult, err := s.fireHook(ctx, hooks.PreCreate, rc.info.Path, rc.info.Path, env)
	if hookResult != nil {
		result.Hooks = append(result.Hooks, hookResult)
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating worktree parent directory: %w", err)
	}
	if err := s.vcs.CreateWorktree(ctx, rc.info.Path, branch, base, path); err != nil {
		return nil, err
	}
	s.logger.Info("worktree created", "branch", branch, "base", base, "path", path)

	repo := rc.repo
	if repo == nil {
		repo, err = s.store.InsertRepo(rc.info.Name, rc.info.Path, rc.info.DefaultBase)
		if err != nil {
			return nil, s.undoCreate(ctx, rc.info.Path, branch, path, fmt.Errorf("recording repo: %w", err))
		}
	}

	wt, err := s.store.InsertWorktree(repo.ID, name, branch, path, &base)
	if err != nil {
		return nil, s.undoCreate(ctx, rc.info.Path, branch, path, fmt.Errorf("recording worktree: %w", err))
	}
	result.Worktree = wt

	if err := s.recordEvent(repo.ID, &wt.ID, model.EventCreated, map[string]any{
		"branch": branch,
		"base":   base,
		"path":   path,
	}); err != nil {
		return result, err
	}

	hookResult, err = s.fireHook(ctx, hooks.PostCreate, rc.info.Path, path, env)
	if hookResult != nil {
		result.Hooks = append(result.Hooks, hookResult)
	}
	return result, err
}

// undoCreate removes a worktree and its branch that could not be recorded,
// so a failed Create leaves nothing unrecorded behind. It returns cause,
// joined with any cleanup failure.
func (s *Service) undoCreate(ctx context.Context, repoPath, branch, path string, cause error) error {
	s.logger.Warn("rolling back unrecorded worktree", "path", path, "error", cause)
	if err := s.vcs.RemoveWorktree(ctx, repoPath, path); err != nil {
		return errors.Join(cause, fmt.Errorf("rolling back worktree %s: %w", path, err))
	}
	if err := s.vcs.DeleteBranch(repoPath, branch); err != nil {
		return errors.Join(cause, fmt.Errorf("rolling back branch %s: %w", branch, err))
	}
	return cause
}

// RemoveRequest describes a worktree to remove.
type RemoveRequest struct {
	Cwd        string
	Identifier string

	// PruneRemote deletes the branch on origin. Nil uses git.auto_prune.
	PruneRemote *bool
}

// RemoveResult is the outcome of Remove.
type RemoveResult struct {
	Worktree      *model.Worktree
	RemoteDeleted bool
	PruneError    error // set when the remote branch could not be deleted
	Hooks         []*hooks.Result
}

// Remove deletes a managed worktree from disk and marks its record removed.
// The local branch is kept. A failing pre_remove hook cancels the operation.
func (s *Service) Remove(ctx context.Context, req RemoveRequest) (*RemoveResult, error) {
	rc, err := s.requireRepo(req.Cwd)
	if err != nil {
		return nil, err
	}
	wt, err := s.findWorktree(rc.repo.ID, req.Identifier)
	if err != nil {
		return nil, err
	}

	result := &RemoveResult{Worktree: wt}
	env := hookEnv(rc.info, wt)
	onDisk := exists(wt.Path)

	workDir := wt.Path
	if !onDisk {
		workDir = rc.info.Path
	}
	hookResult, err := s.fireHook(ctx, hooks.PreRemove, rc.info.Path, workDir, env)
	if hookResult != nil {
		result.Hooks = append(result.Hooks, hookResult)
	}
	if err != nil {
		return nil, err
	}

	if onDisk {
		if err := s.vcs.RemoveWorktree(ctx, rc.info.Path, wt.Path); err != nil {
			return nil, err
		}
	} else {
		s.logger.Warn("worktree directory already gone", "path", wt.Path)
	}

	if err := s.store.UpdateWorktree(wt.ID, model.WorktreeUpdate{
		RemovedAt: model.SetValue(s.clock.Now()),
	}); err != nil {
		return nil, fmt.Errorf("marking worktree removed: %w", err)
	}
	if updated, err := s.store.GetWorktree(wt.ID); err == nil && updated != nil {
		result.Worktree = updated
	}
	s.logger.Info("worktree removed", "name", wt.Name, "path", wt.Path)

	prune := s.settings.AutoPrune
	if req.PruneRemote != nil {
		prune = *req.PruneRemote
	}
	if prune {
		if rc.info.RemoteURL == "" {
			s.logger.Warn("no origin remote; skipping remote branch deletion", "branch", wt.Branch)
		} else if err := s.vcs.DeleteRemoteBranch(ctx, rc.info.Path, wt.Branch); err != nil {
			s.logger.Warn("remote branch not deleted", "branch", wt.Branch, "error", err)
			result.PruneError = err
		} else {
			result.RemoteDeleted = true
		}
	}

	if err := s.recordEvent(rc.repo.ID, &wt.ID, model.EventRemoved, map[string]any{
		"path":           wt.Path,
		"remote_deleted": result.RemoteDeleted,
	}); err != nil {
		return result, err
	}

	// The worktree is gone, so post_remove runs in the repo root.
	hookResult, err = s.fireHook(ctx, hooks.PostRemove, rc.info.Path, rc.info.Path, env)
	if hookResult != nil {
		result.Hooks = append(result.Hooks, hookResult)
	}
	return result, err
}

// Switch marks a worktree as the current one and returns it.
func (s *Service) Switch(ctx context.Context, cwd, identifier string) (*model.Worktree, error) {
	rc, err := s.requireRepo(cwd)
	if err != nil {
		return nil, err
	}
	wt, err := s.findWorktree(rc.repo.ID, identifier)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateWorktree(wt.ID, model.WorktreeUpdate{
		LastAccessed: model.SetValue(s.clock.Now()),
	}); err != nil {
		return nil, fmt.Errorf("touching worktree: %w", err)
	}
	if err := s.store.SetSession(SessionCurrentWorktree, wt.Name); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	if err := s.recordEvent(rc.repo.ID, &wt.ID, model.EventSwitched, nil); err != nil {
		return nil, err
	}

	updated, err := s.store.GetWorktree(wt.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading worktree: %w", err)
	}
	s.logger.Debug("switched worktree", "name", wt.Name)
	return updated, nil
}

// SyncResult is the outcome of Sync.
type SyncResult struct {
	Worktree *model.Worktree
	Upstream string // reference the branch was fast-forwarded to
	Hooks    []*hooks.Result
}

// Sync fetches from origin and fast-forwards a worktree's branch to its
// upstream, wrapped in the sync hooks.
func (s *Service) Sync(ctx context.Context, cwd, identifier string) (*SyncResult, error) {
	rc, err := s.requireRepo(cwd)
	if err != nil {
		return nil, err
	}
	wt, err := s.findWorktree(rc.repo.ID, identifier)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Worktree: wt}
	env := hookEnv(rc.info, wt)

	hookResult, err := s.fireHook(ctx, hooks.PreSync, rc.info.Path, wt.Path, env)
	if hookResult != nil {
		result.Hooks = append(result.Hooks, hookResult)
	}
	if err != nil {
		return nil, err
	}

	if rc.info.RemoteURL != "" {
		if err := s.vcs.Fetch(ctx, rc.info.Path); err != nil {
			return nil, err
		}
	}
	upstream, err := s.vcs.FastForward(ctx, rc.info.Path, wt.Path, wt.Branch, wt.BaseBranch)
	if err != nil {
		return nil, err
	}
	result.Upstream = upstream
	s.logger.Info("worktree synced", "name", wt.Name, "upstream", upstream)

	if err := s.recordEvent(rc.repo.ID, &wt.ID, model.EventSynced, map[string]any{
		"upstream": upstream,
	}); err != nil {
		return result, err
	}

	hookResult, err = s.fireHook(ctx, hooks.PostSync, rc.info.Path, wt.Path, env)
	if hookResult != nil {
		result.Hooks = append(result.Hooks, hookResult)
	}
	return result, err
}
