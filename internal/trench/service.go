package trench

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"

	"trench/internal/config"
	"trench/internal/hooks"
	"trench/internal/model"
	"trench/internal/paths"
)

var (
	// ErrRepoNotTracked is returned when the repository has no worktrees recorded.
	ErrRepoNotTracked = errors.New("repository not tracked by trench")

	// ErrWorktreeNotTracked is returned when no live worktree matches an identifier.
	ErrWorktreeNotTracked = errors.New("worktree not found")

	// ErrPathRecorded is returned when a new worktree would reuse a recorded path.
	ErrPathRecorded = errors.New("worktree path already recorded")

	// ErrInvalidBranch is returned for branch names that sanitize to nothing.
	ErrInvalidBranch = errors.New("invalid branch name")
)

// SessionCurrentWorktree is the session key holding the last switched-to worktree.
const SessionCurrentWorktree = "current_worktree"

// VCS is the version control operations the service needs.
type VCS interface {
	Discover(path string) (*model.RepoInfo, error)
	CheckBranchAvailable(repoPath, branch string) error
	CreateWorktree(ctx context.Context, repoPath, branch, base, targetPath string) error
	DeleteBranch(repoPath, branch string) error
	RemoveWorktree(ctx context.Context, repoPath, worktreePath string) error
	ListWorktrees(ctx context.Context, repoPath string) ([]model.WorktreeEntry, error)
	AheadBehind(repoPath, branch string, baseOverride *string) (*model.AheadBehind, error)
	DirtyCount(ctx context.Context, worktreePath string) (int, error)
	Fetch(ctx context.Context, repoPath string) error
	FastForward(ctx context.Context, repoPath, worktreePath, branch string, baseOverride *string) (string, error)
	DeleteRemoteBranch(ctx context.Context, repoPath, branch string) error
}

// HookRunner fires lifecycle hooks.
type HookRunner interface {
	Fire(ctx context.Context, inv hooks.Invocation) (*hooks.Result, error)
}

// HookFailedError reports a hook that stopped. For pre_* events the owning
// operation did not happen; for post_* events it did and was kept.
type HookFailedError struct {
	Event  hooks.Event
	Result *hooks.Result
	Err    error
}

func (e *HookFailedError) Error() string {
	return fmt.Sprintf("%s hook failed: %v", e.Event, e.Err)
}

func (e *HookFailedError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit code of the failing hook command, or 0 when the
// hook failed without one (copy errors, timeouts).
func (e *HookFailedError) ExitCode() int {
	var runErr *hooks.RunStepError
	if errors.As(e.Err, &runErr) && runErr.ExitCode > 0 {
		return runErr.ExitCode
	}
	return 0
}

// Service is the orchestration layer that sequences the VCS adapter, the
// store and the hook engine for each worktree operation.
type Service struct {
	store    Store
	vcs      VCS
	hooks    HookRunner
	settings *config.Settings
	logger   Logger
	clock    Clock
	opID     string
}

// NewService creates a Service. opID identifies the invocation in logs and
// in the payload of every event it records.
func NewService(store Store, vcs VCS, runner HookRunner, settings *config.Settings, logger Logger, clock Clock, opID string) *Service {
	if settings == nil {
		settings = config.Defaults()
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Service{
		store:    store,
		vcs:      vcs,
		hooks:    runner,
		settings: settings,
		logger:   logger,
		clock:    clock,
		opID:     opID,
	}
}

// repoContext is the repository an operation runs against.
type repoContext struct {
	info *model.RepoInfo
	repo *model.Repo // nil until the first worktree is created

	// current is the managed worktree containing cwd, if any.
	current *model.Worktree
}

// resolveRepo discovers the repository enclosing cwd. Running from inside a
// managed worktree resolves to the repository that owns it.
func (s *Service) resolveRepo(cwd string) (*repoContext, error) {
	info, err := s.vcs.Discover(cwd)
	if err != nil {
		return nil, err
	}

	repo, err := s.store.GetRepoByPath(info.Path)
	if err != nil {
		return nil, fmt.Errorf("looking up repo: %w", err)
	}
	if repo != nil {
		return &repoContext{info: info, repo: repo}, nil
	}

	wt, err := s.store.GetWorktreeByPath(info.Path)
	if err != nil {
		return nil, fmt.Errorf("looking up worktree: %w", err)
	}
	if wt == nil || wt.Removed() {
		return &repoContext{info: info}, nil
	}

	repo, err = s.store.GetRepo(wt.RepoID)
	if err != nil {
		return nil, fmt.Errorf("looking up repo: %w", err)
	}
	if repo == nil {
		return &repoContext{info: info}, nil
	}
	owner, err := s.vcs.Discover(repo.Path)
	if err != nil {
		return nil, err
	}
	return &repoContext{info: owner, repo: repo, current: wt}, nil
}

// requireRepo is resolveRepo for operations that need recorded state.
func (s *Service) requireRepo(cwd string) (*repoContext, error) {
	rc, err := s.resolveRepo(cwd)
	if err != nil {
		return nil, err
	}
	if rc.repo == nil {
		return nil, fmt.Errorf("%w: %s", ErrRepoNotTracked, rc.info.Path)
	}
	return rc, nil
}

// findWorktree matches identifier against names and branches, then retries
// with its sanitized form.
func (s *Service) findWorktree(repoID int64, identifier string) (*model.Worktree, error) {
	wt, err := s.store.FindWorktreeByIdentifier(repoID, identifier)
	if err != nil {
		return nil, fmt.Errorf("finding worktree: %w", err)
	}
	if wt == nil {
		if sanitized := paths.SanitizeBranch(identifier); sanitized != identifier && sanitized != "" {
			wt, err = s.store.FindWorktreeByIdentifier(repoID, sanitized)
			if err != nil {
				return nil, fmt.Errorf("finding worktree: %w", err)
			}
		}
	}
	if wt == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorktreeNotTracked, identifier)
	}
	return wt, nil
}

// recordEvent appends an event whose payload carries the operation id.
func (s *Service) recordEvent(repoID int64, worktreeID *int64, eventType string, extra map[string]any) error {
	payload := map[string]any{"op_id": s.opID}
	maps.Copy(payload, extra)
	if _, err := s.store.InsertEvent(repoID, worktreeID, eventType, payload); err != nil {
		return fmt.Errorf("recording %s event: %w", eventType, err)
	}
	return nil
}

// fireHook runs the hook configured for event, if any.
func (s *Service) fireHook(ctx context.Context, event hooks.Event, sourceDir, workDir string, env hooks.Env) (*hooks.Result, error) {
	def := s.settings.Hooks.For(event)
	if def == nil || s.hooks == nil {
		return nil, nil
	}

	s.logger.Info("running hook", "event", event, "cwd", workDir)
	result, err := s.hooks.Fire(ctx, hooks.Invocation{
		Event:      event,
		Definition: def,
		SourceDir:  sourceDir,
		WorkDir:    workDir,
		Env:        env,
	})
	if err != nil {
		s.logger.Error("hook failed", "event", event, "error", err)
		return result, &HookFailedError{Event: event, Result: result, Err: err}
	}
	return result, nil
}

func hookEnv(info *model.RepoInfo, wt *model.Worktree) hooks.Env {
	env := hooks.Env{
		WorktreePath: wt.Path,
		WorktreeName: wt.Name,
		Branch:       wt.Branch,
		RepoName:     info.Name,
		RepoPath:     info.Path,
	}
	if wt.BaseBranch != nil {
		env.BaseBranch = *wt.BaseBranch
	}
	return env
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// InitConfig writes the project configuration scaffold at the root of the
// repository enclosing cwd.
func (s *Service) InitConfig(cwd string, force bool) (string, error) {
	info, err := s.vcs.Discover(cwd)
	if err != nil {
		return "", err
	}
	path, err := config.Init(info.Path, force)
	if err != nil {
		return "", err
	}
	s.logger.Info("project config written", "path", path)
	return path, nil
}

// worktreeRoot returns the configured root with "~" expanded and symbolic
// links resolved, so recorded paths match what discovery reports.
func (s *Service) worktreeRoot() (string, error) {
	root, err := config.ExpandHome(s.settings.WorktreeRoot)
	if err != nil {
		return "", err
	}
	return paths.Canonical(root)
}
