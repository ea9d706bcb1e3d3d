package trench

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"trench/internal/model"
)

// Entry is one worktree as shown by list and status: a managed record or a
// worktree the VCS knows about that trench did not create.
type Entry struct {
	ID           int64      `json:"id,omitempty"`
	Name         string     `json:"name"`
	Branch       string     `json:"branch"`
	Path         string     `json:"path"`
	BaseBranch   *string    `json:"base_branch,omitempty"`
	Managed      bool       `json:"managed"`
	IsMain       bool       `json:"is_main,omitempty"`
	Current      bool       `json:"current,omitempty"`
	Missing      bool       `json:"missing,omitempty"` // recorded but gone from disk
	Tags         []string   `json:"tags"`
	Ahead        *int       `json:"ahead,omitempty"`
	Behind       *int       `json:"behind,omitempty"`
	Upstream     string     `json:"upstream,omitempty"`
	Dirty        *int       `json:"dirty,omitempty"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
}

// ListOptions filters List.
type ListOptions struct {
	Tag string // only managed worktrees carrying this tag
}

// List returns the managed worktrees of the repository enclosing cwd followed
// by the unmanaged worktrees the VCS reports. Unmanaged entries are never
// recorded.
func (s *Service) List(ctx context.Context, cwd string, opts ListOptions) ([]*Entry, error) {
	rc, err := s.resolveRepo(cwd)
	if err != nil {
		return nil, err
	}

	var managed []*model.Worktree
	if rc.repo != nil {
		managed, err = s.store.ListWorktrees(rc.repo.ID)
		if err != nil {
			return nil, fmt.Errorf("listing worktrees: %w", err)
		}
	}

	current := s.currentName()
	entries := make([]*Entry, 0, len(managed))
	managedPaths := make(map[string]bool, len(managed))
	for _, wt := range managed {
		entry, err := s.managedEntry(wt)
		if err != nil {
			return nil, err
		}
		if opts.Tag != "" && !slices.Contains(entry.Tags, opts.Tag) {
			continue
		}
		entry.Current = entry.Name == current
		s.annotate(ctx, rc.info.Path, entry)
		entries = append(entries, entry)
		managedPaths[canonical(wt.Path)] = true
	}
	if opts.Tag != "" {
		return entries, nil
	}

	discovered, err := s.vcs.ListWorktrees(ctx, rc.info.Path)
	if err != nil {
		// Listing still works from the store alone.
		s.logger.Warn("listing VCS worktrees failed", "error", err)
		return entries, nil
	}
	for _, dw := range discovered {
		if managedPaths[canonical(dw.Path)] {
			continue
		}
		entry := &Entry{
			Name:   dw.Name,
			Path:   dw.Path,
			IsMain: dw.IsMain,
			Tags:   []string{},
		}
		if dw.Branch != nil {
			entry.Branch = *dw.Branch
		}
		s.annotate(ctx, rc.info.Path, entry)
		entries = append(entries, entry)
	}
	return entries, nil
}

// Status returns the annotated entry for one managed worktree. An empty
// identifier means the managed worktree containing cwd.
func (s *Service) Status(ctx context.Context, cwd, identifier string) (*Entry, error) {
	rc, err := s.requireRepo(cwd)
	if err != nil {
		return nil, err
	}

	var wt *model.Worktree
	switch {
	case identifier != "":
		wt, err = s.findWorktree(rc.repo.ID, identifier)
		if err != nil {
			return nil, err
		}
	case rc.current != nil:
		wt = rc.current
	default:
		return nil, fmt.Errorf("%w: %s is not inside a managed worktree", ErrWorktreeNotTracked, cwd)
	}

	entry, err := s.managedEntry(wt)
	if err != nil {
		return nil, err
	}
	entry.Current = entry.Name == s.currentName()
	s.annotate(ctx, rc.info.Path, entry)
	return entry, nil
}

func (s *Service) managedEntry(wt *model.Worktree) (*Entry, error) {
	tags, err := s.store.ListTags(wt.ID)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	createdAt := wt.CreatedAt
	return &Entry{
		ID:           wt.ID,
		Name:         wt.Name,
		Branch:       wt.Branch,
		Path:         wt.Path,
		BaseBranch:   wt.BaseBranch,
		Managed:      wt.Managed,
		Missing:      !exists(wt.Path),
		Tags:         tags,
		LastAccessed: wt.LastAccessed,
		CreatedAt:    &createdAt,
	}, nil
}

// annotate fills in ahead/behind and dirty counts. Failures leave the fields
// unset; they never fail the listing.
func (s *Service) annotate(ctx context.Context, repoPath string, e *Entry) {
	if e.Missing {
		return
	}
	if s.settings.ShowAheadBehind && e.Branch != "" {
		ab, err := s.vcs.AheadBehind(repoPath, e.Branch, e.BaseBranch)
		if err != nil {
			s.logger.Debug("ahead/behind unavailable", "branch", e.Branch, "error", err)
		} else if ab != nil {
			e.Ahead, e.Behind, e.Upstream = &ab.Ahead, &ab.Behind, ab.Upstream
		}
	}
	if s.settings.ShowDirtyCount {
		n, err := s.vcs.DirtyCount(ctx, e.Path)
		if err != nil {
			s.logger.Debug("dirty count unavailable", "path", e.Path, "error", err)
		} else {
			e.Dirty = &n
		}
	}
}

// currentName returns the session's current worktree, or "".
func (s *Service) currentName() string {
	name, ok, err := s.store.GetSession(SessionCurrentWorktree)
	if err != nil || !ok {
		return ""
	}
	return name
}

func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}
