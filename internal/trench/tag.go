package trench

import (
	"context"
	"fmt"
	"strings"

	"trench/internal/model"
)

// TagOp adds or removes one tag.
type TagOp struct {
	Name   string
	Remove bool
}

// ParseTagArgs parses "+name" (add) and "-name" (remove) arguments.
func ParseTagArgs(args []string) ([]TagOp, error) {
	ops := make([]TagOp, 0, len(args))
	for _, arg := range args {
		var op TagOp
		switch {
		case strings.HasPrefix(arg, "+"):
			op.Name = arg[1:]
		case strings.HasPrefix(arg, "-"):
			op.Name, op.Remove = arg[1:], true
		default:
			return nil, fmt.Errorf("invalid tag argument %q: must start with '+' (add) or '-' (remove)", arg)
		}
		if strings.TrimSpace(op.Name) == "" {
			return nil, fmt.Errorf("tag name cannot be empty: %q", arg)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Tag applies ops to a worktree and returns its tags afterwards. With no ops
// it only reports the current tags.
func (s *Service) Tag(ctx context.Context, cwd, identifier string, ops []TagOp) (*model.Worktree, []string, error) {
	rc, err := s.requireRepo(cwd)
	if err != nil {
		return nil, nil, err
	}
	wt, err := s.findWorktree(rc.repo.ID, identifier)
	if err != nil {
		return nil, nil, err
	}

	var added, removed []string
	for _, op := range ops {
		if op.Remove {
			if err := s.store.RemoveTag(wt.ID, op.Name); err != nil {
				return nil, nil, fmt.Errorf("removing tag %s: %w", op.Name, err)
			}
			removed = append(removed, op.Name)
			continue
		}
		if err := s.store.AddTag(wt.ID, op.Name); err != nil {
			return nil, nil, fmt.Errorf("adding tag %s: %w", op.Name, err)
		}
		added = append(added, op.Name)
	}

	if len(ops) > 0 {
		if err := s.recordEvent(rc.repo.ID, &wt.ID, model.EventTagged, map[string]any{
			"added":   added,
			"removed": removed,
		}); err != nil {
			return nil, nil, err
		}
	}

	tags, err := s.store.ListTags(wt.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing tags: %w", err)
	}
	return wt, tags, nil
}
