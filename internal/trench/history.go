package trench

import (
	"context"
	"fmt"

	"trench/internal/model"
)

// DefaultLogLimit is the number of events Log returns when no limit is given.
const DefaultLogLimit = 20

// LogEntry is an event with the name of the worktree it concerns.
type LogEntry struct {
	Event        *model.Event
	WorktreeName string // empty for repo-level events
}

// Log returns the most recent events of the repository enclosing cwd,
// newest first. An untracked repository has no history.
func (s *Service) Log(ctx context.Context, cwd string, limit int) ([]*LogEntry, error) {
	rc, err := s.resolveRepo(cwd)
	if err != nil {
		return nil, err
	}
	if rc.repo == nil {
		return []*LogEntry{}, nil
	}
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	events, err := s.store.ListEvents(rc.repo.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	names := make(map[int64]string)
	entries := make([]*LogEntry, 0, len(events))
	for _, ev := range events {
		entry := &LogEntry{Event: ev}
		if ev.WorktreeID != nil {
			name, ok := names[*ev.WorktreeID]
			if !ok {
				wt, err := s.store.GetWorktree(*ev.WorktreeID)
				if err != nil {
					return nil, fmt.Errorf("looking up worktree: %w", err)
				}
				if wt != nil {
					name = wt.Name
				}
				names[*ev.WorktreeID] = name
			}
			entry.WorktreeName = name
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
