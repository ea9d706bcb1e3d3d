package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrConfigExists is returned by Init when the project file is already present.
var ErrConfigExists = errors.New(".trench.toml already exists (use --force to overwrite)")

// Scaffold is the commented project file written by Init.
const Scaffold = `# trench project configuration
# Uncomment and modify the sections you need.
# This file is intended to be committed to version control.
#
# Precedence: CLI flags > .trench.toml > ~/.config/trench/config.toml > defaults

# [ui]
# theme = "default"
# date_format = "2006-01-02 15:04"
# show_ahead_behind = true
# show_dirty_count = true

# [git]
# default_base = "main"   # base branch for new worktrees
# auto_prune = false      # delete the remote branch when a worktree is removed
# fetch_on_open = true

# [worktrees]
# root = "~/.worktrees"
# template = "{{ repo }}/{{ branch | sanitize }}"
# scan = []

# Hooks run at six lifecycle events: pre_create, post_create, pre_sync,
# post_sync, pre_remove, post_remove.
#
#   copy         glob patterns copied from the repo root (prefix ! to exclude)
#   run          commands executed in order
#   shell        an inline script
#   timeout_secs budget for run + shell combined (default 120)
#
# Steps run copy, run, shell; the first failure stops the hook.
# A failing pre_* hook cancels the operation.
# Hooks in this file replace global hooks entirely.

# [hooks.post_create]
# copy = [".env*", "!.env.example"]
# run = ["npm install"]
# timeout_secs = 300

# [hooks.pre_remove]
# shell = "pkill -f 'next dev' || true"
`

// Init writes the scaffold to repoRoot/.trench.toml and returns its path.
// An existing file is only replaced when force is set.
func Init(repoRoot string, force bool) (string, error) {
	path := filepath.Join(repoRoot, ProjectFileName)

	if _, err := os.Stat(path); err == nil && !force {
		return "", ErrConfigExists
	}

	if err := os.WriteFile(path, []byte(Scaffold), 0644); err != nil {
		return "", fmt.Errorf("initializing config: %w", err)
	}
	return path, nil
}
