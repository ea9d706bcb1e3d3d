package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"trench/internal/hooks"
)

// ProjectFileName is the per-repository configuration file at the repo root.
const ProjectFileName = ".trench.toml"

// DefaultTemplate renders a worktree path relative to the worktree root.
const DefaultTemplate = "{{ repo }}/{{ branch | sanitize }}"

// Config is one configuration layer as written on disk. Unset fields are nil
// so layers can be merged field by field.
type Config struct {
	UI        UIConfig        `toml:"ui"`
	Git       GitConfig       `toml:"git"`
	Worktrees WorktreesConfig `toml:"worktrees"`
	Hooks     *HooksConfig    `toml:"hooks,omitempty"`
}

// UIConfig holds display settings.
type UIConfig struct {
	Theme           *string `toml:"theme,omitempty"`
	DateFormat      *string `toml:"date_format,omitempty"`
	ShowAheadBehind *bool   `toml:"show_ahead_behind,omitempty"`
	ShowDirtyCount  *bool   `toml:"show_dirty_count,omitempty"`
}

// GitConfig holds branch and remote settings.
type GitConfig struct {
	DefaultBase *string `toml:"default_base,omitempty"`
	AutoPrune   *bool   `toml:"auto_prune,omitempty"` // delete the remote branch on remove
	FetchOnOpen *bool   `toml:"fetch_on_open,omitempty"`
}

// WorktreesConfig controls where worktrees are placed.
type WorktreesConfig struct {
	Root     *string  `toml:"root,omitempty"`
	Template *string  `toml:"template,omitempty"`
	Scan     []string `toml:"scan,omitempty"`
}

// HooksConfig maps lifecycle events to hook definitions.
type HooksConfig struct {
	PreCreate  *hooks.Definition `toml:"pre_create,omitempty"`
	PostCreate *hooks.Definition `toml:"post_create,omitempty"`
	PreSync    *hooks.Definition `toml:"pre_sync,omitempty"`
	PostSync   *hooks.Definition `toml:"post_sync,omitempty"`
	PreRemove  *hooks.Definition `toml:"pre_remove,omitempty"`
	PostRemove *hooks.Definition `toml:"post_remove,omitempty"`
}

// For returns the definition attached to event, or nil.
func (h *HooksConfig) For(event hooks.Event) *hooks.Definition {
	if h == nil {
		return nil
	}
	switch event {
	case hooks.PreCreate:
		return h.PreCreate
	case hooks.PostCreate:
		return h.PostCreate
	case hooks.PreSync:
		return h.PreSync
	case hooks.PostSync:
		return h.PostSync
	case hooks.PreRemove:
		return h.PreRemove
	case hooks.PostRemove:
		return h.PostRemove
	}
	return nil
}

// Settings is the fully resolved configuration used by one invocation.
type Settings struct {
	Theme           string
	DateFormat      string
	ShowAheadBehind bool
	ShowDirtyCount  bool

	DefaultBase string // empty means the repository's HEAD branch
	AutoPrune   bool
	FetchOnOpen bool

	WorktreeRoot     string
	WorktreeTemplate string
	Scan             []string

	Hooks *HooksConfig
}

// Defaults returns the settings used when no file sets a value.
func Defaults() *Settings {
	return &Settings{
		Theme:            "default",
		DateFormat:       "2006-01-02 15:04",
		ShowAheadBehind:  true,
		ShowDirtyCount:   true,
		FetchOnOpen:      true,
		WorktreeRoot:     "~/.worktrees",
		WorktreeTemplate: DefaultTemplate,
	}
}

// Resolve applies layers over the defaults in order, later layers winning.
// Scalars merge field by field; a layer that defines any hooks replaces the
// hooks of earlier layers entirely.
func Resolve(layers ...*Config) *Settings {
	s := Defaults()
	for _, c := range layers {
		if c == nil {
			continue
		}
		setString(&s.Theme, c.UI.Theme)
		setString(&s.DateFormat, c.UI.DateFormat)
		setBool(&s.ShowAheadBehind, c.UI.ShowAheadBehind)
		setBool(&s.ShowDirtyCount, c.UI.ShowDirtyCount)

		setString(&s.DefaultBase, c.Git.DefaultBase)
		setBool(&s.AutoPrune, c.Git.AutoPrune)
		setBool(&s.FetchOnOpen, c.Git.FetchOnOpen)

		setString(&s.WorktreeRoot, c.Worktrees.Root)
		setString(&s.WorktreeTemplate, c.Worktrees.Template)
		if c.Worktrees.Scan != nil {
			s.Scan = c.Worktrees.Scan
		}

		if c.Hooks != nil {
			s.Hooks = c.Hooks
		}
	}
	return s
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Decode reads one configuration layer.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return &cfg, nil
}

// ReadFromFile reads a configuration layer from path. A missing file yields
// an empty layer.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load resolves the global file and, when repoRoot is set, the project file.
func Load(globalPath, repoRoot string) (*Settings, error) {
	global, err := ReadFromFile(globalPath)
	if err != nil {
		return nil, err
	}
	if repoRoot == "" {
		return Resolve(global), nil
	}
	project, err := ReadFromFile(filepath.Join(repoRoot, ProjectFileName))
	if err != nil {
		return nil, err
	}
	return Resolve(global, project), nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
