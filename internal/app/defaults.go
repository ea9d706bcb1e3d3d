package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths. Each one is resolved from,
// in order:
//   - config_path: TRENCH_CONFIG_PATH, $XDG_CONFIG_HOME/trench/config.toml, ~/.config/trench/config.toml
//   - base_dir: TRENCH_HOME, $XDG_DATA_HOME/trench, ~/.local/share/trench
//
// The state database and the log directory live under base_dir.
func GetDefaults() (map[string]string, error) {
	configPath, err := resolvePath("TRENCH_CONFIG_PATH", "XDG_CONFIG_HOME",
		[]string{"trench", "config.toml"}, []string{".config", "trench", "config.toml"})
	if err != nil {
		return nil, err
	}

	baseDir, err := resolvePath("TRENCH_HOME", "XDG_DATA_HOME",
		[]string{"trench"}, []string{".local", "share", "trench"})
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// resolvePath returns the override variable when set, else xdgRel under the
// XDG base variable when set, else homeRel under the home directory.
func resolvePath(override, xdgVar string, xdgRel, homeRel []string) (string, error) {
	if path := os.Getenv(override); path != "" {
		return path, nil
	}
	if base := os.Getenv(xdgVar); base != "" && filepath.IsAbs(base) {
		return filepath.Join(append([]string{base}, xdgRel...)...), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, homeRel...)...), nil
}
