package hooks

import (
	"fmt"

	"trench/internal/fs"
)

// CopyResult lists the files a copy step copied.
type CopyResult struct {
	Copied []fs.CopiedFile
}

// Copy copies files under sourceDir matching patterns into destDir.
// Patterns prefixed with '!' exclude; symbolic links are never followed.
func Copy(sourceDir, destDir string, patterns []string) (*CopyResult, error) {
	set, err := fs.NewPatternSet(patterns)
	if err != nil {
		return nil, fmt.Errorf("compiling copy patterns: %w", err)
	}

	copied, err := fs.CopyMatching(sourceDir, destDir, set)
	result := &CopyResult{Copied: copied}
	if err != nil {
		return result, fmt.Errorf("copying from %s: %w", sourceDir, err)
	}
	return result, nil
}
