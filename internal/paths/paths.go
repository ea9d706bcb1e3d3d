// Package paths derives worktree names and locations from branch names.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrEscapesRoot is returned when a rendered worktree path leaves its root.
var ErrEscapesRoot = errors.New("worktree path escapes the worktree root")

// SanitizeBranch turns a branch name into a single path segment: '/', '@'
// and spaces become '-', ".." becomes '-', runs of '-' collapse and leading or
// trailing '-' are trimmed. Single dots are kept.
func SanitizeBranch(branch string) string {
	stripped := strings.ReplaceAll(branch, "..", "-")

	var b strings.Builder
	b.Grow(len(stripped))
	lastDash := false
	for _, r := range stripped {
		switch r {
		case '/', '@', ' ', '-':
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		default:
			b.WriteRune(r)
			lastDash = false
		}
	}
	return strings.Trim(b.String(), "-")
}

var placeholder = regexp.MustCompile(`\{\{\s*(\w+)\s*(?:\|\s*(\w+)\s*)?\}\}`)

// RenderTemplate expands {{ repo }}, {{ branch }} and {{ branch | sanitize }}
// in template. Unknown variables or filters are errors.
func RenderTemplate(template, repo, branch string) (string, error) {
	vars := map[string]string{"repo": repo, "branch": branch}

	var renderErr error
	out := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		value, ok := vars[parts[1]]
		if !ok {
			renderErr = errors.Join(renderErr, fmt.Errorf("unknown template variable %q", parts[1]))
			return m
		}
		switch parts[2] {
		case "":
		case "sanitize":
			value = SanitizeBranch(value)
		default:
			renderErr = errors.Join(renderErr, fmt.Errorf("unknown template filter %q", parts[2]))
		}
		return value
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

// RenderWorktreePath renders template under root and returns an absolute,
// cleaned path. Results that resolve outside root are rejected.
func RenderWorktreePath(root, template, repo, branch string) (string, error) {
	rel, err := RenderTemplate(template, repo, branch)
	if err != nil {
		return "", err
	}
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving worktree root: %w", err)
	}
	path := filepath.Join(absRoot, rel)

	within, err := filepath.Rel(absRoot, path)
	if err != nil || within == "." || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, rel)
	}
	return path, nil
}

// Canonical returns the absolute form of path with symbolic links resolved.
// Components that do not exist yet are kept as written below the deepest
// existing ancestor, so a root that is created later still resolves to the
// same spelling.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}

	existing, rest := abs, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("resolving %s: %w", path, err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}
