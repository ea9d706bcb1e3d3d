// Package fs walks and copies file trees for the hook copy step.
package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrSymlinkDestination reports a destination path that passes through a
// symbolic link.
var ErrSymlinkDestination = errors.New("destination path contains a symlink")

// CopiedFile records one file copied by CopyMatching.
type CopiedFile struct {
	Name        string // path relative to the source root
	Source      string
	Destination string
}

// FindMatching walks root and returns the relative paths of regular files
// matched by set, in lexical order.
//
// Symbolic links are never followed: a linked file is not returned and a
// linked directory is not entered. The repository's .git entry is skipped.
func FindMatching(root string, set *PatternSet) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", p, err)
		}
		if d.IsDir() {
			if rel == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if set.Match(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return matches, nil
}

// CopyMatching copies every file under src matched by set to the same
// relative location under dst, preserving permission bits. A destination
// whose path under dst runs through a symbolic link is refused, so nothing
// is written outside dst.
func CopyMatching(src, dst string, set *PatternSet) ([]CopiedFile, error) {
	if set.Empty() {
		return nil, nil
	}

	rels, err := FindMatching(src, set)
	if err != nil {
		return nil, err
	}

	copied := make([]CopiedFile, 0, len(rels))
	for _, rel := range rels {
		from := filepath.Join(src, rel)
		to := filepath.Join(dst, rel)
		if err := rejectSymlinks(dst, rel); err != nil {
			return copied, err
		}
		if err := CopyFile(from, to); err != nil {
			return copied, err
		}
		copied = append(copied, CopiedFile{Name: filepath.ToSlash(rel), Source: from, Destination: to})
	}
	return copied, nil
}

// rejectSymlinks fails if any existing component of rel under root, the
// final name included, is a symbolic link. Missing components are fine;
// CopyFile creates them as real directories.
func rejectSymlinks(root, rel string) error {
	current := root
	for _, part := range strings.Split(filepath.Clean(rel), string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", current, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrSymlinkDestination, current)
		}
	}
	return nil
}

// CopyFile copies a regular file, creating parent directories of dst and
// preserving the source permission bits. An existing dst is overwritten.
func CopyFile(src, dst string) (err error) {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	// OpenFile applies the umask; an existing file keeps its old mode.
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("setting mode of %s: %w", dst, err)
	}
	return nil
}
