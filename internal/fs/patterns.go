package fs

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternSet matches relative paths against include and exclude globs.
// A path matches when any include matches and no exclude does.
//
// Patterns use glob syntax in which '*' also matches '/', so "*.local"
// matches both ".env.local" and "apps/web/.env.local". A '**' segment
// matches zero or more directories and a leading '!' marks an exclusion.
type PatternSet struct {
	includes [][]string
	excludes [][]string
}

// NewPatternSet validates and splits raw patterns once so matching a large
// tree does not re-parse them per file. Blank entries and '#' comments are
// skipped.
func NewPatternSet(raw []string) (*PatternSet, error) {
	set := &PatternSet{}
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}

		exclude := strings.HasPrefix(p, "!")
		if exclude {
			p = strings.TrimPrefix(p, "!")
		}
		p = strings.TrimPrefix(filepath.ToSlash(p), "./")
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}

		if exclude {
			set.excludes = append(set.excludes, spanSeparators(p))
		} else {
			set.includes = append(set.includes, spanSeparators(p))
		}
	}
	return set, nil
}

// Empty reports whether the set can match nothing.
func (s *PatternSet) Empty() bool {
	return len(s.includes) == 0
}

// Match reports whether relativePath is included and not excluded.
func (s *PatternSet) Match(relativePath string) bool {
	if relativePath == "" {
		return false
	}
	normalized := filepath.ToSlash(relativePath)
	return matchAny(s.includes, normalized) && !matchAny(s.excludes, normalized)
}

func matchAny(patterns [][]string, path string) bool {
	for _, variants := range patterns {
		for _, p := range variants {
			// Patterns were validated in NewPatternSet; MatchUnvalidated skips the re-check.
			if doublestar.MatchUnvalidated(p, path) {
				return true
			}
		}
	}
	return false
}

// spanSeparators expands a pattern into doublestar patterns that together
// let every '*' outside a '**' segment match across '/'. Each such star
// becomes either itself or "*/**/*", which covers one or more separators.
// Escapes and bracket classes are copied through untouched.
func spanSeparators(pattern string) []string {
	variants := []string{""}
	appendAll := func(suffixes ...string) {
		next := make([]string, 0, len(variants)*len(suffixes))
		for _, v := range variants {
			for _, s := range suffixes {
				next = append(next, v+s)
			}
		}
		variants = next
	}

	for i := 0; i < len(pattern); {
		switch c := pattern[i]; {
		case c == '\\' && i+1 < len(pattern):
			appendAll(pattern[i : i+2])
			i += 2
		case c == '[':
			end := classEnd(pattern, i)
			appendAll(pattern[i:end])
			i = end
		case c == '*':
			j := i
			for j < len(pattern) && pattern[j] == '*' {
				j++
			}
			segmentStart := i == 0 || pattern[i-1] == '/'
			segmentEnd := j == len(pattern) || pattern[j] == '/'
			if j-i >= 2 && segmentStart && segmentEnd {
				appendAll("**")
			} else {
				appendAll("*", "*/**/*")
			}
			i = j
		default:
			appendAll(pattern[i : i+1])
			i++
		}
	}
	return variants
}

// classEnd returns the index just past the bracket class opening at start,
// or start+1 when the class is unterminated.
func classEnd(pattern string, start int) int {
	i := start + 1
	if i < len(pattern) && (pattern[i] == '!' || pattern[i] == '^') {
		i++
	}
	if i < len(pattern) && pattern[i] == ']' {
		i++
	}
	end := strings.IndexByte(pattern[i:], ']')
	if end < 0 {
		return start + 1
	}
	return i + end + 1
}
