package executor

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter matches relative object paths with rclone like include and exclude
// patterns. A pattern without "/" matches the base name at any depth, a leading
// "/" anchors it to the root and "**" spans directories.
type Filter struct {
	Include []string
	Exclude []string
}

// Match returns true if the relative path passes the filter.
func (f Filter) Match(rel string) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")

	if len(f.Include) > 0 && !anyPatternMatch(f.Include, rel) {
		return false
	}
	return !anyPatternMatch(f.Exclude, rel)
}

// Args returns the rclone filter flags.
func (f Filter) Args() []string {
	var args []string
	for _, p := range f.Include {
		if p = strings.TrimSpace(p); p != "" {
			args = append(args, "--include", p)
		}
	}
	for _, p := range f.Exclude {
		if p = strings.TrimSpace(p); p != "" {
			args = append(args, "--exclude", p)
		}
	}
	return args
}

func anyPatternMatch(patterns []string, rel string) bool {
	for _, p := range patterns {
		if patternMatch(p, rel) {
			return true
		}
	}
	return false
}

func patternMatch(pattern, rel string) bool {
	pattern = filepath.ToSlash(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}

	if anchored, ok := strings.CutPrefix(pattern, "/"); ok {
		return match(anchored, rel)
	}
	if !strings.Contains(pattern, "/") {
		return match(pattern, path.Base(rel))
	}
	return match(pattern, rel) || match("**/"+pattern, rel)
}

func match(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
