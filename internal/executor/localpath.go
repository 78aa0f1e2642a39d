package executor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slok/xferd/internal/model"
)

// LocalPaths checks local paths against the allowed directories, an empty
// allow list allows any path.
type LocalPaths struct {
	AllowedDirs []string
}

// ResolveSource returns the real path of an existing local source.
func (l LocalPaths) ResolveSource(localPath string) (string, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", model.NewValidationError("invalid localPath %q: %s", localPath, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", model.NewValidationError("localPath %q not found: %s", localPath, err)
	}
	if err := l.ensureAllowed(real); err != nil {
		return "", err
	}
	return real, nil
}

// PrepareDestination checks and creates a local destination directory, the
// returned path ends with a separator.
func (l LocalPaths) PrepareDestination(localPath string) (string, error) {
	clean := filepath.Clean(localPath)
	if clean == "" || clean == "." {
		return "", model.NewValidationError("invalid localPath %q", localPath)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", model.NewValidationError("invalid localPath %q: %s", localPath, err)
	}

	if len(l.AllowedDirs) > 0 {
		real, err := evalSymlinksBestEffort(abs)
		if err != nil {
			return "", model.NewValidationError("invalid localPath %q: %s", localPath, err)
		}
		if err := l.ensureAllowed(real); err != nil {
			return "", err
		}
	}

	info, err := os.Stat(abs)
	switch {
	case err == nil && !info.IsDir():
		return "", model.NewValidationError("localPath %q must be a directory", abs)
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(abs, 0o700); err != nil {
			return "", fmt.Errorf("failed to create localPath %q: %w", abs, err)
		}
	case err != nil:
		return "", model.NewValidationError("invalid localPath %q: %s", abs, err)
	}

	if !strings.HasSuffix(abs, string(os.PathSeparator)) {
		abs += string(os.PathSeparator)
	}
	return abs, nil
}

func (l LocalPaths) ensureAllowed(real string) error {
	if len(l.AllowedDirs) == 0 {
		return nil
	}

	for _, dir := range l.AllowedDirs {
		if isUnderDir(dir, real) {
			return nil
		}
		if r, err := filepath.EvalSymlinks(dir); err == nil && isUnderDir(r, real) {
			return nil
		}
	}
	return model.NewValidationError("localPath %q is not allowed; must be under one of: %s", real, strings.Join(l.AllowedDirs, ", "))
}

func isUnderDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

// evalSymlinksBestEffort resolves the symlinks of the longest existing parent
// of path, the missing components are joined back.
func evalSymlinksBestEffort(path string) (string, error) {
	p := filepath.Clean(path)
	var missing []string
	for {
		info, err := os.Stat(p)
		if err == nil {
			if !info.IsDir() && len(missing) > 0 {
				return "", fmt.Errorf("parent is not a directory: %q", p)
			}
			return joinMissing(p, missing)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(p)
		if parent == p {
			return joinMissing(p, missing)
		}
		missing = append(missing, filepath.Base(p))
		p = parent
	}
}

func joinMissing(existing string, missing []string) (string, error) {
	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	for i := len(missing) - 1; i >= 0; i-- {
		real = filepath.Join(real, missing[i])
	}
	return real, nil
}
