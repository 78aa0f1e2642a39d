package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/executor"
)

func TestFilterMatch(t *testing.T) {
	tests := map[string]struct {
		filter   executor.Filter
		path     string
		expMatch bool
	}{
		"Without patterns everything should match.": {
			path:     "a/b/c.txt",
			expMatch: true,
		},
		"A base name include should match at any depth.": {
			filter:   executor.Filter{Include: []string{"*.txt"}},
			path:     "a/b/c.txt",
			expMatch: true,
		},
		"A path not included should not match.": {
			filter:   executor.Filter{Include: []string{"*.txt"}},
			path:     "a/b/c.jpg",
			expMatch: false,
		},
		"A directory exclude should exclude its contents.": {
			filter:   executor.Filter{Exclude: []string{"tmp/**"}},
			path:     "tmp/x.txt",
			expMatch: false,
		},
		"A directory exclude should exclude nested directories with the same name.": {
			filter:   executor.Filter{Exclude: []string{"tmp/**"}},
			path:     "a/tmp/x.txt",
			expMatch: false,
		},
		"An anchored pattern should only match at the root.": {
			filter:   executor.Filter{Include: []string{"/top.txt"}},
			path:     "a/top.txt",
			expMatch: false,
		},
		"An anchored pattern should match at the root.": {
			filter:   executor.Filter{Include: []string{"/top.txt"}},
			path:     "top.txt",
			expMatch: true,
		},
		"Excludes should win over includes.": {
			filter:   executor.Filter{Include: []string{"*.txt"}, Exclude: []string{"secret.txt"}},
			path:     "a/secret.txt",
			expMatch: false,
		},
		"A directory include should match nested paths.": {
			filter:   executor.Filter{Include: []string{"a/**"}},
			path:     "a/b/c.txt",
			expMatch: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			assert.Equal(test.expMatch, test.filter.Match(test.path))
		})
	}
}

func TestFilterArgs(t *testing.T) {
	assert := assert.New(t)

	f := executor.Filter{Include: []string{"*.txt", " "}, Exclude: []string{"tmp/**"}}
	assert.Equal([]string{"--include", "*.txt", "--exclude", "tmp/**"}, f.Args())
	assert.Empty(executor.Filter{}.Args())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLocalTotals(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "abc")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "12345")
	writeFile(t, filepath.Join(root, "sub", "c.jpg"), "xy")

	tests := map[string]struct {
		root      string
		filter    executor.Filter
		expTotals executor.Totals
		expErr    bool
	}{
		"A directory should count all its files.": {
			root:      root,
			expTotals: executor.Totals{Objects: 3, Bytes: 10},
		},
		"A filtered directory should count only the matching files.": {
			root:      root,
			filter:    executor.Filter{Include: []string{"*.txt"}},
			expTotals: executor.Totals{Objects: 2, Bytes: 8},
		},
		"A single file should be counted.": {
			root:      filepath.Join(root, "sub", "b.txt"),
			expTotals: executor.Totals{Objects: 1, Bytes: 5},
		},
		"A missing path should fail.": {
			root:   filepath.Join(root, "missing"),
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got, err := executor.LocalTotals(context.Background(), test.root, test.filter)
			if test.expErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(test.expTotals, got)
		})
	}
}

func TestLocalPathsResolveSource(t *testing.T) {
	base, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	allowed := filepath.Join(base, "allowed")
	writeFile(t, filepath.Join(allowed, "data", "a.txt"), "a")
	writeFile(t, filepath.Join(base, "other", "b.txt"), "b")

	tests := map[string]struct {
		paths   executor.LocalPaths
		path    string
		expPath string
		expErr  string
	}{
		"Without allowed dirs any existing path should be resolved.": {
			path:    filepath.Join(base, "other"),
			expPath: filepath.Join(base, "other"),
		},
		"A path under an allowed dir should be resolved.": {
			paths:   executor.LocalPaths{AllowedDirs: []string{allowed}},
			path:    filepath.Join(allowed, "data"),
			expPath: filepath.Join(allowed, "data"),
		},
		"A path outside the allowed dirs should be rejected.": {
			paths:  executor.LocalPaths{AllowedDirs: []string{allowed}},
			path:   filepath.Join(base, "other"),
			expErr: "is not allowed; must be under one of",
		},
		"A traversal outside the allowed dirs should be rejected.": {
			paths:  executor.LocalPaths{AllowedDirs: []string{allowed}},
			path:   filepath.Join(allowed, "..", "other"),
			expErr: "is not allowed; must be under one of",
		},
		"A missing path should be rejected.": {
			path:   filepath.Join(base, "missing"),
			expErr: "not found",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got, err := test.paths.ResolveSource(test.path)
			if test.expErr != "" {
				if assert.Error(err) {
					assert.Contains(err.Error(), test.expErr)
				}
				return
			}
			assert.NoError(err)
			assert.Equal(test.expPath, got)
		})
	}
}

func TestLocalPathsPrepareDestination(t *testing.T) {
	base, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	allowed := filepath.Join(base, "allowed")
	require.NoError(t, os.MkdirAll(allowed, 0o700))
	writeFile(t, filepath.Join(allowed, "file"), "x")

	tests := map[string]struct {
		path    string
		expPath string
		expErr  string
	}{
		"A missing destination should be created.": {
			path:    filepath.Join(allowed, "new", "dir"),
			expPath: filepath.Join(allowed, "new", "dir") + string(os.PathSeparator),
		},
		"A file destination should be rejected.": {
			path:   filepath.Join(allowed, "file"),
			expErr: "must be a directory",
		},
		"A destination outside the allowed dirs should be rejected.": {
			path:   filepath.Join(base, "outside"),
			expErr: "is not allowed",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			lp := executor.LocalPaths{AllowedDirs: []string{allowed}}
			got, err := lp.PrepareDestination(test.path)
			if test.expErr != "" {
				if assert.Error(err) {
					assert.Contains(err.Error(), test.expErr)
				}
				return
			}
			assert.NoError(err)
			assert.Equal(test.expPath, got)

			info, err := os.Stat(strings.TrimSuffix(got, string(os.PathSeparator)))
			assert.NoError(err)
			assert.True(info.IsDir())
		})
	}

	_, err = os.Stat(filepath.Join(base, "outside"))
	assert.True(t, os.IsNotExist(err))
}
