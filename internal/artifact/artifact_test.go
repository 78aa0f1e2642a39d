package artifact_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/artifact"
)

func TestSanitizeEntryName(t *testing.T) {
	tests := map[string]struct {
		name    string
		expName string
		expErr  bool
	}{
		"A regular name should be kept.":         {name: "a/b.txt", expName: "a/b.txt"},
		"Backslashes should be normalized.":      {name: `a\b\c.txt`, expName: "a/b/c.txt"},
		"Leading slashes should be removed.":     {name: "//a/b.txt", expName: "a/b.txt"},
		"Inner dot segments should be cleaned.":  {name: "a/./b/../c.txt", expName: "a/c.txt"},
		"Traversals should be rejected.":         {name: "../escape", expErr: true},
		"Nested traversals should be rejected.":  {name: "a/../../escape", expErr: true},
		"Empty names should be rejected.":        {name: "   ", expErr: true},
		"Null bytes should be rejected.":         {name: "a\x00b", expErr: true},
		"Dot only names should be rejected.":     {name: ".", expErr: true},
		"Parent only names should be rejected.":  {name: "..", expErr: true},
		"Slash only names should be rejected.":   {name: "/", expErr: true},
		"Spaces around should be trimmed.":       {name: "  a.txt ", expName: "a.txt"},
		"Unicode names should be kept.":          {name: "fotos/ñu.jpg", expName: "fotos/ñu.jpg"},
		"Trailing slashes should be normalized.": {name: "dir/", expName: "dir"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got, err := artifact.SanitizeEntryName(test.name)
			if test.expErr {
				assert.ErrorIs(err, artifact.ErrUnsafeName)
				return
			}
			assert.NoError(err)
			assert.Equal(test.expName, got)
		})
	}
}

func TestUniqueEntryName(t *testing.T) {
	assert := assert.New(t)

	used := map[string]struct{}{}
	got := []string{}
	for _, n := range []string{"a.txt", "a.txt", "a.txt", "dir/b", "dir/b", "a-2.txt"} {
		got = append(got, artifact.UniqueEntryName(used, n))
	}

	assert.Equal([]string{"a.txt", "a-2.txt", "a-3.txt", "dir/b", "dir/b-2", "a-2-2.txt"}, got)
}

func TestDefaultZipNames(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("my-bucket.zip", artifact.DefaultZipNameFromPrefix("my-bucket", ""))
	assert.Equal("my-bucket-data-2024.zip", artifact.DefaultZipNameFromPrefix("my-bucket", "/data/2024/"))
	assert.Equal("download.zip", artifact.DefaultZipNameFromPrefix(" ", "data/"))

	assert.Equal("b-photos.zip", artifact.DefaultZipNameFromKeys("b", "photos/", []string{"photos/a.jpg", "photos/b.jpg"}))
	assert.Equal("b-a.jpg.zip", artifact.DefaultZipNameFromKeys("b", "", []string{"photos/a.jpg"}))
	assert.Equal("b-selection.zip", artifact.DefaultZipNameFromKeys("b", "", []string{"x", "y"}))

	assert.Equal("download", artifact.SafeZipFilename("///"))
	assert.Equal("a-b-c", artifact.SafeZipFilename("a b:c"))
	assert.Len(artifact.SafeZipFilename(strings.Repeat("x", 300)), 120)

	// Truncation must not split multi-byte runes.
	long := artifact.SafeZipFilename("x" + strings.Repeat("é", 100))
	assert.True(utf8.ValidString(long))
	assert.Len(long, 119)
	assert.Equal("x"+strings.Repeat("é", 59), long)
}

type fakeSource struct {
	data     map[string]string
	closeErr map[string]error
	opened   []string
}

func (f *fakeSource) Open(ctx context.Context, e artifact.Entry) (io.ReadCloser, error) {
	f.opened = append(f.opened, e.Key)
	d, ok := f.data[e.Key]
	if !ok {
		return nil, errors.New("missing object")
	}
	return &readCloser{Reader: strings.NewReader(d), err: f.closeErr[e.Key]}, nil
}

type readCloser struct {
	io.Reader
	err error
}

func (r *readCloser) Close() error { return r.err }

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	got := map[string]string{}
	for _, f := range zr.File {
		assert.Equal(t, zip.Store, f.Method)
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		got[f.Name] = string(data)
	}
	return got
}

func TestBuilderBuild(t *testing.T) {
	mod := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

	tests := map[string]struct {
		entries     []artifact.Entry
		source      *fakeSource
		expFiles    map[string]string
		expResult   artifact.BuildResult
		expErr      bool
		expArtifact bool
	}{
		"Entries should be streamed into the zip.": {
			entries: []artifact.Entry{
				{Key: "data/a.txt", Name: "a.txt", Size: 3, Modified: &mod},
				{Key: "data/sub/b.txt", Name: "sub/b.txt", Size: 2},
			},
			source:      &fakeSource{data: map[string]string{"data/a.txt": "aaa", "data/sub/b.txt": "bb"}},
			expFiles:    map[string]string{"a.txt": "aaa", "sub/b.txt": "bb"},
			expResult:   artifact.BuildResult{Entries: 2, Bytes: 5},
			expArtifact: true,
		},
		"Colliding names should be suffixed.": {
			entries: []artifact.Entry{
				{Key: "x/a.txt", Name: "a.txt"},
				{Key: "y/a.txt", Name: "a.txt"},
			},
			source:      &fakeSource{data: map[string]string{"x/a.txt": "x", "y/a.txt": "y"}},
			expFiles:    map[string]string{"a.txt": "x", "a-2.txt": "y"},
			expResult:   artifact.BuildResult{Entries: 2, Bytes: 2},
			expArtifact: true,
		},
		"An empty zip should be built.": {
			source:      &fakeSource{},
			expFiles:    map[string]string{},
			expResult:   artifact.BuildResult{},
			expArtifact: true,
		},
		"Unsafe names should fail the build.": {
			entries: []artifact.Entry{{Key: "k", Name: "../escape"}},
			source:  &fakeSource{data: map[string]string{"k": "x"}},
			expErr:  true,
		},
		"Failing sources should fail the build.": {
			entries: []artifact.Entry{{Key: "a", Name: "a"}, {Key: "b", Name: "b"}},
			source:  &fakeSource{data: map[string]string{"a": "x", "b": "y"}, closeErr: map[string]error{"b": errors.New("rclone cat failed")}},
			expErr:  true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			path := filepath.Join(t.TempDir(), "artifacts", "jobs", "job-1.zip")

			// A stale artifact from a previous run.
			require.NoError(os.MkdirAll(filepath.Dir(path), 0o700))
			require.NoError(os.WriteFile(path, []byte("stale"), 0o600))

			b, err := artifact.NewBuilder(artifact.BuilderConfig{})
			require.NoError(err)

			res, err := b.Build(context.Background(), artifact.BuildRequest{
				Path:    path,
				Entries: test.entries,
				Open:    test.source.Open,
			})

			_, tmpErr := os.Stat(artifact.TmpPath(path))
			assert.True(os.IsNotExist(tmpErr))

			if test.expErr {
				assert.Error(err)
				_, statErr := os.Stat(path)
				assert.True(os.IsNotExist(statErr))
				return
			}
			require.NoError(err)
			assert.Equal(test.expResult, res)
			assert.Equal(test.expFiles, readZip(t, path))
		})
	}
}

func TestBuilderModifiedTime(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	mod := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "a.zip")
	b, err := artifact.NewBuilder(artifact.BuilderConfig{})
	require.NoError(err)

	src := &fakeSource{data: map[string]string{"k": "v"}}
	_, err = b.Build(context.Background(), artifact.BuildRequest{
		Path:    path,
		Entries: []artifact.Entry{{Key: "k", Name: "k", Modified: &mod}},
		Open:    src.Open,
	})
	require.NoError(err)

	zr, err := zip.OpenReader(path)
	require.NoError(err)
	defer zr.Close()
	require.Len(zr.File, 1)
	assert.True(mod.Equal(zr.File[0].Modified.UTC()))
}

func TestBuilderProgressThrottle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b, err := artifact.NewBuilder(artifact.BuilderConfig{
		BufferSize: 1,
		TimeNow:    func() time.Time { return now },
	})
	require.NoError(err)

	src := &fakeSource{data: map[string]string{"a": "1234", "b": "56"}}
	got := []artifact.Progress{}
	_, err = b.Build(context.Background(), artifact.BuildRequest{
		Path:       filepath.Join(t.TempDir(), "a.zip"),
		Entries:    []artifact.Entry{{Key: "a", Name: "a", Size: 4}, {Key: "b", Name: "b", Size: 2}},
		Open:       src.Open,
		OnProgress: func(p artifact.Progress) { got = append(got, p) },
	})
	require.NoError(err)

	// The clock doesn't move so only the forced flushes are published.
	assert.Equal([]artifact.Progress{
		{ObjectsDone: 0, ObjectsTotal: 2, BytesDone: 0, BytesTotal: 6},
		{ObjectsDone: 1, ObjectsTotal: 2, BytesDone: 4, BytesTotal: 6},
		{ObjectsDone: 2, ObjectsTotal: 2, BytesDone: 6, BytesTotal: 6},
	}, got)
}

func TestBuilderCanceled(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	b, err := artifact.NewBuilder(artifact.BuilderConfig{})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{data: map[string]string{"a": "x"}}
	path := filepath.Join(t.TempDir(), "a.zip")
	_, err = b.Build(ctx, artifact.BuildRequest{Path: path, Entries: []artifact.Entry{{Key: "a", Name: "a"}}, Open: src.Open})
	assert.ErrorIs(err, context.Canceled)
	assert.Empty(src.opened)
}
