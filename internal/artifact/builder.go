package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/slok/xferd/internal/log"
)

// Entry is an object to add to the zip.
type Entry struct {
	Key      string
	Name     string
	Size     int64
	Modified *time.Time
}

// OpenFunc opens the content of an entry, closing the reader returns the error of
// the producer if any.
type OpenFunc func(ctx context.Context, e Entry) (io.ReadCloser, error)

// Progress is the build progress.
type Progress struct {
	ObjectsDone  int64
	ObjectsTotal int64
	BytesDone    int64
	BytesTotal   int64
}

// BuildRequest is an artifact build request.
type BuildRequest struct {
	// Path is the final zip path, the zip is built in Path + ".tmp".
	Path       string
	Entries    []Entry
	Open       OpenFunc
	OnProgress func(Progress)
}

// BuildResult is the result of a successful build.
type BuildResult struct {
	Entries int
	Bytes   int64
}

// BuilderConfig is the configuration of the builder.
type BuilderConfig struct {
	// PublishInterval is the min interval between not forced progress callbacks.
	PublishInterval time.Duration
	BufferSize      int
	TimeNow         func() time.Time
	Logger          log.Logger
}

func (c *BuilderConfig) defaults() error {
	if c.PublishInterval <= 0 {
		c.PublishInterval = 800 * time.Millisecond
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256 * 1024
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "artifact.Builder"})
	return nil
}

// Builder builds zip artifacts streaming the entries content.
type Builder struct {
	publishInterval time.Duration
	bufferSize      int
	timeNow         func() time.Time
	logger          log.Logger
}

// NewBuilder returns a new builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Builder{
		publishInterval: cfg.PublishInterval,
		bufferSize:      cfg.BufferSize,
		timeNow:         cfg.TimeNow,
		logger:          cfg.Logger,
	}, nil
}

// TmpPath returns the path where the artifact of path is built.
func TmpPath(path string) string { return path + ".tmp" }

// Build builds the zip. The final path only exists if the build succeeds, on
// failure the temporary and any stale final artifact are removed.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (BuildResult, error) {
	if req.Path == "" {
		return BuildResult{}, fmt.Errorf("path is required")
	}
	if req.Open == nil {
		return BuildResult{}, fmt.Errorf("open is required")
	}

	tmpPath := TmpPath(req.Path)
	removeAll := func() {
		_ = os.Remove(tmpPath)
		_ = os.Remove(req.Path)
	}
	removeAll()

	if err := os.MkdirAll(filepath.Dir(req.Path), 0o700); err != nil {
		return BuildResult{}, fmt.Errorf("could not create artifacts dir: %w", err)
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return BuildResult{}, fmt.Errorf("could not create artifact: %w", err)
	}

	zw := zip.NewWriter(f)
	res, err := b.write(ctx, zw, req)
	if err != nil {
		_ = zw.Close()
		_ = f.Close()
		removeAll()
		return BuildResult{}, err
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()
		removeAll()
		return BuildResult{}, fmt.Errorf("could not close zip: %w", err)
	}
	if err := f.Close(); err != nil {
		removeAll()
		return BuildResult{}, fmt.Errorf("could not close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, req.Path); err != nil {
		removeAll()
		return BuildResult{}, fmt.Errorf("could not publish artifact: %w", err)
	}

	b.logger.Debugf("Artifact built with %d entries: %s", res.Entries, req.Path)
	return res, nil
}

func (b *Builder) write(ctx context.Context, zw *zip.Writer, req BuildRequest) (BuildResult, error) {
	p := Progress{ObjectsTotal: int64(len(req.Entries))}
	for _, e := range req.Entries {
		p.BytesTotal += max(e.Size, 0)
	}

	var lastPublish time.Time
	publish := func(force bool) {
		if req.OnProgress == nil {
			return
		}
		now := b.timeNow()
		if !force && !lastPublish.IsZero() && now.Sub(lastPublish) < b.publishInterval {
			return
		}
		lastPublish = now
		req.OnProgress(p)
	}

	used := make(map[string]struct{}, len(req.Entries))
	buf := make([]byte, b.bufferSize)

	publish(true)
	for _, e := range req.Entries {
		if err := ctx.Err(); err != nil {
			return BuildResult{}, err
		}

		name, err := SanitizeEntryName(e.Name)
		if err != nil {
			return BuildResult{}, fmt.Errorf("entry for key %q: %w", e.Key, err)
		}
		name = UniqueEntryName(used, name)

		h := &zip.FileHeader{Name: name, Method: zip.Store}
		if e.Modified != nil {
			h.Modified = *e.Modified
		} else {
			h.Modified = b.timeNow()
		}

		w, err := zw.CreateHeader(h)
		if err != nil {
			return BuildResult{}, fmt.Errorf("could not create zip entry %q: %w", name, err)
		}

		r, err := req.Open(ctx, e)
		if err != nil {
			return BuildResult{}, err
		}

		copyErr := copyContext(ctx, w, r, buf, func(n int64) {
			p.BytesDone += n
			publish(false)
		})
		closeErr := r.Close()
		if copyErr != nil {
			return BuildResult{}, copyErr
		}
		if closeErr != nil {
			return BuildResult{}, closeErr
		}

		p.ObjectsDone++
		publish(true)
	}

	return BuildResult{Entries: int(p.ObjectsDone), Bytes: p.BytesDone}, nil
}

func copyContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte, onCopied func(n int64)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			if werr != nil {
				return fmt.Errorf("could not write zip entry: %w", werr)
			}
			if wn != n {
				return io.ErrShortWrite
			}
			onCopied(int64(n))
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}
