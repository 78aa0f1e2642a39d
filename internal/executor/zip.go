package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/slok/xferd/internal/artifact"
	"github.com/slok/xferd/internal/logparse"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/rclone"
	"github.com/slok/xferd/internal/retry"
)

// MaxZipObjects is the max number of objects of a prefix zip.
const MaxZipObjects = 50_000

func (r *run) zipPrefix(ctx context.Context, p ZipPrefixPayload) error {
	preserve := r.profile.PreserveLeadingSlash
	prefix := rclone.NormalizePrefix(p.Prefix, preserve)
	args := []string{"lsjson", "-R", "--fast-list", "--no-mimetype", rclone.RemoteDir(p.Bucket, prefix, preserve)}

	var entries []artifact.Entry
	err := r.list(ctx, args, func(e rclone.ListEntry) error {
		if e.IsDir {
			return nil
		}
		key := rclone.ObjectKey(prefix, entryPath(e), preserve)
		if key == "" || (strings.HasSuffix(key, "/") && e.Size == 0) {
			return nil
		}
		if len(entries) >= MaxZipObjects {
			return model.NewValidationError("too many objects to zip (>%d); narrow the prefix", MaxZipObjects)
		}

		entries = append(entries, artifact.Entry{
			Key:      key,
			Name:     strings.TrimPrefix(key, prefix),
			Size:     e.Size,
			Modified: modTime(e),
		})
		return nil
	})
	if err != nil {
		return err
	}

	r.logf("info", "creating zip from s3://%s/%s", p.Bucket, prefix)
	return r.buildZip(ctx, p.Bucket, artifact.DefaultZipNameFromPrefix(p.Bucket, prefix), entries)
}

func (r *run) zipObjects(ctx context.Context, p ZipObjectsPayload) error {
	entries := make([]artifact.Entry, 0, len(p.Keys))
	for _, key := range p.Keys {
		name := key
		if p.StripPrefix != "" {
			name = strings.TrimPrefix(key, p.StripPrefix)
		}
		entries = append(entries, artifact.Entry{Key: key, Name: name})
	}

	meta, err := r.objectsMetadata(ctx, p.Bucket, p.Keys)
	if err != nil {
		return err
	}
	for i := range entries {
		e, ok := meta[entries[i].Key]
		if !ok {
			continue
		}
		entries[i].Size = e.Size
		entries[i].Modified = modTime(e)
	}

	total := int64(len(entries))
	r.tracker.Observe(logparse.Update{ObjectsTotal: &total})
	r.logf("info", "creating zip from %d object(s) in s3://%s", total, p.Bucket)
	return r.buildZip(ctx, p.Bucket, artifact.DefaultZipNameFromKeys(p.Bucket, p.StripPrefix, p.Keys), entries)
}

// objectsMetadata lists the metadata of the keys, missing keys are not returned.
func (r *run) objectsMetadata(ctx context.Context, bucket string, keys []string) (map[string]rclone.ListEntry, error) {
	path, err := writeKeysFile("rclone-zip-keys-*.txt", keys)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(path) }()

	meta := make(map[string]rclone.ListEntry, len(keys))
	args := []string{"lsjson", "--files-only", "--no-mimetype", "--files-from-raw", path, rclone.RemoteBucket(bucket)}
	err = r.list(ctx, args, func(e rclone.ListEntry) error {
		key := rclone.ObjectKey("", entryPath(e), r.profile.PreserveLeadingSlash)
		if key != "" {
			meta[key] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return meta, nil
}

func (r *run) buildZip(ctx context.Context, bucket, name string, entries []artifact.Entry) error {
	res, err := r.e.builder.Build(ctx, artifact.BuildRequest{
		Path:    r.e.paths.Artifact(r.job.ID),
		Entries: entries,
		Open:    r.openObject(bucket),
		OnProgress: func(p artifact.Progress) {
			r.tracker.Observe(logparse.Update{
				ObjectsDone:  p.ObjectsDone,
				ObjectsTotal: &p.ObjectsTotal,
				BytesDone:    p.BytesDone,
				BytesTotal:   &p.BytesTotal,
			})
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.logf("error", "zip failed: %s", err)
		return err
	}

	r.logf("info", "zipped %d object(s), %s", res.Entries, humanize.IBytes(uint64(max(res.Bytes, 0))))
	r.logf("info", "artifact ready: %s", name)
	return nil
}

// openObject streams the objects with `rclone cat`.
func (r *run) openObject(bucket string) artifact.OpenFunc {
	return func(ctx context.Context, e artifact.Entry) (io.ReadCloser, error) {
		args := []string{"cat", rclone.RemoteObject(bucket, e.Key, r.profile.PreserveLeadingSlash)}
		proc, err := r.e.runner.Start(ctx, rclone.Invocation{JobID: r.job.ID, Profile: r.profile, Args: args})
		if err != nil {
			return nil, err
		}
		r.e.procs.SetProcess(r.job.ID, proc)

		or := &objectReader{ctx: ctx, proc: proc, done: make(chan struct{})}
		go func() {
			defer close(or.done)
			_, _ = io.Copy(&or.stderr, io.LimitReader(proc.Stderr(), maxListStderrBytes))
			_, _ = io.Copy(io.Discard, proc.Stderr())
		}()
		or.release = func() { r.e.procs.ClearProcess(r.job.ID) }

		return or, nil
	}
}

// objectReader is the content of an object being read from an rclone process.
// Closing it waits for the process and returns its classified failure.
type objectReader struct {
	ctx     context.Context
	proc    rclone.Process
	stderr  bytes.Buffer
	done    chan struct{}
	release func()
	eof     bool
	once    sync.Once
	err     error
}

func (o *objectReader) Read(p []byte) (int, error) {
	n, err := o.proc.Stdout().Read(p)
	if errors.Is(err, io.EOF) {
		o.eof = true
	}
	return n, err
}

func (o *objectReader) Close() error {
	o.once.Do(func() {
		if !o.eof {
			_ = o.proc.Kill()
		}
		_, _ = io.Copy(io.Discard, o.proc.Stdout())
		<-o.done
		waitErr := o.proc.Wait()
		o.release()

		switch {
		case waitErr == nil:
		case o.ctx.Err() != nil:
			o.err = o.ctx.Err()
		case !o.eof:
			// Killed by us after a failed read or write.
		default:
			o.err = retry.JobError(waitErr, strings.TrimSpace(o.stderr.String()), "rclone cat")
		}
	})
	return o.err
}

func modTime(e rclone.ListEntry) *time.Time {
	t, ok := e.ModTimeValue()
	if !ok {
		return nil
	}
	return &t
}

func writeKeysFile(pattern string, keys []string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("could not create keys file: %w", err)
	}
	path := filepath.Clean(f.Name())

	w := bufio.NewWriter(f)
	for _, k := range keys {
		if _, err := w.WriteString(k + "\n"); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("could not write keys file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("could not write keys file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("could not write keys file: %w", err)
	}

	return path, nil
}
