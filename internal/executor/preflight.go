package executor

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/slok/xferd/internal/rclone"
)

const (
	// PreflightBudget bounds the totals computation done before a transfer.
	PreflightBudget = 3 * time.Second
	// MaxPreflightObjects stops a remote preflight listing, the totals stay unknown.
	MaxPreflightObjects = 50_000

	statTimeout = 10 * time.Second
)

// Totals are the objects and bytes a job will process.
type Totals struct {
	Objects int64
	Bytes   int64
}

var errTooManyObjects = errors.New("too many objects")

// LocalTotals walks a local file or directory counting the regular files that
// pass the filter.
func LocalTotals(ctx context.Context, root string, f Filter) (Totals, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Totals{}, err
	}
	if info.Mode().IsRegular() {
		if !f.Match(filepath.Base(root)) {
			return Totals{}, nil
		}
		return Totals{Objects: 1, Bytes: info.Size()}, nil
	}
	if !info.IsDir() {
		return Totals{}, nil
	}

	var t Totals
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if !f.Match(filepath.ToSlash(rel)) {
			return nil
		}
		t.Objects++
		t.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return Totals{}, err
	}

	return t, nil
}

// remoteTotals lists a bucket prefix counting the objects that pass the filter.
// An unknown result is returned when the listing has too many objects.
func (r *run) remoteTotals(ctx context.Context, bucket, prefix string, f Filter) (Totals, bool, error) {
	preserve := r.profile.PreserveLeadingSlash
	prefix = rclone.NormalizePrefix(prefix, preserve)
	args := []string{"lsjson", "-R", "--fast-list", "--no-mimetype", rclone.RemoteDir(bucket, prefix, preserve)}

	var t Totals
	err := r.list(ctx, args, func(e rclone.ListEntry) error {
		if e.IsDir {
			return nil
		}
		key := rclone.ObjectKey(prefix, entryPath(e), preserve)
		if key == "" {
			return nil
		}
		if !f.Match(strings.TrimPrefix(key, prefix)) {
			return nil
		}

		t.Objects++
		t.Bytes += e.Size
		if t.Objects > MaxPreflightObjects {
			return errTooManyObjects
		}
		return nil
	})
	if errors.Is(err, errTooManyObjects) {
		return Totals{}, false, nil
	}
	if err != nil {
		return Totals{}, false, err
	}

	return t, true, nil
}

// preflightLocal seeds the totals of a local source, failures only skip the totals.
func (r *run) preflightLocal(ctx context.Context, root string, f Filter) {
	ctx, cancel := context.WithTimeout(ctx, PreflightBudget)
	defer cancel()

	t, err := LocalTotals(ctx, root, f)
	if err != nil {
		r.logger.Debugf("Local preflight skipped: %s", err)
		return
	}
	r.setTotals(t)
}

// preflightRemote seeds the totals of a remote source, failures only skip the
// totals. With objectsOnly the bytes total is not set.
func (r *run) preflightRemote(ctx context.Context, bucket, prefix string, f Filter, objectsOnly bool) {
	ctx, cancel := context.WithTimeout(ctx, PreflightBudget)
	defer cancel()

	t, ok, err := r.remoteTotals(ctx, bucket, prefix, f)
	if err != nil {
		r.logger.Debugf("Remote preflight skipped: %s", err)
		return
	}
	if !ok {
		r.logger.Debugf("Remote preflight skipped: more than %d objects", MaxPreflightObjects)
		return
	}

	if objectsOnly {
		r.tracker.SetObjectsTotal(t.Objects)
		r.logf("info", "found %d object(s)", t.Objects)
		return
	}
	r.setTotals(t)
}

func (r *run) setTotals(t Totals) {
	r.tracker.SetTotals(&t.Objects, &t.Bytes)
	r.logf("info", "found %d object(s), %s", t.Objects, humanize.IBytes(uint64(max(t.Bytes, 0))))
}

// preflightObject seeds the totals of a single object copy or move.
func (r *run) preflightObject(ctx context.Context, bucket, key string) {
	ctx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()

	var entry rclone.ListEntry
	args := []string{"lsjson", "--stat", "--no-mimetype", rclone.RemoteObject(bucket, key, r.profile.PreserveLeadingSlash)}
	err := r.command(ctx, args, func(stdout io.Reader) error {
		e, err := rclone.DecodeStat(stdout)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		r.logger.Debugf("Object preflight skipped: %s", err)
		return
	}

	objects := int64(1)
	var bytes *int64
	if entry.Size > 0 {
		bytes = &entry.Size
	}
	r.tracker.SetTotals(&objects, bytes)
}

func entryPath(e rclone.ListEntry) string {
	if strings.TrimSpace(e.Path) == "" {
		return e.Name
	}
	return e.Path
}
