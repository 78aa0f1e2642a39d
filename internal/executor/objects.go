package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"

	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/rclone"
	"github.com/slok/xferd/internal/retry"
)

const (
	// DeleteBatchSize is the number of keys deleted by each rclone invocation.
	DeleteBatchSize = 1000

	indexPageSize      = 1000
	indexUpsertBatch   = 500
	indexFlushInterval = time.Second
)

func (r *run) deleteObjects(ctx context.Context, p DeleteObjectsPayload) error {
	total := int64(len(p.Keys))
	r.tracker.SetObjectsTotal(total)
	r.tracker.AddObjectsDone(0)
	r.logf("info", "deleting %d object(s) from s3://%s", total, p.Bucket)

	for i := 0; i < len(p.Keys); i += DeleteBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := p.Keys[i:min(i+DeleteBatchSize, len(p.Keys))]
		if err := r.deleteBatch(ctx, p.Bucket, batch); err != nil {
			return err
		}
		r.tracker.AddObjectsDone(int64(len(batch)))
	}

	r.logf("info", "completed")
	return nil
}

func (r *run) deleteBatch(ctx context.Context, bucket string, keys []string) error {
	path, err := writeKeysFile("rclone-delete-*.txt", keys)
	if err != nil {
		r.logf("error", "failed to write delete list: %s", err)
		return err
	}
	defer func() { _ = os.Remove(path) }()

	args := []string{"delete", "--files-from-raw", path, rclone.RemoteBucket(bucket)}
	return r.runRclone(ctx, rcloneOpts{Args: args})
}

func (r *run) indexObjects(ctx context.Context, p IndexObjectsPayload) error {
	r.logf("info", "starting index: bucket=%q prefix=%q", p.Bucket, p.Prefix)

	client, err := r.e.lister(ctx, r.profile)
	if err != nil {
		return fmt.Errorf("could not create s3 client: %w", err)
	}

	if p.FullReindex {
		r.logf("info", "clearing existing index entries")
		if err := r.e.store.ClearObjectIndex(ctx, r.profile.ID, p.Bucket); err != nil {
			return fmt.Errorf("could not clear object index: %w", err)
		}
	}

	indexedAt := r.e.timeNow().UTC()
	var objects, bytes int64
	lastFlush := r.e.timeNow()
	flushProgress := func(force bool) {
		now := r.e.timeNow()
		if !force && now.Sub(lastFlush) < indexFlushInterval {
			return
		}
		lastFlush = now
		r.tracker.SetDone(objects, bytes)
	}

	batch := make([]model.ObjectIndexEntry, 0, indexUpsertBatch)
	flushBatch := func(ctx context.Context) error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.e.store.UpsertObjectIndexBatch(ctx, r.profile.ID, p.Bucket, batch, indexedAt); err != nil {
			return fmt.Errorf("could not store index entries: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	// Entries already listed are kept when the job stops early.
	stop := func(err error) error {
		_ = flushBatch(context.WithoutCancel(ctx))
		flushProgress(true)
		return err
	}

	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.Bucket),
		MaxKeys: aws.Int32(indexPageSize),
	}
	if p.Prefix != "" {
		in.Prefix = aws.String(p.Prefix)
	}

	pages := s3.NewListObjectsV2Paginator(client, in)
	for pages.HasMorePages() {
		if err := ctx.Err(); err != nil {
			return stop(err)
		}

		out, err := pages.NextPage(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stop(ctxErr)
			}
			return stop(retry.JobError(err, "", "s3 list objects"))
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if key == "" {
				continue
			}

			e := model.ObjectIndexEntry{
				Key:  key,
				Size: aws.ToInt64(obj.Size),
				ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
			}
			if obj.LastModified != nil {
				lm := obj.LastModified.UTC()
				e.LastModified = &lm
			}

			batch = append(batch, e)
			objects++
			bytes += e.Size
			if len(batch) >= indexUpsertBatch {
				if err := flushBatch(ctx); err != nil {
					return err
				}
			}
			flushProgress(false)
		}
	}

	if err := flushBatch(ctx); err != nil {
		return err
	}
	flushProgress(true)

	r.logf("info", "index complete: objects=%d bytes=%s indexedAt=%s", objects, humanize.IBytes(uint64(max(bytes, 0))), indexedAt.Format(time.RFC3339Nano))
	return nil
}
