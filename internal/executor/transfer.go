package executor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/slok/xferd/internal/logparse"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/rclone"
)

func syncCommand(deleteExtraneous bool) string {
	if deleteExtraneous {
		return "sync"
	}
	return "copy"
}

func copyMoveCommand(move bool, singleObject bool) string {
	switch {
	case move && singleObject:
		return "moveto"
	case singleObject:
		return "copyto"
	case move:
		return "move"
	}
	return "copy"
}

func (r *run) localPaths() LocalPaths {
	return LocalPaths{AllowedDirs: r.e.cfg.AllowedLocalDirs}
}

func (r *run) syncLocalToS3(ctx context.Context, p SyncLocalToS3Payload) error {
	src, err := r.localPaths().ResolveSource(p.LocalPath)
	if err != nil {
		return err
	}

	f := Filter{Include: p.Include, Exclude: p.Exclude}
	dst := rclone.RemoteDir(p.Bucket, p.Prefix, r.profile.PreserveLeadingSlash)
	r.logf("info", "syncing %s to %s", src, dst)
	r.preflightLocal(ctx, src, f)

	args := append([]string{syncCommand(p.DeleteExtraneous)}, f.Args()...)
	args = append(args, src, dst)
	return r.runRclone(ctx, rcloneOpts{Args: args, DryRun: p.DryRun, Track: true, Mode: logparse.ModeTransfers})
}

func (r *run) syncS3ToLocal(ctx context.Context, p SyncS3ToLocalPayload) error {
	dst, err := r.localPaths().PrepareDestination(p.LocalPath)
	if err != nil {
		return err
	}

	f := Filter{Include: p.Include, Exclude: p.Exclude}
	src := rclone.RemoteDir(p.Bucket, p.Prefix, r.profile.PreserveLeadingSlash)
	r.logf("info", "syncing %s to %s", src, dst)
	r.preflightRemote(ctx, p.Bucket, p.Prefix, f, false)

	args := append([]string{syncCommand(p.DeleteExtraneous)}, f.Args()...)
	args = append(args, src, dst)
	return r.runRclone(ctx, rcloneOpts{Args: args, DryRun: p.DryRun, Track: true, Mode: logparse.ModeTransfers})
}

func (r *run) syncStagingToS3(ctx context.Context, p SyncStagingToS3Payload) error {
	us, err := r.e.store.GetUploadSession(ctx, r.profile.ID, p.UploadID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewValidationError("upload session not found")
		}
		return fmt.Errorf("could not get upload session: %w", err)
	}
	if us.Expired(r.e.timeNow()) {
		return model.NewValidationError("upload session expired")
	}

	stagingDir := us.StagingDir
	if stagingDir == "" {
		stagingDir = r.e.paths.UploadStaging(us.ID)
	}

	dst := rclone.RemoteDir(us.Bucket, us.Prefix, r.profile.PreserveLeadingSlash)
	r.logf("info", "committing upload %s to %s", us.ID, dst)
	r.preflightLocal(ctx, stagingDir, Filter{})

	err = r.runRclone(ctx, rcloneOpts{Args: []string{"copy", stagingDir, dst}, Track: true, Mode: logparse.ModeTransfers})
	if err != nil {
		return err
	}

	if err := r.e.store.DeleteUploadSession(context.WithoutCancel(ctx), r.profile.ID, us.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
		r.logger.Warningf("could not delete upload session %s: %s", us.ID, err)
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		r.logger.Warningf("could not remove staging dir %s: %s", stagingDir, err)
	}
	return nil
}

func (r *run) deletePrefix(ctx context.Context, p DeletePrefixPayload) error {
	f := Filter{Include: p.Include, Exclude: p.Exclude}

	var args []string
	if p.DeleteAll {
		r.logf("info", "deleting all the objects of s3://%s", p.Bucket)
		r.preflightRemote(ctx, p.Bucket, "", Filter{}, true)
		args = []string{"purge", rclone.RemoteBucket(p.Bucket)}
	} else {
		r.logf("info", "deleting s3://%s/%s", p.Bucket, p.Prefix)
		r.preflightRemote(ctx, p.Bucket, p.Prefix, f, true)
		args = append([]string{"delete"}, f.Args()...)
		args = append(args, rclone.RemoteDir(p.Bucket, p.Prefix, r.profile.PreserveLeadingSlash))
	}

	return r.runRclone(ctx, rcloneOpts{Args: args, DryRun: p.DryRun, Track: true, Mode: logparse.ModeDeletes})
}

func (r *run) copyMoveObject(ctx context.Context, p CopyMoveObjectPayload) error {
	preserve := r.profile.PreserveLeadingSlash
	src := rclone.RemoteObject(p.SrcBucket, p.SrcKey, preserve)
	dst := rclone.RemoteObject(p.DstBucket, p.DstKey, preserve)
	r.preflightObject(ctx, p.SrcBucket, p.SrcKey)

	args := []string{copyMoveCommand(p.Move, true), src, dst}
	return r.runRclone(ctx, rcloneOpts{Args: args, DryRun: p.DryRun, Track: true, Mode: logparse.ModeTransfers})
}

func (r *run) copyMoveBatch(ctx context.Context, p CopyMoveBatchPayload) error {
	preserve := r.profile.PreserveLeadingSlash
	total := int64(len(p.Items))
	r.tracker.SetObjectsTotal(total)
	r.tracker.AddObjectsDone(0)
	r.logf("info", "processing %d object(s) from s3://%s to s3://%s", total, p.SrcBucket, p.DstBucket)

	command := copyMoveCommand(p.Move, true)
	for _, it := range p.Items {
		if err := ctx.Err(); err != nil {
			return err
		}

		args := []string{command, rclone.RemoteObject(p.SrcBucket, it.SrcKey, preserve), rclone.RemoteObject(p.DstBucket, it.DstKey, preserve)}
		if err := r.runRclone(ctx, rcloneOpts{Args: args, DryRun: p.DryRun}); err != nil {
			return err
		}
		r.tracker.AddObjectsDone(1)
	}

	r.logf("info", "completed")
	return nil
}

func (r *run) copyMovePrefix(ctx context.Context, p CopyMovePrefixPayload) error {
	preserve := r.profile.PreserveLeadingSlash
	f := Filter{Include: p.Include, Exclude: p.Exclude}
	src := rclone.RemoteDir(p.SrcBucket, p.SrcPrefix, preserve)
	dst := rclone.RemoteDir(p.DstBucket, p.DstPrefix, preserve)
	r.logf("info", "processing %s to %s", src, dst)
	r.preflightRemote(ctx, p.SrcBucket, p.SrcPrefix, f, false)

	args := append([]string{copyMoveCommand(p.Move, false)}, f.Args()...)
	args = append(args, src, dst)
	return r.runRclone(ctx, rcloneOpts{Args: args, DryRun: p.DryRun, Track: true, Mode: logparse.ModeTransfers})
}
