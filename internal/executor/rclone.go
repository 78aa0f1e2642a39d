package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/slok/xferd/internal/logparse"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/rclone"
	"github.com/slok/xferd/internal/retry"
)

const progressBufferSize = 128

// rcloneOpts is a tracked rclone command execution.
type rcloneOpts struct {
	// Args are the command arguments, the first one is the rclone command.
	Args   []string
	DryRun bool
	// Track feeds the rclone stats to the progress tracker.
	Track bool
	Mode  logparse.Mode
}

// runRclone runs the command retrying the retryable failures. Cancellation
// wins over any other failure.
func (r *run) runRclone(ctx context.Context, o rcloneOpts) error {
	if len(o.Args) == 0 {
		return fmt.Errorf("rclone command is required")
	}
	command := o.Args[0]
	args := r.rcloneArgs(o)

	maxAttempts := r.e.policy.MaxAttempts()
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			r.logf("info", "retrying %s (attempt %d/%d)", command, attempt, maxAttempts)
		}

		stderr, err := r.attempt(ctx, args, o)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil {
			return nil
		}

		// Start failures (missing binary, bad profile...) never retry.
		var startErr *startError
		if errors.As(err, &startErr) {
			return startErr.err
		}

		c := retry.Classify(err, stderr)
		if c.Code == model.ErrorCodeUnknown {
			r.e.sampler.Capture(retry.Sample{
				JobID:    r.job.ID,
				Provider: string(r.profile.Provider),
				Context:  "rclone " + command,
				Stderr:   stderr,
			})
		}

		if !r.e.policy.ShouldRetry(attempt, c) {
			jobErr := retry.JobError(err, stderr, "rclone "+command)
			r.logf("error", "%s", jobErr)
			return jobErr
		}

		delay := r.e.policy.Delay(attempt, c.Code)
		r.logf("warn", "%s failed with %s; retrying in %s (attempt %d/%d)", command, c.Code, delay, attempt, maxAttempts)
		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (r *run) rcloneArgs(o rcloneOpts) []string {
	rc := r.e.cfg.Rclone

	stats := "0"
	if o.Track {
		stats = rc.StatsInterval.String()
	}
	args := []string{"--stats", stats, "--stats-log-level", "NOTICE", "--use-json-log"}
	if o.DryRun {
		args = append(args, "--dry-run")
	}
	if rc.S3ChunkSizeMiB > 0 && !rclone.HasFlag(o.Args, "--s3-chunk-size") {
		args = append(args, "--s3-chunk-size", fmt.Sprintf("%dM", rc.S3ChunkSizeMiB))
	}
	args = append(args, o.Args...)

	if !rc.TuneEnabled {
		return args
	}
	tune, ok := rclone.ComputeTune(o.Args[0], r.e.activeJobs(), rclone.TuneLimits{
		MaxTransfers:        rc.MaxTransfers,
		MaxCheckers:         rc.MaxCheckers,
		S3UploadConcurrency: rc.S3UploadConcurrency,
	}, true)
	if !ok {
		return args
	}
	r.logf("info", "%s", tune)

	return tune.Apply(args, true)
}

type startError struct{ err error }

func (e *startError) Error() string { return e.err.Error() }
func (e *startError) Unwrap() error { return e.err }

// attempt runs a single rclone process streaming its outputs to the job log
// and the progress tracker. Returns the stderr tail.
func (r *run) attempt(ctx context.Context, args []string, o rcloneOpts) (string, error) {
	proc, err := r.e.runner.Start(ctx, rclone.Invocation{JobID: r.job.ID, Profile: r.profile, Args: args})
	if err != nil {
		return "", &startError{err: err}
	}
	r.e.procs.SetProcess(r.job.ID, proc)

	var updates chan logparse.Update
	var tracking errgroup.Group
	if o.Track {
		updates = make(chan logparse.Update, progressBufferSize)
		tracking.Go(func() error {
			r.tracker.Run(context.Background(), updates)
			return nil
		})
	}

	capture := logparse.NewCapture(logparse.DefaultCaptureLines)
	var pumps errgroup.Group
	pumps.Go(func() error { return r.pump(proc.Stdout(), "info", nil, updates, o.Mode) })
	pumps.Go(func() error { return r.pump(proc.Stderr(), "error", capture, updates, o.Mode) })

	// Outputs are read until EOF before waiting, otherwise the pipes are closed
	// while still being read.
	pumpErr := pumps.Wait()
	waitErr := proc.Wait()
	r.e.procs.ClearProcess(r.job.ID)

	if updates != nil {
		close(updates)
		_ = tracking.Wait()
	}

	if waitErr == nil && pumpErr != nil {
		waitErr = fmt.Errorf("could not read rclone output: %w", pumpErr)
	}
	return capture.String(), waitErr
}

// pump streams the lines of a process output.
func (r *run) pump(out io.Reader, level string, capture *logparse.Capture, updates chan<- logparse.Update, mode logparse.Mode) error {
	br := bufio.NewReaderSize(out, logparse.ReadBufferSize)
	for {
		line, _, err := logparse.ReadLine(br, r.e.cfg.LogLineMaxBytes)
		if line != "" {
			msg, stats := logparse.ParseLine(line)
			capture.Add(msg)
			r.emit(level, msg)

			if stats != nil && updates != nil {
				select {
				case updates <- stats.Update(mode):
				default:
				}
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// Keep draining so the process never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, out)
			if errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// maxListStderrBytes bounds the stderr kept from listing commands.
const maxListStderrBytes = 64 * 1024

// command runs a non tracked rclone command calling consume with its stdout.
// When consume fails the process is killed.
func (r *run) command(ctx context.Context, args []string, consume func(stdout io.Reader) error) error {
	proc, err := r.e.runner.Start(ctx, rclone.Invocation{JobID: r.job.ID, Profile: r.profile, Args: args})
	if err != nil {
		return err
	}

	var stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&stderr, io.LimitReader(proc.Stderr(), maxListStderrBytes))
		_, _ = io.Copy(io.Discard, proc.Stderr())
		return err
	})

	consumeErr := consume(proc.Stdout())
	if consumeErr != nil {
		_ = proc.Kill()
	}
	_, _ = io.Copy(io.Discard, proc.Stdout())
	_ = g.Wait()
	waitErr := proc.Wait()

	if consumeErr != nil {
		return consumeErr
	}
	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return retry.JobError(waitErr, strings.TrimSpace(stderr.String()), "rclone "+args[0])
	}
	return nil
}

// list runs an `rclone lsjson` like command calling onEntry for each entry.
func (r *run) list(ctx context.Context, args []string, onEntry func(rclone.ListEntry) error) error {
	return r.command(ctx, args, func(stdout io.Reader) error {
		return rclone.DecodeList(stdout, func(e rclone.ListEntry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return onEntry(e)
		})
	})
}
