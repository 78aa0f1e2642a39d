package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"

	"github.com/slok/xferd/internal/artifact"
	"github.com/slok/xferd/internal/config"
	"github.com/slok/xferd/internal/events"
	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/progress"
	"github.com/slok/xferd/internal/rclone"
	"github.com/slok/xferd/internal/retry"
	"github.com/slok/xferd/internal/s3client"
)

// Store is the persistence used by the job procedures.
type Store interface {
	progress.Store
	GetUploadSession(ctx context.Context, profileID, id string) (*model.UploadSession, error)
	DeleteUploadSession(ctx context.Context, profileID, id string) error
	ClearObjectIndex(ctx context.Context, profileID, bucket string) error
	UpsertObjectIndexBatch(ctx context.Context, profileID, bucket string, entries []model.ObjectIndexEntry, indexedAt time.Time) error
}

// ProcessRegistry is notified of the rclone process of a job while it runs, so
// it can be killed from outside the job.
type ProcessRegistry interface {
	SetProcess(jobID string, p rclone.Process)
	ClearProcess(jobID string)
}

// ListerFactory returns the S3 listing client of a profile.
type ListerFactory func(ctx context.Context, p model.Profile) (s3.ListObjectsV2APIClient, error)

// JobContext is a job execution request.
type JobContext struct {
	Job     model.Job
	Profile model.Profile
}

// ExecutorConfig is the configuration of the executor.
type ExecutorConfig struct {
	// Config is the engine configuration, it's never mutated.
	Config    config.Config
	Store     Store
	Runner    rclone.Runner
	Publisher events.Publisher
	Builder   *artifact.Builder
	Sampler   *retry.UnknownSampler
	Lister    ListerFactory
	Processes ProcessRegistry
	// ActiveJobs returns the number of running jobs, used to share the transfer parallelism.
	ActiveJobs func() int
	// Stdout receives the job log lines as JSON when enabled by the config.
	Stdout  io.Writer
	TimeNow func() time.Time
	// Rand is the jitter source of the retry backoff.
	Rand   func() float64
	Logger log.Logger
}

func (c *ExecutorConfig) defaults() error {
	if c.Config.DataDir == "" {
		return fmt.Errorf("config data dir is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.Publisher == nil {
		c.Publisher = events.NoopPublisher
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "executor.Executor"})
	if c.Builder == nil {
		b, err := artifact.NewBuilder(artifact.BuilderConfig{Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("could not create artifact builder: %w", err)
		}
		c.Builder = b
	}
	if c.Lister == nil {
		c.Lister = func(ctx context.Context, p model.Profile) (s3.ListObjectsV2APIClient, error) {
			c, err := s3client.New(ctx, p)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if c.Processes == nil {
		c.Processes = noopRegistry{}
	}
	if c.ActiveJobs == nil {
		c.ActiveJobs = func() int { return 1 }
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	return nil
}

// Executor runs the job type procedures.
type Executor struct {
	cfg        config.Config
	paths      config.Paths
	store      Store
	runner     rclone.Runner
	pub        events.Publisher
	builder    *artifact.Builder
	sampler    *retry.UnknownSampler
	lister     ListerFactory
	procs      ProcessRegistry
	activeJobs func() int
	policy     retry.Policy
	timeNow    func() time.Time
	logger     log.Logger

	stdoutMu sync.Mutex
	stdout   io.Writer
}

// NewExecutor returns a new executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rc := cfg.Config.Rclone
	return &Executor{
		cfg:        cfg.Config,
		paths:      cfg.Config.Paths(),
		store:      cfg.Store,
		runner:     cfg.Runner,
		pub:        cfg.Publisher,
		builder:    cfg.Builder,
		sampler:    cfg.Sampler,
		lister:     cfg.Lister,
		procs:      cfg.Processes,
		activeJobs: cfg.ActiveJobs,
		policy: retry.Policy{
			Attempts:    rc.RetryAttempts,
			BaseDelay:   rc.RetryBaseDelay,
			MaxDelay:    rc.RetryMaxDelay,
			JitterRatio: rc.RetryJitterRatio,
			Rand:        cfg.Rand,
		},
		timeNow: cfg.TimeNow,
		logger:  cfg.Logger,
		stdout:  cfg.Stdout,
	}, nil
}

// IsSupported returns true if the executor has a procedure for the job type.
func (e *Executor) IsSupported(t model.JobType) bool { return t.Valid() }

// Execute runs the procedure of the job. The payload is validated before
// anything else happens, validation failures don't touch rclone.
func (e *Executor) Execute(ctx context.Context, jc JobContext) error {
	payload, err := ParsePayload(jc.Job.Type, jc.Job.Payload, ParseOpts{PreserveLeadingSlash: jc.Profile.PreserveLeadingSlash})
	if err != nil {
		return err
	}

	r, err := e.newRun(jc)
	if err != nil {
		return err
	}
	defer r.close()

	switch p := payload.(type) {
	case SyncLocalToS3Payload:
		return r.syncLocalToS3(ctx, p)
	case SyncS3ToLocalPayload:
		return r.syncS3ToLocal(ctx, p)
	case SyncStagingToS3Payload:
		return r.syncStagingToS3(ctx, p)
	case DeletePrefixPayload:
		return r.deletePrefix(ctx, p)
	case CopyMoveObjectPayload:
		return r.copyMoveObject(ctx, p)
	case CopyMoveBatchPayload:
		return r.copyMoveBatch(ctx, p)
	case CopyMovePrefixPayload:
		return r.copyMovePrefix(ctx, p)
	case ZipPrefixPayload:
		return r.zipPrefix(ctx, p)
	case ZipObjectsPayload:
		return r.zipObjects(ctx, p)
	case DeleteObjectsPayload:
		return r.deleteObjects(ctx, p)
	case IndexObjectsPayload:
		return r.indexObjects(ctx, p)
	}

	return model.NewValidationError("unsupported job type %q", jc.Job.Type)
}

// run is the state of a single job execution.
type run struct {
	e       *Executor
	job     model.Job
	profile model.Profile
	jobLog  *progress.JobLog
	tracker *progress.Tracker
	logger  log.Logger
}

func (e *Executor) newRun(jc JobContext) (*run, error) {
	jobLog, err := progress.OpenJobLog(e.paths.JobLog(jc.Job.ID), e.cfg.JobLogMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("could not open job log: %w", err)
	}

	logger := e.logger.WithValues(log.Kv{"job-id": jc.Job.ID, "job-type": jc.Job.Type})
	tracker, err := progress.NewTracker(progress.TrackerConfig{
		JobID:     jc.Job.ID,
		Store:     e.store,
		Publisher: e.pub,
		TimeNow:   e.timeNow,
		Logger:    logger,
	})
	if err != nil {
		_ = jobLog.Close()
		return nil, fmt.Errorf("could not create progress tracker: %w", err)
	}

	return &run{
		e:       e,
		job:     jc.Job,
		profile: jc.Profile,
		jobLog:  jobLog,
		tracker: tracker,
		logger:  logger,
	}, nil
}

func (r *run) close() {
	if err := r.jobLog.Close(); err != nil {
		r.logger.Warningf("could not close job log: %s", err)
	}
}

// logf writes a job log line and publishes it.
func (r *run) logf(level, format string, args ...any) {
	r.emit(level, fmt.Sprintf(format, args...))
}

func (r *run) emit(level, msg string) {
	r.jobLog.Linef(level, "%s", msg)
	r.e.pub.Publish(events.Event{
		Type:    model.EventTypeJobLog,
		JobID:   r.job.ID,
		Payload: model.JobLogEvent{Level: level, Message: msg},
	})
	r.e.emitStdout(r.job.ID, level, msg)
}

type stdoutLine struct {
	Ts        string `json:"ts"`
	Event     string `json:"event"`
	Component string `json:"component"`
	JobID     string `json:"job_id"`
	Level     string `json:"level"`
	Msg       string `json:"msg"`
}

func (e *Executor) emitStdout(jobID, level, msg string) {
	if !e.cfg.JobLogEmitStdout {
		return
	}

	data, err := json.Marshal(stdoutLine{
		Ts:        e.timeNow().UTC().Format(time.RFC3339Nano),
		Event:     model.EventTypeJobLog,
		Component: "job",
		JobID:     jobID,
		Level:     level,
		Msg:       msg,
	})
	if err != nil {
		return
	}

	e.stdoutMu.Lock()
	defer e.stdoutMu.Unlock()
	_, _ = e.stdout.Write(append(data, '\n'))
}

type noopRegistry struct{}

func (noopRegistry) SetProcess(string, rclone.Process) {}
func (noopRegistry) ClearProcess(string)               {}
