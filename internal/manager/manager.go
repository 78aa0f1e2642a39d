package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slok/xferd/internal/config"
	"github.com/slok/xferd/internal/events"
	"github.com/slok/xferd/internal/executor"
	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/progress"
	"github.com/slok/xferd/internal/rclone"
	"github.com/slok/xferd/internal/retry"
	"github.com/slok/xferd/internal/storage"
)

const (
	storeTimeout     = 2 * time.Second
	retentionTimeout = 5 * time.Second
)

// ManagerConfig is the configuration of the manager.
type ManagerConfig struct {
	// Config is the engine configuration, it's never mutated.
	Config     config.Config
	Repository storage.Repository
	Runner     rclone.Runner
	Publisher  events.Publisher
	Sampler    *retry.UnknownSampler
	Lister     executor.ListerFactory
	// Stdout receives the job log lines when enabled by the config.
	Stdout  io.Writer
	TimeNow func() time.Time
	Logger  log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}
	if c.Config.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive")
	}
	if c.Config.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Publisher == nil {
		c.Publisher = events.NoopPublisher
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "manager.Manager"})
	return nil
}

// Manager owns the job queue and the worker pool. Jobs are pulled from a
// bounded FIFO queue and run with a fixed concurrency.
type Manager struct {
	cfg     config.Config
	repo    storage.Repository
	exec    *executor.Executor
	pub     events.Publisher
	reg     *jobRegistry
	queue   chan string
	sem     chan struct{}
	wg      sync.WaitGroup
	timeNow func() time.Time
	logger  log.Logger

	// backlog is the number of recovered jobs waiting for room in the queue.
	backlog atomic.Int64
}

// NewManager returns a new manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{
		cfg:     cfg.Config,
		repo:    cfg.Repository,
		pub:     cfg.Publisher,
		reg:     newJobRegistry(),
		queue:   make(chan string, cfg.Config.QueueCapacity),
		sem:     make(chan struct{}, cfg.Config.Concurrency),
		timeNow: cfg.TimeNow,
		logger:  cfg.Logger,
	}

	exec, err := executor.NewExecutor(executor.ExecutorConfig{
		Config:     cfg.Config,
		Store:      cfg.Repository,
		Runner:     cfg.Runner,
		Publisher:  cfg.Publisher,
		Sampler:    cfg.Sampler,
		Lister:     cfg.Lister,
		Processes:  m.reg,
		ActiveJobs: m.ActiveJobs,
		Stdout:     cfg.Stdout,
		TimeNow:    cfg.TimeNow,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create executor: %w", err)
	}
	m.exec = exec

	return m, nil
}

// Run dispatches the queued jobs until the context is done, then waits for the
// running jobs to end.
func (m *Manager) Run(ctx context.Context) error {
	defer m.wg.Wait()

	for {
		var jobID string
		select {
		case <-ctx.Done():
			return nil
		case jobID = <-m.queue:
		}

		select {
		case <-ctx.Done():
			m.reg.untrack(jobID)
			return nil
		case m.sem <- struct{}{}:
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer func() { <-m.sem }()
			m.runJob(ctx, jobID)
		}()
	}
}

// Enqueue adds a job to the queue. A job already queued or running in this
// manager is ignored. When the queue is full it fails with ErrQueueFull.
func (m *Manager) Enqueue(jobID string) error {
	if !m.reg.track(jobID) {
		return nil
	}

	select {
	case m.queue <- jobID:
		return nil
	default:
		m.reg.untrack(jobID)
		return model.ErrQueueFull
	}
}

// enqueueBlocking waits for room in the queue.
func (m *Manager) enqueueBlocking(ctx context.Context, jobID string) bool {
	if !m.reg.track(jobID) {
		return true
	}

	select {
	case m.queue <- jobID:
		return true
	case <-ctx.Done():
		m.reg.untrack(jobID)
		return false
	}
}

// Cancel cancels a running job, killing its rclone process. Returns false if
// the job is not running in this manager.
func (m *Manager) Cancel(jobID string) bool {
	ok := m.reg.cancel(jobID)
	if ok {
		m.logger.WithValues(log.Kv{"job-id": jobID}).Infof("job cancellation requested")
	}
	return ok
}

// QueueStats returns the stats of the pending queue.
func (m *Manager) QueueStats() model.QueueStats {
	return model.QueueStats{Depth: len(m.queue), Capacity: cap(m.queue)}
}

// ActiveJobs returns the number of jobs holding a worker slot.
func (m *Manager) ActiveJobs() int { return len(m.sem) }

// IsSupportedJobType returns true if the job type can be executed.
func (m *Manager) IsSupportedJobType(t model.JobType) bool { return m.exec.IsSupported(t) }

func (m *Manager) runJob(ctx context.Context, jobID string) {
	defer m.reg.untrack(jobID)
	logger := m.logger.WithValues(log.Kv{"job-id": jobID})

	job, err := m.getJob(ctx, jobID)
	if err != nil {
		logger.Errorf("could not load job: %s", err)
		return
	}
	if job.Status != model.JobStatusQueued {
		logger.Debugf("ignoring %s job", job.Status)
		return
	}
	if job.CancelRequested {
		m.complete(ctx, job, model.JobStatusCanceled, nil, nil)
		logger.Infof("job canceled before start")
		return
	}

	profile, err := m.getProfile(ctx, job.ProfileID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			logger.Errorf("could not load profile: %s", err)
			return
		}
		m.complete(ctx, job, model.JobStatusFailed, nil, model.NewJobError(model.ErrorCodeNotFound, "profile not found", model.ErrProfileNotFound))
		logger.Warningf("job failed: profile %q not found", job.ProfileID)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.reg.start(jobID, cancel)
	defer m.reg.finish(jobID)

	startedAt := m.timeNow().UTC()
	err = m.withStoreTimeout(ctx, storeTimeout, func(ctx context.Context) error {
		return m.repo.UpdateJobStatus(ctx, jobID, model.JobStatusUpdate{
			Status:    model.JobStatusRunning,
			StartedAt: &startedAt,
			Progress:  job.Progress,
		})
	})
	if err != nil {
		logger.Errorf("could not mark job running: %s", err)
		return
	}
	job.Status = model.JobStatusRunning
	job.StartedAt = &startedAt
	m.publish(model.EventTypeJobProgress, jobID, model.JobProgressEvent{Status: model.JobStatusRunning, Progress: job.Progress})
	logger.Infof("job started: type=%s", job.Type)

	runErr := m.exec.Execute(jobCtx, executor.JobContext{Job: *job, Profile: *profile})

	// The executor persisted the progress while running.
	if latest, err := m.getJob(ctx, jobID); err == nil {
		job.Progress = latest.Progress
	}

	switch {
	case jobCtx.Err() != nil:
		m.complete(ctx, job, model.JobStatusCanceled, job.Progress, nil)
		logger.Infof("job canceled")
	case runErr != nil:
		m.complete(ctx, job, model.JobStatusFailed, job.Progress, runErr)
		logger.Warningf("job failed: %s", runErr)
	default:
		m.complete(ctx, job, model.JobStatusSucceeded, job.Progress, nil)
		logger.Infof("job succeeded")
	}
}

// complete finalizes a job and publishes its completion.
func (m *Manager) complete(ctx context.Context, job *model.Job, status model.JobStatus, p *model.JobProgress, jobErr error) {
	var (
		msg  string
		code model.ErrorCode
	)
	switch {
	case status == model.JobStatusCanceled:
		code = model.ErrorCodeCanceled
	case jobErr != nil:
		code = errorCode(jobErr)
		msg = model.FormatErrorMessage(jobErr.Error(), code)
	}

	final := progress.Finalize(p)
	if err := m.finalizeJob(ctx, job.ID, status, final, msg, code); err != nil {
		m.logger.WithValues(log.Kv{"job-id": job.ID}).Errorf("could not finalize job: %s", err)
	}

	m.publish(model.EventTypeJobCompleted, job.ID, model.JobCompletedEvent{
		Status:    status,
		Error:     msg,
		ErrorCode: code,
		Progress:  final,
	})
}

func (m *Manager) finalizeJob(ctx context.Context, jobID string, status model.JobStatus, p *model.JobProgress, msg string, code model.ErrorCode) error {
	finishedAt := m.timeNow().UTC()
	return m.withStoreTimeout(ctx, storeTimeout, func(ctx context.Context) error {
		return m.repo.UpdateJobStatus(ctx, jobID, model.JobStatusUpdate{
			Status:     status,
			FinishedAt: &finishedAt,
			Progress:   p,
			Error:      msg,
			ErrorCode:  code,
		})
	})
}

// errorCode returns the code of a failed job error.
func errorCode(err error) model.ErrorCode {
	if code, ok := model.ErrorCodeOf(err); ok {
		return code
	}
	if code, ok := model.ErrorCodeOf(rclone.TransferEngineError(err)); ok {
		return code
	}

	switch {
	case errors.Is(err, model.ErrProfileNotFound), errors.Is(err, model.ErrNotFound):
		return model.ErrorCodeNotFound
	case errors.Is(err, context.Canceled):
		return model.ErrorCodeCanceled
	case errors.Is(err, model.ErrNotValid):
		return model.ErrorCodeValidation
	}
	return model.ErrorCodeUnknown
}

func (m *Manager) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	var job *model.Job
	err := m.withStoreTimeout(ctx, storeTimeout, func(ctx context.Context) (err error) {
		job, err = m.repo.GetJob(ctx, jobID)
		return err
	})
	return job, err
}

func (m *Manager) getProfile(ctx context.Context, profileID string) (*model.Profile, error) {
	var p *model.Profile
	err := m.withStoreTimeout(ctx, storeTimeout, func(ctx context.Context) (err error) {
		p, err = m.repo.GetProfile(ctx, profileID)
		return err
	})
	return p, err
}

// withStoreTimeout runs a store call that survives the cancellation of the
// parent context but not a slow store.
func (m *Manager) withStoreTimeout(ctx context.Context, timeout time.Duration, f func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return f(ctx)
}

func (m *Manager) publish(eventType, jobID string, payload any) {
	m.pub.Publish(events.Event{Type: eventType, JobID: jobID, Payload: payload})
}

// RecoverAndRequeue fails the jobs left running by a previous process and
// enqueues the queued ones in creation order. The jobs that don't fit in the
// queue are enqueued in background as soon as there is room.
func (m *Manager) RecoverAndRequeue(ctx context.Context) error {
	running, err := m.repo.ListJobIDsByStatus(ctx, model.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("could not list running jobs: %w", err)
	}

	for _, id := range running {
		job, err := m.getJob(ctx, id)
		if err != nil {
			m.logger.Warningf("could not load job %s: %s", id, err)
			continue
		}
		m.complete(ctx, job, model.JobStatusFailed, job.Progress, model.NewJobError(model.ErrorCodeServerRestarted, "server restarted", nil))
	}
	if len(running) > 0 {
		m.logger.Infof("%d interrupted job(s) marked as failed", len(running))
	}

	queued, err := m.repo.ListJobIDsByStatus(ctx, model.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("could not list queued jobs: %w", err)
	}

	for i, id := range queued {
		err := m.Enqueue(id)
		if err == nil {
			continue
		}
		if !errors.Is(err, model.ErrQueueFull) {
			return fmt.Errorf("could not enqueue job %s: %w", id, err)
		}

		rest := queued[i:]
		m.logger.Warningf("queue full, %d job(s) will be enqueued in background", len(rest))
		m.backlog.Store(int64(len(rest)))
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.backlog.Store(0)
			for _, id := range rest {
				if !m.enqueueBlocking(ctx, id) {
					return
				}
				m.backlog.Add(-1)
			}
		}()
		break
	}
	if len(queued) > 0 {
		m.logger.Infof("%d queued job(s) requeued", len(queued))
	}

	return nil
}

// SyncQueued enqueues the stored queued jobs this manager doesn't track yet,
// these are submitted by other processes. Stops when the queue is full and
// does nothing while recovered jobs are still waiting to be enqueued, newer
// jobs can't overtake them.
func (m *Manager) SyncQueued(ctx context.Context) (int, error) {
	if n := m.backlog.Load(); n > 0 {
		m.logger.Debugf("skipping queued jobs sync, %d recovered job(s) pending", n)
		return 0, nil
	}

	ids, err := m.repo.ListJobIDsByStatus(ctx, model.JobStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("could not list queued jobs: %w", err)
	}

	n := 0
	for _, id := range ids {
		if m.reg.isTracked(id) {
			continue
		}
		err := m.Enqueue(id)
		if errors.Is(err, model.ErrQueueFull) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("could not enqueue job %s: %w", id, err)
		}
		n++
	}

	return n, nil
}

// ProcessCancelRequests honours the cancellations recorded in the store.
// Running jobs are killed, queued jobs not tracked by the manager are
// canceled directly. Tracked queued jobs are canceled when dequeued.
func (m *Manager) ProcessCancelRequests(ctx context.Context) error {
	ids, err := m.repo.ListCancelRequestedJobIDs(ctx)
	if err != nil {
		return fmt.Errorf("could not list cancel requests: %w", err)
	}

	for _, id := range ids {
		if m.reg.isCanceling(id) {
			continue
		}
		if m.Cancel(id) || m.reg.isTracked(id) {
			continue
		}

		job, err := m.getJob(ctx, id)
		if err != nil {
			m.logger.Warningf("could not load job %s: %s", id, err)
			continue
		}
		if job.Status != model.JobStatusQueued {
			continue
		}
		m.complete(ctx, job, model.JobStatusCanceled, job.Progress, nil)
	}

	return nil
}
