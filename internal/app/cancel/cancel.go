package cancel

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
)

// ServiceConfig is the configuration for the cancel service.
type ServiceConfig struct {
	Repository storage.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Cancel"})
	return nil
}

// Service records job cancellations. The server honours them, killing the
// running jobs and finalizing the queued ones.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new cancel service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the cancel request parameters.
type Request struct {
	JobID string
}

// Run requests the cancellation of a job that didn't finish yet.
func (s *Service) Run(ctx context.Context, req Request) (*model.Job, error) {
	job, err := s.repo.GetJob(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("job not found: %s: %w", req.JobID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get job: %w", err)
	}

	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("cannot cancel job: already finished (current status: %s): %w", job.Status, model.ErrNotValid)
	}

	if err := s.repo.RequestJobCancel(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("could not request job cancel: %w", err)
	}
	job.CancelRequested = true

	s.logger.Infof("cancel requested for job: %s", job.ID)
	return job, nil
}
