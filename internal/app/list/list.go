package list

import (
	"context"
	"fmt"

	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
)

// ServiceConfig is the configuration for the list service.
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

	return nil
}

// Service lists jobs with optional filtering.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	// StatusFilter is an optional filter to only show jobs with this status.
	StatusFilter *model.JobStatus
	// Limit is the max number of jobs, 0 is unlimited.
	Limit int
}

// Run lists the jobs newest first, optionally filtered by status.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Job, error) {
	s.logger.Debugf("listing jobs with filter: %v", req.StatusFilter)

	opts := storage.ListJobsOpts{Limit: max(req.Limit, 0)}
	if req.StatusFilter != nil {
		opts.Status = *req.StatusFilter
	}

	jobs, err := s.repo.ListJobs(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("could not list jobs: %w", err)
	}

	s.logger.Debugf("found %d jobs", len(jobs))
	return jobs, nil
}
