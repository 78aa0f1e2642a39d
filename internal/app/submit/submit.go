package submit

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/xferd/internal/executor"
	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
)

// ServiceConfig is the configuration for the submit service.
type ServiceConfig struct {
	Repository storage.Repository
	TimeNow    func() time.Time
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Submit"})
	return nil
}

// Service stores new jobs in the queued status, a running server picks them up.
type Service struct {
	repo    storage.Repository
	timeNow func() time.Time
	logger  log.Logger
}

// NewService creates a new submit service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:    cfg.Repository,
		timeNow: cfg.TimeNow,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the submit request parameters.
type Request struct {
	// Profile is the profile name or ID.
	Profile string
	Type    model.JobType
	Payload map[string]any
}

// Run validates and stores a new queued job.
func (s *Service) Run(ctx context.Context, req Request) (*model.Job, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unsupported job type %q: %w", req.Type, model.ErrNotValid)
	}

	profile, err := storage.GetProfileByNameOrID(ctx, s.repo, req.Profile)
	if err != nil {
		return nil, err
	}

	// Rejected here so invalid jobs never reach the queue.
	if _, err := executor.ParsePayload(req.Type, req.Payload, executor.ParseOpts{PreserveLeadingSlash: profile.PreserveLeadingSlash}); err != nil {
		return nil, err
	}

	now := s.timeNow().UTC()
	job := model.Job{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		ProfileID: profile.ID,
		Type:      req.Type,
		Payload:   req.Payload,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("could not save job: %w", err)
	}

	s.logger.Infof("submitted %s job: %s", job.Type, job.ID)
	return &job, nil
}
