package profileadd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
)

// ServiceConfig is the configuration for the profile add service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.ProfileAdd"})
	return nil
}

// Service stores new S3 profiles.
type Service struct {
	repo    storage.Repository
	timeNow func() time.Time
	logger  log.Logger
}

// NewService creates a new profile add service.
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

// Request represents the profile add request parameters.
type Request struct {
	// Profile is the profile to store, the ID is generated.
	Profile model.Profile
}

// Run validates and stores a profile with a unique name.
func (s *Service) Run(ctx context.Context, req Request) (*model.Profile, error) {
	now := s.timeNow().UTC()
	p := req.Profile
	p.ID = ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	p.CreatedAt = now

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	_, err := s.repo.GetProfileByName(ctx, p.Name)
	if err == nil {
		return nil, fmt.Errorf("profile with name %q already exists: %w", p.Name, model.ErrAlreadyExists)
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("could not check name uniqueness: %w", err)
	}

	if err := s.repo.CreateProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("could not save profile: %w", err)
	}

	s.logger.Infof("created profile: %s (%s)", p.Name, p.ID)
	return &p, nil
}
