package profilelist

import (
	"context"
	"fmt"

	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
)

// ServiceConfig is the configuration for the profile list service.
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

// Service lists the stored S3 profiles.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new profile list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the profile list request parameters.
type Request struct{}

// Run lists the profiles.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Profile, error) {
	profiles, err := s.repo.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list profiles: %w", err)
	}

	s.logger.Debugf("found %d profiles", len(profiles))
	return profiles, nil
}
