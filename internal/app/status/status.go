package status

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/slok/xferd/internal/config"
	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
)

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Repository storage.Repository
	// Paths locate the job logs and artifacts.
	Paths  config.Paths
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Paths.DataDir() == "" {
		return fmt.Errorf("data dir paths are required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service retrieves the detailed status of a job.
type Service struct {
	repo   storage.Repository
	paths  config.Paths
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		paths:  cfg.Paths,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	JobID string
	// LogLines is the number of job log lines to return from the end, 0 returns none.
	LogLines int
}

// Result is the status of a job.
type Result struct {
	Job model.Job
	// ArtifactPath is set when the job produced a zip artifact that still exists.
	ArtifactPath string
	Log          []string
}

// Run retrieves the status of a job.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	s.logger.Debugf("getting status for job: %s", req.JobID)

	job, err := s.repo.GetJob(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("job not found: %s: %w", req.JobID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get job status: %w", err)
	}

	res := &Result{Job: *job}

	if job.Type.ProducesArtifact() && job.Status == model.JobStatusSucceeded {
		path := s.paths.Artifact(job.ID)
		if _, err := os.Stat(path); err == nil {
			res.ArtifactPath = path
		}
	}

	if req.LogLines > 0 {
		lines, err := tailLines(s.paths.JobLog(job.ID), req.LogLines)
		if err != nil {
			return nil, fmt.Errorf("could not read job log: %w", err)
		}
		res.Log = lines
	}

	return res, nil
}

// tailLines returns the last n lines of a file, a missing file has no lines.
// Job logs are size bounded so reading them whole is fine.
func tailLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
