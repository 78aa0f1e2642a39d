package doctor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/slok/xferd/internal/config"
	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/rclone"
	"github.com/slok/xferd/internal/storage"
)

// TransferEngine resolves the rclone binary and checks its version.
type TransferEngine interface {
	EnsureCompatible(ctx context.Context) (path string, version string, err error)
}

// SchemaVersioner returns the applied database schema version.
type SchemaVersioner interface {
	SchemaVersion(ctx context.Context) (uint, error)
}

// ServiceConfig is the configuration for the doctor service.
type ServiceConfig struct {
	Config     config.Config
	Engine     TransferEngine
	Repository storage.ProfileRepository
	// Schema is optional, when missing the database check is skipped.
	Schema SchemaVersioner
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Config.DataDir == "" {
		return fmt.Errorf("config data dir is required")
	}
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Doctor"})
	return nil
}

// Service runs the environment checks needed to run jobs.
type Service struct {
	cfg    config.Config
	engine TransferEngine
	repo   storage.ProfileRepository
	schema SchemaVersioner
	logger log.Logger
}

// NewService creates a new doctor service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		cfg:    cfg.Config,
		engine: cfg.Engine,
		repo:   cfg.Repository,
		schema: cfg.Schema,
		logger: cfg.Logger,
	}, nil
}

// Run runs all the checks, a failed check doesn't stop the others.
func (s *Service) Run(ctx context.Context) model.CheckResults {
	results := model.CheckResults{
		s.checkTransferEngine(ctx),
		s.checkDataDir(),
	}
	if s.schema != nil {
		results = append(results, s.checkDatabase(ctx))
	}
	results = append(results, s.checkProfiles(ctx))
	results = append(results, s.checkAllowedDirs()...)

	ok, warnings, errs := results.Summary()
	s.logger.Debugf("checks finished: ok=%d warnings=%d errors=%d", ok, warnings, errs)
	return results
}

func (s *Service) checkTransferEngine(ctx context.Context) model.CheckResult {
	r := model.CheckResult{ID: "rclone"}
	path, version, err := s.engine.EnsureCompatible(ctx)
	if err != nil {
		r.Status = model.CheckStatusError
		r.Message = rclone.TransferEngineError(err).Error()
		return r
	}
	r.Status = model.CheckStatusOK
	r.Message = fmt.Sprintf("%s (%s)", version, path)
	return r
}

func (s *Service) checkDataDir() model.CheckResult {
	r := model.CheckResult{ID: "data-dir"}
	dir := s.cfg.DataDir

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		r.Status = model.CheckStatusWarning
		r.Message = fmt.Sprintf("%s doesn't exist, it will be created", dir)
		return r
	case err != nil:
		r.Status = model.CheckStatusError
		r.Message = err.Error()
		return r
	case !info.IsDir():
		r.Status = model.CheckStatusError
		r.Message = fmt.Sprintf("%s is not a directory", dir)
		return r
	}

	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		r.Status = model.CheckStatusError
		r.Message = fmt.Sprintf("%s is not writable: %s", dir, err)
		return r
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	r.Status = model.CheckStatusOK
	r.Message = dir
	return r
}

func (s *Service) checkDatabase(ctx context.Context) model.CheckResult {
	r := model.CheckResult{ID: "database"}
	v, err := s.schema.SchemaVersion(ctx)
	if err != nil {
		r.Status = model.CheckStatusError
		r.Message = err.Error()
		return r
	}
	r.Status = model.CheckStatusOK
	r.Message = fmt.Sprintf("schema version %d", v)
	return r
}

func (s *Service) checkProfiles(ctx context.Context) model.CheckResult {
	r := model.CheckResult{ID: "profiles"}
	ps, err := s.repo.ListProfiles(ctx)
	switch {
	case err != nil:
		r.Status = model.CheckStatusError
		r.Message = err.Error()
	case len(ps) == 0:
		r.Status = model.CheckStatusWarning
		r.Message = "no profiles, add one with `xferd profile add`"
	default:
		r.Status = model.CheckStatusOK
		r.Message = fmt.Sprintf("%d profile(s)", len(ps))
	}
	return r
}

func (s *Service) checkAllowedDirs() []model.CheckResult {
	if len(s.cfg.AllowedLocalDirs) == 0 {
		return []model.CheckResult{{
			ID:      "allowed-dirs",
			Status:  model.CheckStatusWarning,
			Message: "no allowed local dirs, local syncs can use any path",
		}}
	}

	results := make([]model.CheckResult, 0, len(s.cfg.AllowedLocalDirs))
	for _, d := range s.cfg.AllowedLocalDirs {
		r := model.CheckResult{ID: "allowed-dirs", Status: model.CheckStatusOK, Message: d}
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			r.Status = model.CheckStatusWarning
			r.Message = fmt.Sprintf("%s is not an existing directory", d)
		}
		results = append(results, r)
	}
	return results
}
