package retry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slok/xferd/internal/log"
)

const maxSampleBytes = 8192

// Sample is an unknown failure to store for later analysis.
type Sample struct {
	JobID    string
	Provider string
	Context  string
	Stderr   string
}

// UnknownSamplerConfig is the configuration of the unknown error sampler.
type UnknownSamplerConfig struct {
	// Dir is where the samples are written.
	Dir     string
	Enabled bool
	TimeNow func() time.Time
	Logger  log.Logger
}

func (c *UnknownSamplerConfig) defaults() error {
	if c.Enabled && c.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "retry.UnknownSampler"})
	return nil
}

// UnknownSampler writes unclassified rclone failures to disk. It never fails,
// errors are only logged.
type UnknownSampler struct {
	dir     string
	enabled bool
	timeNow func() time.Time
	logger  log.Logger
}

// NewUnknownSampler returns a new sampler.
func NewUnknownSampler(cfg UnknownSamplerConfig) (*UnknownSampler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &UnknownSampler{
		dir:     cfg.Dir,
		enabled: cfg.Enabled,
		timeNow: cfg.TimeNow,
		logger:  cfg.Logger,
	}, nil
}

// Capture stores the sample if enabled, returns the written file path.
func (s *UnknownSampler) Capture(sample Sample) string {
	if s == nil || !s.enabled {
		return ""
	}

	msg := strings.TrimSpace(sample.Stderr)
	if msg == "" {
		return ""
	}
	if len(msg) > maxSampleBytes {
		msg = msg[:maxSampleBytes] + "\n...[truncated]\n"
	}

	now := s.timeNow().UTC()
	sum := sha256.Sum256([]byte(sample.Context + "\n" + msg))
	name := fmt.Sprintf("%s_%s.txt", now.Format("20060102T150405Z"), hex.EncodeToString(sum[:4]))

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		s.logger.Warningf("could not create unknown errors dir: %s", err)
		return ""
	}

	header := fmt.Sprintf("captured_at=%s\njob_id=%s\nprovider=%s\ncontext=%s\n\n",
		now.Format(time.RFC3339Nano), sample.JobID, sample.Provider, sample.Context)

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(header+msg+"\n"), 0o600); err != nil {
		s.logger.Warningf("could not write unknown error sample: %s", err)
		return ""
	}

	return path
}
