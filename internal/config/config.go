package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/slok/xferd/internal/conventions"
	"github.com/slok/xferd/internal/utils/env"
)

// Config is the runtime configuration of the job engine. It is built once at
// startup and never mutated afterwards, nothing inside the engine reads the
// environment.
type Config struct {
	DataDir string

	QueueCapacity int
	Concurrency   int

	LogLineMaxBytes int
	// JobLogMaxBytes is the max size of a job log file, 0 is unlimited.
	JobLogMaxBytes   int64
	JobLogEmitStdout bool
	JobLogRetention  time.Duration
	// JobRetention deletes finished jobs older than this, 0 keeps them forever.
	JobRetention        time.Duration
	UploadSessionTTL    time.Duration
	MaintenanceInterval time.Duration
	AllowedLocalDirs    []string

	Rclone RcloneConfig
}

// RcloneConfig is the transfer engine configuration.
type RcloneConfig struct {
	// Path is an explicit rclone binary path, empty resolves it.
	Path          string
	Env           map[string]string
	StatsInterval time.Duration

	TuneEnabled         bool
	MaxTransfers        int
	MaxCheckers         int
	S3UploadConcurrency int
	S3ChunkSizeMiB      int

	RetryAttempts        int
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	RetryJitterRatio     float64
	CaptureUnknownErrors bool
}

const (
	DefaultQueueCapacity       = 256
	DefaultLogLineMaxBytes     = 256 * 1024
	DefaultStatsInterval       = 2 * time.Second
	MinStatsInterval           = 500 * time.Millisecond
	DefaultMaintenanceInterval = 30 * time.Minute
	DefaultUploadSessionTTL    = 24 * time.Hour
)

// Defaults returns the default configuration.
func Defaults() Config {
	cpu := runtime.NumCPU()
	return Config{
		QueueCapacity:       DefaultQueueCapacity,
		Concurrency:         2,
		LogLineMaxBytes:     DefaultLogLineMaxBytes,
		UploadSessionTTL:    DefaultUploadSessionTTL,
		MaintenanceInterval: DefaultMaintenanceInterval,
		Rclone: RcloneConfig{
			StatsInterval:    DefaultStatsInterval,
			TuneEnabled:      true,
			MaxTransfers:     clamp(cpu*4, 4, 128),
			MaxCheckers:      clamp(cpu*8, 8, 256),
			RetryAttempts:    3,
			RetryBaseDelay:   800 * time.Millisecond,
			RetryMaxDelay:    8 * time.Second,
			RetryJitterRatio: 0.2,
		},
	}
}

// Validate returns a validated copy of the configuration. Out of range
// tunables are clamped, missing required settings are an error.
func (c Config) Validate() (Config, error) {
	if c.DataDir == "" {
		return c, fmt.Errorf("data dir is required")
	}
	c.DataDir = filepath.Clean(c.DataDir)

	if c.QueueCapacity < 1 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.LogLineMaxBytes < 1 {
		c.LogLineMaxBytes = DefaultLogLineMaxBytes
	}
	if c.JobLogMaxBytes < 0 {
		return c, fmt.Errorf("job log max bytes can't be negative")
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if c.UploadSessionTTL <= 0 {
		c.UploadSessionTTL = DefaultUploadSessionTTL
	}

	dirs := make([]string, 0, len(c.AllowedLocalDirs))
	for _, d := range c.AllowedLocalDirs {
		d = filepath.Clean(d)
		if d == "" || d == "." {
			continue
		}
		dirs = append(dirs, d)
	}
	c.AllowedLocalDirs = dirs

	r := &c.Rclone
	if r.StatsInterval == 0 {
		r.StatsInterval = DefaultStatsInterval
	}
	if r.StatsInterval < MinStatsInterval {
		r.StatsInterval = MinStatsInterval
	}
	if r.MaxTransfers < 1 {
		r.MaxTransfers = 1
	}
	if r.MaxCheckers < 1 {
		r.MaxCheckers = 1
	}
	if r.S3UploadConcurrency < 0 {
		r.S3UploadConcurrency = 0
	}
	if r.S3ChunkSizeMiB < 0 {
		r.S3ChunkSizeMiB = 0
	}
	if r.RetryAttempts < 1 {
		r.RetryAttempts = 1
	}
	if r.RetryBaseDelay < 0 {
		r.RetryBaseDelay = 0
	}
	if r.RetryMaxDelay < r.RetryBaseDelay {
		r.RetryMaxDelay = r.RetryBaseDelay
	}
	r.RetryJitterRatio = min(max(r.RetryJitterRatio, 0), 1)

	r.Env = env.Merge(nil, r.Env)

	return c, nil
}

// Paths is the on disk layout of the data dir.
type Paths struct {
	dataDir string
}

// Paths returns the data dir layout of the configuration.
func (c Config) Paths() Paths { return Paths{dataDir: c.DataDir} }

func (p Paths) DataDir() string {
	return p.dataDir
}

func (p Paths) DB() string {
	return conventions.DBPath(p.dataDir)
}

func (p Paths) Lock() string {
	return conventions.LockPath(p.dataDir)
}

func (p Paths) JobLogs() string {
	return conventions.JobLogsPath(p.dataDir)
}

func (p Paths) JobLog(id string) string {
	return conventions.JobLogPath(p.dataDir, id)
}

func (p Paths) JobCmd(id string) string {
	return conventions.JobCmdPath(p.dataDir, id)
}

func (p Paths) JobRcloneConfig(id string) string {
	return conventions.JobRcloneConfigPath(p.dataDir, id)
}

func (p Paths) Artifacts() string {
	return conventions.ArtifactsPath(p.dataDir)
}

func (p Paths) Artifact(id string) string {
	return conventions.ArtifactPath(p.dataDir, id)
}

func (p Paths) ArtifactTmp(id string) string {
	return conventions.ArtifactTmpPath(p.dataDir, id)
}

func (p Paths) Staging() string {
	return conventions.StagingPath(p.dataDir)
}

func (p Paths) UploadStaging(id string) string {
	return conventions.UploadStagingPath(p.dataDir, id)
}

func (p Paths) UnknownErrors() string {
	return conventions.UnknownErrorsPath(p.dataDir)
}

func (p Paths) Profiles() string {
	return conventions.ProfilesPath(p.dataDir)
}

func clamp(v, lo, hi int) int { return min(max(v, lo), hi) }
