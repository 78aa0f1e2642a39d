package io

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/xferd/internal/config"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/utils/env"
)

// ProfileYAMLRepository loads S3 profiles from YAML files.
type ProfileYAMLRepository struct {
	fs fs.FS
}

// NewProfileYAMLRepository creates a new YAML profile repository.
func NewProfileYAMLRepository(filesystem fs.FS) *ProfileYAMLRepository {
	return &ProfileYAMLRepository{fs: filesystem}
}

// GetProfile loads a profile from a YAML file. The returned profile has no ID,
// that is set when stored.
func (r *ProfileYAMLRepository) GetProfile(ctx context.Context, path string) (model.Profile, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.Profile{}, fmt.Errorf("reading profile file: %w", err)
	}

	if ctx.Err() != nil {
		return model.Profile{}, ctx.Err()
	}

	var p ProfileFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return model.Profile{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := p.validate(); err != nil {
		return model.Profile{}, fmt.Errorf("invalid profile: %w", err)
	}

	return p.toModel(), nil
}

// ProfileFile is the YAML structure of a profile.
type ProfileFile struct {
	Name                 string   `yaml:"name"`
	Provider             string   `yaml:"provider"`
	Endpoint             string   `yaml:"endpoint"`
	Region               string   `yaml:"region"`
	ForcePathStyle       bool     `yaml:"force_path_style"`
	PreserveLeadingSlash bool     `yaml:"preserve_leading_slash"`
	Credentials          CredFile `yaml:"credentials"`
	TLS                  *TLSFile `yaml:"tls,omitempty"`
}

// CredFile is the YAML structure of profile credentials.
type CredFile struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// TLSFile is the YAML structure of the profile TLS settings.
type TLSFile struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Mode               string `yaml:"mode"`
	ClientCert         string `yaml:"client_cert"`
	ClientKey          string `yaml:"client_key"`
	CACert             string `yaml:"ca_cert"`
}

func (p ProfileFile) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}

	switch model.ProfileProvider(p.Provider) {
	case model.ProfileProviderAWS, model.ProfileProviderS3Compatible:
	default:
		return fmt.Errorf("provider must be %q or %q, got: %q", model.ProfileProviderAWS, model.ProfileProviderS3Compatible, p.Provider)
	}

	if model.ProfileProvider(p.Provider) == model.ProfileProviderS3Compatible && p.Endpoint == "" {
		return fmt.Errorf("endpoint is required for %s profiles", model.ProfileProviderS3Compatible)
	}

	if p.TLS != nil {
		switch model.TLSMode(p.TLS.Mode) {
		case "", model.TLSModeDisabled:
		case model.TLSModeMTLS:
			if p.TLS.ClientCert == "" || p.TLS.ClientKey == "" {
				return fmt.Errorf("mtls requires client certificate and key")
			}
		default:
			return fmt.Errorf("unknown tls mode %q", p.TLS.Mode)
		}
	}

	return nil
}

func (p ProfileFile) toModel() model.Profile {
	region := p.Region
	if region == "" {
		region = "us-east-1"
	}

	prof := model.Profile{
		Name:                 strings.TrimSpace(p.Name),
		Provider:             model.ProfileProvider(p.Provider),
		Endpoint:             p.Endpoint,
		Region:               region,
		ForcePathStyle:       p.ForcePathStyle,
		PreserveLeadingSlash: p.PreserveLeadingSlash,
		AccessKeyID:          p.Credentials.AccessKeyID,
		SecretAccessKey:      p.Credentials.SecretAccessKey,
		SessionToken:         p.Credentials.SessionToken,
	}

	if p.TLS != nil {
		prof.TLSInsecureSkipVerify = p.TLS.InsecureSkipVerify
		mode := model.TLSMode(p.TLS.Mode)
		if mode == "" {
			mode = model.TLSModeDisabled
		}
		prof.TLS = &model.TLSConfig{
			Mode:          mode,
			ClientCertPEM: p.TLS.ClientCert,
			ClientKeyPEM:  p.TLS.ClientKey,
			CACertPEM:     p.TLS.CACert,
		}
	}

	return prof
}

// ConfigYAMLRepository loads engine configuration overlays from YAML files.
type ConfigYAMLRepository struct {
	fs fs.FS
}

// NewConfigYAMLRepository creates a new YAML config repository.
func NewConfigYAMLRepository(filesystem fs.FS) *ConfigYAMLRepository {
	return &ConfigYAMLRepository{fs: filesystem}
}

// GetConfig loads the YAML file at path and applies the set values on top of base.
func (r *ConfigYAMLRepository) GetConfig(ctx context.Context, path string, base config.Config) (config.Config, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return config.Config{}, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return config.Config{}, ctx.Err()
	}

	var f ConfigFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return config.Config{}, fmt.Errorf("parsing YAML: %w", err)
	}

	cfg, err := f.apply(base)
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ConfigFile is the YAML structure of the configuration overlay. Unset fields keep
// the base value.
type ConfigFile struct {
	QueueCapacity       *int              `yaml:"queue_capacity"`
	Concurrency         *int              `yaml:"concurrency"`
	LogLineMaxBytes     *int              `yaml:"log_line_max_bytes"`
	JobLogMaxBytes      *int64            `yaml:"job_log_max_bytes"`
	JobLogEmitStdout    *bool             `yaml:"job_log_emit_stdout"`
	JobLogRetention     *string           `yaml:"job_log_retention"`
	JobRetention        *string           `yaml:"job_retention"`
	UploadSessionTTL    *string           `yaml:"upload_session_ttl"`
	MaintenanceInterval *string           `yaml:"maintenance_interval"`
	AllowedLocalDirs    []string          `yaml:"allowed_local_dirs"`
	Rclone              *RcloneConfigFile `yaml:"rclone"`
}

// RcloneConfigFile is the YAML structure of the transfer engine settings.
type RcloneConfigFile struct {
	Path                 *string           `yaml:"path"`
	Env                  map[string]string `yaml:"env"`
	StatsInterval        *string           `yaml:"stats_interval"`
	Tune                 *bool             `yaml:"tune"`
	MaxTransfers         *int              `yaml:"max_transfers"`
	MaxCheckers          *int              `yaml:"max_checkers"`
	S3UploadConcurrency  *int              `yaml:"s3_upload_concurrency"`
	S3ChunkSizeMiB       *int              `yaml:"s3_chunk_size_mib"`
	RetryAttempts        *int              `yaml:"retry_attempts"`
	RetryBaseDelay       *string           `yaml:"retry_base_delay"`
	RetryMaxDelay        *string           `yaml:"retry_max_delay"`
	RetryJitterRatio     *float64          `yaml:"retry_jitter_ratio"`
	CaptureUnknownErrors *bool             `yaml:"capture_unknown_errors"`
}

func (f ConfigFile) apply(c config.Config) (config.Config, error) {
	setInt(&c.QueueCapacity, f.QueueCapacity)
	setInt(&c.Concurrency, f.Concurrency)
	setInt(&c.LogLineMaxBytes, f.LogLineMaxBytes)
	if f.JobLogMaxBytes != nil {
		c.JobLogMaxBytes = *f.JobLogMaxBytes
	}
	if f.JobLogEmitStdout != nil {
		c.JobLogEmitStdout = *f.JobLogEmitStdout
	}
	if len(f.AllowedLocalDirs) > 0 {
		c.AllowedLocalDirs = append([]string{}, f.AllowedLocalDirs...)
	}

	durations := []struct {
		name string
		dst  *time.Duration
		v    *string
	}{
		{"job_log_retention", &c.JobLogRetention, f.JobLogRetention},
		{"job_retention", &c.JobRetention, f.JobRetention},
		{"upload_session_ttl", &c.UploadSessionTTL, f.UploadSessionTTL},
		{"maintenance_interval", &c.MaintenanceInterval, f.MaintenanceInterval},
	}

	if r := f.Rclone; r != nil {
		if r.Path != nil {
			c.Rclone.Path = *r.Path
		}
		if len(r.Env) > 0 {
			c.Rclone.Env = env.Merge(c.Rclone.Env, r.Env)
		}
		if r.Tune != nil {
			c.Rclone.TuneEnabled = *r.Tune
		}
		setInt(&c.Rclone.MaxTransfers, r.MaxTransfers)
		setInt(&c.Rclone.MaxCheckers, r.MaxCheckers)
		setInt(&c.Rclone.S3UploadConcurrency, r.S3UploadConcurrency)
		setInt(&c.Rclone.S3ChunkSizeMiB, r.S3ChunkSizeMiB)
		setInt(&c.Rclone.RetryAttempts, r.RetryAttempts)
		if r.RetryJitterRatio != nil {
			c.Rclone.RetryJitterRatio = *r.RetryJitterRatio
		}
		if r.CaptureUnknownErrors != nil {
			c.Rclone.CaptureUnknownErrors = *r.CaptureUnknownErrors
		}

		durations = append(durations, []struct {
			name string
			dst  *time.Duration
			v    *string
		}{
			{"rclone.stats_interval", &c.Rclone.StatsInterval, r.StatsInterval},
			{"rclone.retry_base_delay", &c.Rclone.RetryBaseDelay, r.RetryBaseDelay},
			{"rclone.retry_max_delay", &c.Rclone.RetryMaxDelay, r.RetryMaxDelay},
		}...)
	}

	for _, d := range durations {
		if d.v == nil {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			return c, fmt.Errorf("%s: invalid duration %q: %w", d.name, *d.v, err)
		}
		*d.dst = v
	}

	return c, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
