package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/config"
)

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		cfg    func() config.Config
		expCfg func() config.Config
		expErr bool
	}{
		"Missing data dir should fail.": {
			cfg:    config.Defaults,
			expErr: true,
		},

		"Defaults with a data dir should be valid.": {
			cfg: func() config.Config {
				c := config.Defaults()
				c.DataDir = "/tmp/xferd/"
				return c
			},
			expCfg: func() config.Config {
				c := config.Defaults()
				c.DataDir = "/tmp/xferd"
				c.AllowedLocalDirs = []string{}
				c.Rclone.Env = map[string]string{}
				return c
			},
		},

		"Out of range values should be clamped.": {
			cfg: func() config.Config {
				c := config.Defaults()
				c.DataDir = "/data"
				c.QueueCapacity = 0
				c.Concurrency = -1
				c.AllowedLocalDirs = []string{"", ".", "/srv/data/"}
				c.Rclone.StatsInterval = 100 * time.Millisecond
				c.Rclone.RetryAttempts = 0
				c.Rclone.RetryBaseDelay = 2 * time.Second
				c.Rclone.RetryMaxDelay = time.Second
				c.Rclone.RetryJitterRatio = 3
				return c
			},
			expCfg: func() config.Config {
				c := config.Defaults()
				c.DataDir = "/data"
				c.QueueCapacity = 256
				c.Concurrency = 1
				c.AllowedLocalDirs = []string{"/srv/data"}
				c.Rclone.Env = map[string]string{}
				c.Rclone.StatsInterval = 500 * time.Millisecond
				c.Rclone.RetryAttempts = 1
				c.Rclone.RetryBaseDelay = 2 * time.Second
				c.Rclone.RetryMaxDelay = 2 * time.Second
				c.Rclone.RetryJitterRatio = 1
				return c
			},
		},

		"Negative job log size should fail.": {
			cfg: func() config.Config {
				c := config.Defaults()
				c.DataDir = "/data"
				c.JobLogMaxBytes = -1
				return c
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			got, err := test.cfg().Validate()
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(test.expCfg(), got)
		})
	}
}

func TestConfigDefaultsTune(t *testing.T) {
	assert := assert.New(t)

	c := config.Defaults()
	assert.GreaterOrEqual(c.Rclone.MaxTransfers, 4)
	assert.LessOrEqual(c.Rclone.MaxTransfers, 128)
	assert.GreaterOrEqual(c.Rclone.MaxCheckers, 8)
	assert.LessOrEqual(c.Rclone.MaxCheckers, 256)
	assert.Equal(256, c.QueueCapacity)
}

func TestConfigPaths(t *testing.T) {
	assert := assert.New(t)

	c := config.Defaults()
	c.DataDir = "/data"
	p := c.Paths()

	assert.Equal("/data/xferd.db", p.DB())
	assert.Equal("/data/logs/jobs/01J.log", p.JobLog("01J"))
	assert.Equal("/data/logs/jobs/01J.cmd", p.JobCmd("01J"))
	assert.Equal("/data/logs/jobs/01J.rclone.conf", p.JobRcloneConfig("01J"))
	assert.Equal("/data/artifacts/jobs/01J.zip", p.Artifact("01J"))
	assert.Equal("/data/artifacts/jobs/01J.zip.tmp", p.ArtifactTmp("01J"))
	assert.Equal("/data/staging/u1", p.UploadStaging("u1"))
	assert.Equal("/data/logs/rcloneerrors/unknown", p.UnknownErrors())
}
