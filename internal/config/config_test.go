package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 24*time.Hour, cfg.Pending.TTL())
	assert.Equal(t, time.Minute, cfg.Bandit.CheckpointInterval())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BANDIT_STORE_BACKEND", "redis")
	t.Setenv("BANDIT_STORE_REDIS_ADDR", "cache:6380")
	t.Setenv("BANDIT_BANDIT_NAME", "checkout")
	t.Setenv("BANDIT_SERVER_TOKEN_RATE", "7")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "cache:6380", cfg.Store.RedisAddr)
	assert.Equal(t, "checkout", cfg.Bandit.Name)
	assert.Equal(t, 7, cfg.Server.TokenRate)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banditd.yaml")
	content := `
server:
  port: "9090"
bandit:
  name: pricing
  delayed_reward: true
log:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "pricing", cfg.Bandit.Name)
	assert.True(t, cfg.Bandit.DelayedReward)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Server.TokenRate, "unset keys keep defaults")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"server.token_rate", func(c *Config) { c.Server.TokenRate = 0 }},
		{"store.backend", func(c *Config) { c.Store.Backend = "s3" }},
		{"store.postgres_conn", func(c *Config) { c.Store.Backend = "postgres" }},
		{"bandit.name", func(c *Config) { c.Bandit.Name = "" }},
		{"pending.size", func(c *Config) { c.Pending.Size = -1 }},
		{"telemetry.sampling_rate", func(c *Config) { c.Telemetry.SamplingRate = 2 }},
		{"log.level", func(c *Config) { c.Log.Level = "trace" }},
		{"log.format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	assert.NoError(t, Default().Validate())
}
