package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverFile, cfg.StoreDriver)
	assert.Equal(t, "@every 1m", cfg.PollSchedule)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 5, cfg.FlushMaxAttempts)
	assert.Equal(t, time.Second, cfg.FlushRetryDelay)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("STORE_DRIVER", "S3")
	t.Setenv("S3_BUCKET", "content")
	t.Setenv("S3_KEY", "workbook.json")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("CONCURRENCY", "7")
	t.Setenv("FLUSH_RETRY_DELAY", "250ms")
	t.Setenv("TRIGGER_RATE_REFILL_PER_SEC", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverS3, cfg.StoreDriver)
	assert.True(t, cfg.S3PathStyle)
	assert.Equal(t, 7, cfg.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushRetryDelay)
	assert.InDelta(t, 2.5, cfg.TriggerRateRefill, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("CONCURRENCY", "three")
	t.Setenv("JOB_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
store_driver = "postgres"
postgres_dsn = "postgres://file"
concurrency = 2
flush_retry_delay = "2s"
schedule_timezone = "UTC"
`), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("CONCURRENCY", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "postgres://file", cfg.PostgresDSN)
	assert.Equal(t, 4, cfg.Concurrency, "env wins over file")
	assert.Equal(t, 2*time.Second, cfg.FlushRetryDelay)
	assert.Equal(t, 5, cfg.FlushMaxAttempts, "unset keys keep defaults")

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency = [\n"), 0o600))
	t.Setenv(FileEnv, path)

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown driver":   func(c *Config) { c.StoreDriver = "sheets" },
		"no path":          func(c *Config) { c.StorePath = "" },
		"s3 without key":   func(c *Config) { c.StoreDriver = DriverS3; c.S3Bucket = "b" },
		"zero concurrency": func(c *Config) { c.Concurrency = 0 },
		"zero attempts":    func(c *Config) { c.FlushMaxAttempts = 0 },
		"zero delay":       func(c *Config) { c.FlushRetryDelay = 0 },
		"empty schedule":   func(c *Config) { c.PollSchedule = "" },
		"bad timezone":     func(c *Config) { c.ScheduleTimezone = "Mars/Olympus" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
