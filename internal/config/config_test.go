package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/macrolens/internal/retry"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDataTZ, EnvReportTZ, EnvFredAPIKey, EnvDataDir} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "UTC", s.DataTZ)
	assert.Equal(t, "Europe/Vienna", s.ReportTZ)
	assert.Equal(t, 5, s.StaleDaysDefault)
	assert.Equal(t, 3650, s.LookbackDays)
	assert.Equal(t, filepath.Join("data", "metadata.sqlite"), s.Paths.MetadataDB)
	assert.Equal(t, filepath.Join("data", "cache"), s.Cache.Dir)
	assert.Equal(t, filepath.Join("data", "matrix_status.json"), s.Paths.StatusFile())
	assert.Equal(t, retry.DefaultConfig(), s.Retry)
	assert.Empty(t, s.FredAPIKey)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvReportTZ, "America/New_York")
	t.Setenv(EnvFredAPIKey, "  secret  ")
	t.Setenv(EnvDataDir, "/srv/macro")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "America/New_York", s.ReportTZ)
	assert.Equal(t, "secret", s.FredAPIKey)
	assert.Equal(t, "/srv/macro", s.Paths.DataDir)
	assert.Equal(t, filepath.Join("/srv/macro", "metadata.sqlite"), s.Paths.MetadataDB)
}

func TestLoad_YAMLOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvReportTZ, "America/New_York")
	t.Setenv(EnvFredAPIKey, "from-env")

	path := writeConfig(t, `
report_tz: Asia/Tokyo
stale_days_default: 7
http_timeout: 5s
paths:
  reports_dir: out/reports
retry:
  max_attempts: 5
  base_delay: 1s
  max_delay: 10s
  multiplier: 3
cache:
  enabled: true
  ttl: 1h
`)
	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Asia/Tokyo", s.ReportTZ)
	assert.Equal(t, "from-env", s.FredAPIKey)
	assert.Equal(t, 7, s.StaleDaysDefault)
	assert.Equal(t, 5*time.Second, s.HTTPTimeout)
	assert.Equal(t, "out/reports", s.Paths.ReportsDir)
	assert.Equal(t, "data", s.Paths.DataDir, "unset nested fields keep their defaults")
	assert.Equal(t, retry.Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 3}, s.Retry)
	assert.True(t, s.Cache.Enabled)
	assert.Equal(t, time.Hour, s.Cache.TTL)
}

func TestLoad_EmptyYAML(t *testing.T) {
	clearEnv(t)
	s, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Defaults().ReportTZ, s.ReportTZ)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "report_timezone: UTC\n"))

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "config", cfgErr.Field)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		field  string
	}{
		{"bad data tz", func(s *Settings) { s.DataTZ = "Mars/Olympus" }, "data_tz"},
		{"bad report tz", func(s *Settings) { s.ReportTZ = "Nowhere/Town" }, "report_tz"},
		{"negative stale days", func(s *Settings) { s.StaleDaysDefault = -1 }, "stale_days_default"},
		{"zero lookback", func(s *Settings) { s.LookbackDays = 0 }, "lookback_days"},
		{"zero timeout", func(s *Settings) { s.HTTPTimeout = 0 }, "http_timeout"},
		{"compression", func(s *Settings) { s.CompressionLevel = 9 }, "compression_level"},
		{"no data dir", func(s *Settings) { s.Paths.DataDir = "" }, "paths.data_dir"},
		{"retry attempts", func(s *Settings) { s.Retry.MaxAttempts = 0 }, "retry"},
		{"cache ttl", func(s *Settings) { s.Cache.Enabled = true; s.Cache.TTL = 0 }, "cache.ttl"},
		{"no matrix", func(s *Settings) { s.SourcesMatrixPath = " " }, "sources_matrix_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			err := s.Validate()

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidate_RetryErrorIsWrapped(t *testing.T) {
	s := Defaults()
	s.Retry.MaxAttempts = 0
	assert.True(t, errors.Is(s.Validate(), retry.ErrInvalidConfig))
}

func TestReportLocation(t *testing.T) {
	s := Defaults()
	assert.Equal(t, "Europe/Vienna", s.ReportLocation().String())
}
