// Package config assembles Settings from defaults, the environment and an
// optional YAML file. Settings are built once at startup and passed explicitly.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/roach88/macrolens/internal/retry"
)

// Environment variables consulted by Load.
const (
	EnvDataTZ     = "DATA_TZ"
	EnvReportTZ   = "REPORT_TZ"
	EnvFredAPIKey = "FRED_API_KEY"
	EnvDataDir    = "MACROLENS_DATA_DIR"
)

// ConfigError is a fatal configuration problem.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %s: %v", msg, e.Err)
	}
	return "invalid configuration: " + msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Paths locates on-disk artifacts.
type Paths struct {
	DataDir    string `yaml:"data_dir"`
	LogsDir    string `yaml:"logs_dir"`
	ReportsDir string `yaml:"reports_dir"`
	MetadataDB string `yaml:"metadata_db"`
}

// StatusFile is where the matrix status document lives.
func (p Paths) StatusFile() string {
	return filepath.Join(p.DataDir, "matrix_status.json")
}

// CacheConfig controls the provider response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	TTL     time.Duration `yaml:"ttl"`
}

// Settings is the complete runtime configuration.
type Settings struct {
	DataTZ            string        `yaml:"data_tz"`
	ReportTZ          string        `yaml:"report_tz"`
	SourcesMatrixPath string        `yaml:"sources_matrix_path"`
	StaleDaysDefault  int           `yaml:"stale_days_default"`
	LookbackDays      int           `yaml:"lookback_days"`
	FredAPIKey        string        `yaml:"fred_api_key"`
	FredBaseURL       string        `yaml:"fred_base_url"`
	YahooBaseURL      string        `yaml:"yahoo_base_url"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	CompressionLevel  int           `yaml:"compression_level"`
	Paths             Paths         `yaml:"paths"`
	Retry             retry.Config  `yaml:"retry"`
	Cache             CacheConfig   `yaml:"cache"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		DataTZ:            "UTC",
		ReportTZ:          "Europe/Vienna",
		SourcesMatrixPath: filepath.Join("config", "sources_matrix.yaml"),
		StaleDaysDefault:  5,
		LookbackDays:      3650,
		HTTPTimeout:       20 * time.Second,
		CompressionLevel:  2,
		Paths: Paths{
			DataDir:    "data",
			LogsDir:    "logs",
			ReportsDir: "reports",
		},
		Retry: retry.DefaultConfig(),
		Cache: CacheConfig{TTL: 12 * time.Hour},
	}
}

// Load builds Settings. Precedence: YAML file at path (if non-empty) over
// environment over defaults. The result is validated.
func Load(path string) (Settings, error) {
	s := Defaults()
	applyEnv(&s)

	if path != "" {
		if err := applyYAML(&s, path); err != nil {
			return Settings{}, err
		}
	}

	s.resolveDerived()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func applyEnv(s *Settings) {
	if v := getenv(EnvDataTZ); v != "" {
		s.DataTZ = v
	}
	if v := getenv(EnvReportTZ); v != "" {
		s.ReportTZ = v
	}
	if v := getenv(EnvFredAPIKey); v != "" {
		s.FredAPIKey = v
	}
	if v := getenv(EnvDataDir); v != "" {
		s.Paths.DataDir = v
	}
}

func applyYAML(s *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Field: "config", Message: "cannot read " + path, Err: err}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &ConfigError{Field: "config", Message: "cannot parse " + path, Err: err}
	}
	return nil
}

// resolveDerived fills paths that default relative to DataDir.
func (s *Settings) resolveDerived() {
	if s.Paths.MetadataDB == "" {
		s.Paths.MetadataDB = filepath.Join(s.Paths.DataDir, "metadata.sqlite")
	}
	if s.Cache.Dir == "" {
		s.Cache.Dir = filepath.Join(s.Paths.DataDir, "cache")
	}
}

// Validate checks every field; the first problem is returned as *ConfigError.
func (s Settings) Validate() error {
	if _, err := time.LoadLocation(s.DataTZ); err != nil {
		return &ConfigError{Field: "data_tz", Message: fmt.Sprintf("unknown timezone %q", s.DataTZ), Err: err}
	}
	if _, err := time.LoadLocation(s.ReportTZ); err != nil {
		return &ConfigError{Field: "report_tz", Message: fmt.Sprintf("unknown timezone %q", s.ReportTZ), Err: err}
	}
	if strings.TrimSpace(s.SourcesMatrixPath) == "" {
		return &ConfigError{Field: "sources_matrix_path", Message: "is required"}
	}
	if s.StaleDaysDefault < 0 {
		return &ConfigError{Field: "stale_days_default", Message: "must not be negative"}
	}
	if s.LookbackDays < 1 {
		return &ConfigError{Field: "lookback_days", Message: "must be at least 1"}
	}
	if s.HTTPTimeout <= 0 {
		return &ConfigError{Field: "http_timeout", Message: "must be positive"}
	}
	if s.CompressionLevel < 1 || s.CompressionLevel > 4 {
		return &ConfigError{Field: "compression_level", Message: "must be between 1 and 4"}
	}
	if s.Paths.DataDir == "" {
		return &ConfigError{Field: "paths.data_dir", Message: "is required"}
	}
	if s.Paths.LogsDir == "" {
		return &ConfigError{Field: "paths.logs_dir", Message: "is required"}
	}
	if s.Paths.ReportsDir == "" {
		return &ConfigError{Field: "paths.reports_dir", Message: "is required"}
	}
	if err := s.Retry.Validate(); err != nil {
		return &ConfigError{Field: "retry", Message: "invalid backoff", Err: err}
	}
	if s.Cache.Enabled && s.Cache.TTL <= 0 {
		return &ConfigError{Field: "cache.ttl", Message: "must be positive when the cache is enabled"}
	}
	return nil
}

// ReportLocation returns the report timezone. Validate guarantees it loads.
func (s Settings) ReportLocation() *time.Location {
	loc, err := time.LoadLocation(s.ReportTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
