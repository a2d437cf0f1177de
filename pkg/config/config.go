package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"imgbatch/pkg/naming"
)

// EnvPrefix is prepended to every environment variable the config recognises
const EnvPrefix = "IMGBATCH_"

// DefaultUserAgent is sent with every image request unless overridden
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Config holds all configuration options for a batch run
type Config struct {
	// HTTP acquisition settings
	Download DownloadConfig `yaml:"download" json:"download" envPrefix:"DOWNLOAD_"`

	// Filename assignment
	Naming NamingConfig `yaml:"naming" json:"naming" envPrefix:"NAMING_"`

	// Where images go
	Output OutputConfig `yaml:"output" json:"output" envPrefix:"OUTPUT_"`

	// Record selection
	Input InputConfig `yaml:"input" json:"input" envPrefix:"INPUT_"`

	// Logging and error reports
	Logging LoggingConfig `yaml:"logging" json:"logging" envPrefix:"LOG_"`

	// Prometheus textfile export
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" envPrefix:"METRICS_"`

	// Optional bucket copy of every written image
	Mirror MirrorConfig `yaml:"mirror" json:"mirror" envPrefix:"MIRROR_"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Timeout              time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	DelayBetweenRequests time.Duration `yaml:"delay_between_requests" json:"delay_between_requests" env:"DELAY_BETWEEN_REQUESTS"`
	MaxRetries           int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	UserAgent            string        `yaml:"user_agent" json:"user_agent" env:"USER_AGENT"`
}

// NamingConfig holds filename assignment configuration
type NamingConfig struct {
	// TimeFormat is a Go reference-time layout applied to create_time
	TimeFormat       string `yaml:"time_format" json:"time_format" env:"TIME_FORMAT"`
	DefaultExtension string `yaml:"default_extension" json:"default_extension" env:"DEFAULT_EXTENSION"`
	// Timezone is an IANA name, "Local" or "UTC"
	Timezone string `yaml:"timezone" json:"timezone" env:"TIMEZONE"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	WorkDir       string `yaml:"work_dir" json:"work_dir" env:"WORK_DIR"`
	SkipExisting  bool   `yaml:"skip_existing" json:"skip_existing" env:"SKIP_EXISTING"`
	WriteManifest bool   `yaml:"write_manifest" json:"write_manifest" env:"WRITE_MANIFEST"`
}

// InputConfig holds record selection configuration
type InputConfig struct {
	// Accounts restricts the run to these account ids when non-empty
	Accounts []string `yaml:"accounts" json:"accounts" env:"ACCOUNTS" envSeparator:","`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// Format is one of auto, console, json
	Format    string `yaml:"format" json:"format" env:"FORMAT"`
	File      string `yaml:"file" json:"file" env:"FILE"`
	ReportDir string `yaml:"report_dir" json:"report_dir" env:"REPORT_DIR"`
}

// MetricsConfig holds metrics export configuration
type MetricsConfig struct {
	Textfile string `yaml:"textfile" json:"textfile" env:"TEXTFILE"`
}

// MirrorConfig holds mirror bucket configuration
type MirrorConfig struct {
	BucketURL string `yaml:"bucket_url" json:"bucket_url" env:"BUCKET_URL"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Download: DownloadConfig{
			Timeout:              30 * time.Second,
			DelayBetweenRequests: 500 * time.Millisecond,
			MaxRetries:           3,
			UserAgent:            DefaultUserAgent,
		},
		Naming: NamingConfig{
			TimeFormat:       "0102150405",
			DefaultExtension: ".jpg",
			Timezone:         "Local",
		},
		Output: OutputConfig{
			WorkDir:       ".",
			SkipExisting:  true,
			WriteManifest: false,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "auto",
			ReportDir: "logs",
		},
	}
}

// LoadFromEnv loads configuration from IMGBATCH_* environment variables.
// Variables that are not set leave the current value untouched.
func (c *Config) LoadFromEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// FindConfigFile returns the first config file present in the standard
// locations, or an empty string
func FindConfigFile() string {
	locations := []string{
		"imgbatch.yaml",
		".imgbatch.yaml",
		".imgbatch.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "imgbatch", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".imgbatch.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Location resolves the configured naming timezone
func (c *Config) Location() (*time.Location, error) {
	switch c.Naming.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	default:
		return time.LoadLocation(c.Naming.Timezone)
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.DelayBetweenRequests < 0 {
		errs = append(errs, errors.New("delay between requests cannot be negative"))
	}
	if c.Download.MaxRetries < 1 {
		errs = append(errs, errors.New("max retries must allow at least one attempt"))
	}
	if strings.TrimSpace(c.Download.UserAgent) == "" {
		errs = append(errs, errors.New("user agent is required"))
	}

	if c.Naming.TimeFormat == "" {
		errs = append(errs, errors.New("time format is required"))
	} else if ref := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC); ref.Format(c.Naming.TimeFormat) == c.Naming.TimeFormat {
		errs = append(errs, fmt.Errorf("time format %q contains no time elements", c.Naming.TimeFormat))
	}
	ext := strings.TrimPrefix(c.Naming.DefaultExtension, ".")
	if ext == "" {
		errs = append(errs, errors.New("default extension is required"))
	} else if !naming.IsPlainExtension(ext) {
		errs = append(errs, fmt.Errorf("default extension %q is not a plain extension", c.Naming.DefaultExtension))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.Naming.Timezone, err))
	}

	if c.Output.WorkDir == "" {
		errs = append(errs, errors.New("work directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	validFormats := map[string]bool{
		"": true, "auto": true, "console": true, "json": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, errors.New("invalid log format"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in flags are applied.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["work-dir"].(string); ok && v != "" {
		c.Output.WorkDir = v
	}
	if v, ok := flags["max-retries"].(int); ok && v > 0 {
		c.Download.MaxRetries = v
	}
	if v, ok := flags["timeout"].(time.Duration); ok && v > 0 {
		c.Download.Timeout = v
	}
	if v, ok := flags["delay"].(time.Duration); ok && v >= 0 {
		c.Download.DelayBetweenRequests = v
	}
	if v, ok := flags["user-agent"].(string); ok && v != "" {
		c.Download.UserAgent = v
	}
	if v, ok := flags["time-format"].(string); ok && v != "" {
		c.Naming.TimeFormat = v
	}
	if v, ok := flags["skip-existing"].(bool); ok {
		c.Output.SkipExisting = v
	}
	if v, ok := flags["manifest"].(bool); ok {
		c.Output.WriteManifest = v
	}
	if v, ok := flags["accounts"].([]string); ok && len(v) > 0 {
		c.Input.Accounts = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["metrics-textfile"].(string); ok && v != "" {
		c.Metrics.Textfile = v
	}
	if v, ok := flags["mirror"].(string); ok && v != "" {
		c.Mirror.BucketURL = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".imgbatch.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
