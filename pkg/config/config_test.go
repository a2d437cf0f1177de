package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.Download.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Download.DelayBetweenRequests)
	assert.Equal(t, 3, cfg.Download.MaxRetries)
	assert.Equal(t, DefaultUserAgent, cfg.Download.UserAgent)

	assert.Equal(t, "0102150405", cfg.Naming.TimeFormat)
	assert.Equal(t, ".jpg", cfg.Naming.DefaultExtension)

	assert.True(t, cfg.Output.SkipExisting)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("IMGBATCH_DOWNLOAD_TIMEOUT", "5s")
	t.Setenv("IMGBATCH_DOWNLOAD_MAX_RETRIES", "7")
	t.Setenv("IMGBATCH_NAMING_TIME_FORMAT", "20060102")
	t.Setenv("IMGBATCH_OUTPUT_WORK_DIR", "/tmp/images")
	t.Setenv("IMGBATCH_OUTPUT_SKIP_EXISTING", "false")
	t.Setenv("IMGBATCH_INPUT_ACCOUNTS", "10,11")
	t.Setenv("IMGBATCH_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 5*time.Second, cfg.Download.Timeout)
	assert.Equal(t, 7, cfg.Download.MaxRetries)
	assert.Equal(t, "20060102", cfg.Naming.TimeFormat)
	assert.Equal(t, "/tmp/images", cfg.Output.WorkDir)
	assert.False(t, cfg.Output.SkipExisting)
	assert.Equal(t, []string{"10", "11"}, cfg.Input.Accounts)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// untouched values keep their defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Download.DelayBetweenRequests)
	assert.Equal(t, ".jpg", cfg.Naming.DefaultExtension)
}

func TestLoadFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("IMGBATCH_DOWNLOAD_TIMEOUT", "soon")

	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromEnv())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgbatch.yaml")
	content := `
download:
  timeout: 10s
  delay_between_requests: 0s
  max_retries: 5
naming:
  time_format: "060102_150405"
  default_extension: .png
  timezone: UTC
output:
  work_dir: ./out
  write_manifest: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 10*time.Second, cfg.Download.Timeout)
	assert.Equal(t, time.Duration(0), cfg.Download.DelayBetweenRequests)
	assert.Equal(t, 5, cfg.Download.MaxRetries)
	assert.Equal(t, "060102_150405", cfg.Naming.TimeFormat)
	assert.Equal(t, ".png", cfg.Naming.DefaultExtension)
	assert.Equal(t, "./out", cfg.Output.WorkDir)
	assert.True(t, cfg.Output.WriteManifest)
	// keys absent from the file keep defaults
	assert.Equal(t, DefaultUserAgent, cfg.Download.UserAgent)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero timeout", func(c *Config) { c.Download.Timeout = 0 }, "timeout must be positive"},
		{"negative delay", func(c *Config) { c.Download.DelayBetweenRequests = -time.Second }, "cannot be negative"},
		{"no attempts", func(c *Config) { c.Download.MaxRetries = 0 }, "at least one attempt"},
		{"empty user agent", func(c *Config) { c.Download.UserAgent = " " }, "user agent"},
		{"empty time format", func(c *Config) { c.Naming.TimeFormat = "" }, "time format is required"},
		{"literal time format", func(c *Config) { c.Naming.TimeFormat = "abc" }, "no time elements"},
		{"empty extension", func(c *Config) { c.Naming.DefaultExtension = "." }, "extension is required"},
		{"extension with separator", func(c *Config) { c.Naming.DefaultExtension = ".a/b" }, "not a plain extension"},
		{"extension with reserved character", func(c *Config) { c.Naming.DefaultExtension = "j*g" }, "not a plain extension"},
		{"extension with colon", func(c *Config) { c.Naming.DefaultExtension = ".j:g" }, "not a plain extension"},
		{"extension with space", func(c *Config) { c.Naming.DefaultExtension = "jp g" }, "not a plain extension"},
		{"bad timezone", func(c *Config) { c.Naming.Timezone = "Mars/Olympus" }, "invalid timezone"},
		{"empty work dir", func(c *Config) { c.Output.WorkDir = "" }, "work directory"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Download.Timeout = 0
	cfg.Output.WorkDir = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Contains(t, err.Error(), "work directory")
}

func TestMergeCommandLineFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergeCommandLineFlags(map[string]interface{}{
		"work-dir":      "/data",
		"max-retries":   4,
		"timeout":       2 * time.Second,
		"delay":         time.Duration(0),
		"skip-existing": false,
		"accounts":      []string{"3"},
		"mirror":        "mem://",
	})

	assert.Equal(t, "/data", cfg.Output.WorkDir)
	assert.Equal(t, 4, cfg.Download.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Download.Timeout)
	assert.Equal(t, time.Duration(0), cfg.Download.DelayBetweenRequests)
	assert.False(t, cfg.Output.SkipExisting)
	assert.Equal(t, []string{"3"}, cfg.Input.Accounts)
	assert.Equal(t, "mem://", cfg.Mirror.BucketURL)

	// absent and empty flags change nothing
	before := *cfg
	cfg.MergeCommandLineFlags(map[string]interface{}{"work-dir": ""})
	assert.Equal(t, before.Output.WorkDir, cfg.Output.WorkDir)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "imgbatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("download:\n  max_retries: 5\n  timeout: 9s\n"), 0644))
	t.Setenv("IMGBATCH_DOWNLOAD_MAX_RETRIES", "6")

	cfg, err := Load(path, map[string]interface{}{"timeout": 3 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Download.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.Download.Timeout)
}

func TestLoadValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgbatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("download:\n  max_retries: 0\n"), 0644))

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Naming.Timezone = "UTC"
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Contains(t, raw, "download")
	assert.Contains(t, raw, "naming")

	loaded := DefaultConfig()
	loaded.Naming.Timezone = "Local"
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, "UTC", loaded.Naming.Timezone)
	assert.Equal(t, cfg.Download, loaded.Download)
}
