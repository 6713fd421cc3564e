package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"reelsmith/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir     string `toml:"work_dir"`
	RegistryDir string `toml:"registry_dir"`
	LogDir      string `toml:"log_dir"`
	JobsDB      string `toml:"jobs_db"`
}

// Mirror configures the optional S3-compatible mirror for registry content copies.
type Mirror struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
	Prefix    string `toml:"prefix"`
}

// Registry contains artifact version registry settings.
type Registry struct {
	StoreCopies bool   `toml:"store_copies"`
	IndexFile   string `toml:"index_file"`
	Mirror      Mirror `toml:"mirror"`
}

// RetryPolicy is the file representation of a named retry policy. Backoff
// values are expressed in seconds.
type RetryPolicy struct {
	MaxRetries      int     `toml:"max_retries"`
	InitialBackoff  float64 `toml:"initial_backoff"`
	MaxBackoff      float64 `toml:"max_backoff"`
	BackoffFactor   float64 `toml:"backoff_factor"`
	Jitter          bool    `toml:"jitter"`
	HonorRetryAfter bool    `toml:"honor_retry_after"`
}

// InitialBackoffDuration converts the configured initial backoff to a duration.
func (p RetryPolicy) InitialBackoffDuration() time.Duration {
	return secondsToDuration(p.InitialBackoff)
}

// MaxBackoffDuration converts the configured maximum backoff to a duration.
func (p RetryPolicy) MaxBackoffDuration() time.Duration {
	return secondsToDuration(p.MaxBackoff)
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobStarted     bool   `toml:"job_started"`
	JobCompleted   bool   `toml:"job_completed"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelsmith.
//
// Configuration sections by subsystem:
//   - Paths: work, registry, and log directories plus the job history database
//   - Registry: artifact version registry behaviour and the optional object store mirror
//   - Retry: named retry policies referenced by steps (default, llm, tts, image, video, publish)
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths                  `toml:"paths"`
	Registry      Registry               `toml:"registry"`
	Retry         map[string]RetryPolicy `toml:"retry"`
	Notifications Notifications          `toml:"notifications"`
	Logging       Logging                `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reelsmith/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Parse and validation failures carry
// services.ErrConfiguration.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("%w: parse %s: %w", services.ErrConfiguration, resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelsmith.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a job run writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.RegistryDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if db := strings.TrimSpace(c.Paths.JobsDB); db != "" {
		if err := os.MkdirAll(filepath.Dir(db), 0o755); err != nil {
			return fmt.Errorf("create jobs database directory: %w", err)
		}
	}
	return nil
}

// RetryPolicy returns the named retry policy, falling back to the default
// policy when the name is unknown or empty.
func (c *Config) RetryPolicy(name string) RetryPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name != "" {
		if policy, ok := c.Retry[name]; ok {
			return policy
		}
	}
	if policy, ok := c.Retry[DefaultRetryPolicyName]; ok {
		return policy
	}
	return defaultRetryPolicies()[DefaultRetryPolicyName]
}

// IndexPath returns the absolute path to the registry index file.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Paths.RegistryDir, c.Registry.IndexFile)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
