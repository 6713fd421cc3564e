package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRegistry()
	c.normalizeRetry()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.RegistryDir, err = expandPath(c.Paths.RegistryDir); err != nil {
		return fmt.Errorf("paths.registry_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.JobsDB) == "" {
		c.Paths.JobsDB = defaultJobsDB
	}
	if c.Paths.JobsDB, err = expandPath(c.Paths.JobsDB); err != nil {
		return fmt.Errorf("paths.jobs_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeRegistry() {
	c.Registry.IndexFile = strings.TrimSpace(c.Registry.IndexFile)
	if c.Registry.IndexFile == "" {
		c.Registry.IndexFile = defaultIndexFile
	}
	m := &c.Registry.Mirror
	m.Endpoint = strings.TrimSpace(m.Endpoint)
	m.Bucket = strings.TrimSpace(m.Bucket)
	m.Region = strings.TrimSpace(m.Region)
	m.Prefix = strings.Trim(strings.TrimSpace(m.Prefix), "/")
	if m.AccessKey == "" {
		if value, ok := os.LookupEnv("REELSMITH_MIRROR_ACCESS_KEY"); ok {
			m.AccessKey = strings.TrimSpace(value)
		}
	}
	if m.SecretKey == "" {
		if value, ok := os.LookupEnv("REELSMITH_MIRROR_SECRET_KEY"); ok {
			m.SecretKey = strings.TrimSpace(value)
		}
	}
}

// normalizeRetry lower-cases policy names and fills in built-in policies that
// the file did not override.
func (c *Config) normalizeRetry() {
	normalized := make(map[string]RetryPolicy, len(c.Retry))
	for name, policy := range defaultRetryPolicies() {
		normalized[name] = policy
	}
	for name, policy := range c.Retry {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if policy.BackoffFactor == 0 {
			policy.BackoffFactor = 1
		}
		normalized[key] = policy
	}
	c.Retry = normalized
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("REELSMITH_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
