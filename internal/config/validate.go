package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateMirror(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.RegistryDir) == "" {
		return errors.New("paths.registry_dir must be set")
	}
	if strings.ContainsAny(c.Registry.IndexFile, `/\`) {
		return fmt.Errorf("registry.index_file must be a file name, got %q", c.Registry.IndexFile)
	}
	return nil
}

func (c *Config) validateRetry() error {
	names := make([]string, 0, len(c.Retry))
	for name := range c.Retry {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := c.Retry[name]
		if p.MaxRetries < 0 {
			return fmt.Errorf("retry.%s.max_retries must be >= 0", name)
		}
		if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
			return fmt.Errorf("retry.%s backoff values must be >= 0", name)
		}
		if p.MaxBackoff > 0 && p.InitialBackoff > p.MaxBackoff {
			return fmt.Errorf("retry.%s.initial_backoff must not exceed max_backoff", name)
		}
		if p.BackoffFactor < 1 {
			return fmt.Errorf("retry.%s.backoff_factor must be >= 1", name)
		}
	}
	return nil
}

func (c *Config) validateMirror() error {
	m := c.Registry.Mirror
	if !m.Enabled {
		return nil
	}
	if m.Endpoint == "" {
		return errors.New("registry.mirror.endpoint must be set when registry.mirror.enabled is true")
	}
	if m.Bucket == "" {
		return errors.New("registry.mirror.bucket must be set when registry.mirror.enabled is true")
	}
	if m.AccessKey == "" || m.SecretKey == "" {
		return errors.New("registry.mirror credentials must be set (or export REELSMITH_MIRROR_ACCESS_KEY / REELSMITH_MIRROR_SECRET_KEY)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
