package testsupport

import (
	"path/filepath"
	"testing"

	"reelsmith/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = filepath.Join(base, "jobs")
	cfgVal.Paths.RegistryDir = filepath.Join(base, "registry")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.JobsDB = filepath.Join(base, "jobs.db")
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithNtfyTopic points notifications at topic (typically an httptest URL).
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithFastRetries keeps every named policy's retry counts but removes the
// backoff waits.
func WithFastRetries() ConfigOption {
	return func(b *configBuilder) {
		for name, policy := range b.cfg.Retry {
			policy.InitialBackoff = 0
			policy.MaxBackoff = 0
			policy.Jitter = false
			b.cfg.Retry[name] = policy
		}
	}
}

// WithRetryPolicy installs or replaces a named policy.
func WithRetryPolicy(name string, policy config.RetryPolicy) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retry[name] = policy
	}
}

// WithStubbedBinaries installs no-op executables for names on PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		StubBinaries(b.t, filepath.Join(b.baseDir, "bin"), "#!/bin/sh\nexit 0\n", names...)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.RegistryDir)
}
