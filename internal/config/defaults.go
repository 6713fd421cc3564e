package config

const (
	defaultWorkDir         = "~/.local/share/reelsmith/jobs"
	defaultRegistryDir     = "~/.local/share/reelsmith/registry"
	defaultLogDir          = "~/.local/share/reelsmith/logs"
	defaultJobsDB          = "~/.local/share/reelsmith/jobs.db"
	defaultIndexFile       = "index.json"
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultNotifyTimeout   = 10
	defaultMirrorPrefix    = "versions"
	defaultMirrorRegion    = "us-east-1"
	DefaultRetryPolicyName = "default"
)

// RetryPolicyNames lists the built-in retry policy names in display order.
var RetryPolicyNames = []string{"default", "llm", "tts", "image", "video", "publish"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:     defaultWorkDir,
			RegistryDir: defaultRegistryDir,
			LogDir:      defaultLogDir,
			JobsDB:      defaultJobsDB,
		},
		Registry: Registry{
			StoreCopies: true,
			IndexFile:   defaultIndexFile,
			Mirror: Mirror{
				Region: defaultMirrorRegion,
				UseSSL: true,
				Prefix: defaultMirrorPrefix,
			},
		},
		Retry: defaultRetryPolicies(),
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			JobStarted:     false,
			JobCompleted:   true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// defaultRetryPolicies mirrors the provider-specific policies the pipeline
// steps expect. They differ only in bounds and pacing.
func defaultRetryPolicies() map[string]RetryPolicy {
	return map[string]RetryPolicy{
		"default": {MaxRetries: 3, InitialBackoff: 1, MaxBackoff: 30, BackoffFactor: 2, Jitter: true},
		"llm":     {MaxRetries: 5, InitialBackoff: 2, MaxBackoff: 60, BackoffFactor: 2, Jitter: true, HonorRetryAfter: true},
		"tts":     {MaxRetries: 3, InitialBackoff: 1, MaxBackoff: 20, BackoffFactor: 2, Jitter: true, HonorRetryAfter: true},
		"image":   {MaxRetries: 4, InitialBackoff: 3, MaxBackoff: 90, BackoffFactor: 2, Jitter: true, HonorRetryAfter: true},
		"video":   {MaxRetries: 2, InitialBackoff: 5, MaxBackoff: 60, BackoffFactor: 3, Jitter: false},
		"publish": {MaxRetries: 5, InitialBackoff: 5, MaxBackoff: 300, BackoffFactor: 2, Jitter: true, HonorRetryAfter: true},
	}
}
