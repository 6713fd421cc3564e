package retry

import (
	"log/slog"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
)

// FromConfig converts a [retry.<name>] table into a Policy using DefaultShouldRetry.
func FromConfig(p config.RetryPolicy) Policy {
	return Policy{
		MaxRetries:      p.MaxRetries,
		InitialBackoff:  p.InitialBackoffDuration(),
		MaxBackoff:      p.MaxBackoffDuration(),
		BackoffFactor:   p.BackoffFactor,
		Jitter:          p.Jitter,
		HonorRetryAfter: p.HonorRetryAfter,
	}
}

// Named resolves policy name from cfg, falling back to the default policy for
// unknown names, and attaches logging observers when logger is non-nil.
func Named(cfg *config.Config, name string, logger *slog.Logger) Policy {
	var p Policy
	if cfg == nil {
		defaults := config.Default()
		p = FromConfig(defaults.RetryPolicy(name))
	} else {
		p = FromConfig(cfg.RetryPolicy(name))
	}
	if logger != nil {
		p = Logged(p, logger, name)
	}
	return p
}

// Logged returns a copy of p that emits retry_scheduled and retry_exhausted
// lines, chaining any observers already set.
func Logged(p Policy, logger *slog.Logger, name string) Policy {
	if logger == nil {
		return p
	}
	prevRetry := p.OnRetry
	prevExhausted := p.OnExhausted
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Info("retry scheduled",
			logging.String(logging.FieldEventType, "retry_scheduled"),
			logging.String("policy", name),
			logging.Int("attempt", attempt),
			logging.Int("max_retries", p.MaxRetries),
			logging.Duration("wait", wait),
			logging.Error(err),
		)
		if prevRetry != nil {
			prevRetry(attempt, err, wait)
		}
	}
	p.OnExhausted = func(attempts int, err error) {
		logging.WarnWithContext(logger, "retries exhausted", "retry_exhausted",
			logging.String("policy", name),
			logging.Int("attempts", attempts),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the external service kept failing; inspect the error and rerun the job"),
			logging.String(logging.FieldImpact, "the calling step fails"),
		)
		if prevExhausted != nil {
			prevExhausted(attempts, err)
		}
	}
	return p
}
