package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy configures one retry loop. The zero value runs the operation once.
type Policy struct {
	// MaxRetries bounds the retries after the first attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BackoffFactor multiplies the backoff after every retry. Values below 1 are treated as 1.
	BackoffFactor float64
	// Jitter scales each wait by a uniform factor in [0.5, 1.5).
	Jitter bool
	// HonorRetryAfter uses a server-provided Retry-After hint (capped at
	// MaxBackoff) instead of the computed wait when the error carries one.
	HonorRetryAfter bool

	// RetryOn restricts retries to errors matching one of these targets via errors.Is.
	// Empty means no restriction.
	RetryOn []error
	// ShouldRetry classifies failures. Nil uses DefaultShouldRetry.
	ShouldRetry func(error) bool
	// OnRetry observes each scheduled retry before the wait starts.
	OnRetry func(attempt int, err error, wait time.Duration)
	// OnExhausted observes the terminal failure when the retry bound is reached.
	OnExhausted func(attempts int, err error)

	sleep  func(context.Context, time.Duration) error
	random func() float64
}

// WithSleep returns a copy of p that waits through fn instead of a timer.
func (p Policy) WithSleep(fn func(context.Context, time.Duration) error) Policy {
	p.sleep = fn
	return p
}

// WithRandom returns a copy of p that draws jitter from fn, which must return values in [0, 1).
func (p Policy) WithRandom(fn func() float64) Policy {
	p.random = fn
	return p
}

// WithObserver returns a copy of p with OnRetry replaced.
func (p Policy) WithObserver(fn func(attempt int, err error, wait time.Duration)) Policy {
	p.OnRetry = fn
	return p
}

// Validate reports configuration values the engine cannot honor.
func (p Policy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return errors.New("retry policy: max retries must be >= 0")
	case p.InitialBackoff < 0 || p.MaxBackoff < 0:
		return errors.New("retry policy: backoff must be >= 0")
	case p.MaxBackoff > 0 && p.InitialBackoff > p.MaxBackoff:
		return errors.New("retry policy: initial backoff exceeds max backoff")
	case p.BackoffFactor != 0 && p.BackoffFactor < 1:
		return errors.New("retry policy: backoff factor must be >= 1")
	}
	return nil
}

// Schedule returns the un-jittered waits preceding each retry, in order.
func (p Policy) Schedule() []time.Duration {
	if p.MaxRetries <= 0 {
		return nil
	}
	out := make([]time.Duration, 0, p.MaxRetries)
	b := p.newBackoff()
	for range p.MaxRetries {
		out = append(out, b.next())
	}
	return out
}

func (p Policy) retryable(err error) bool {
	if err == nil {
		return false
	}
	if len(p.RetryOn) > 0 {
		matched := false
		for _, target := range p.RetryOn {
			if errors.Is(err, target) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return DefaultShouldRetry(err)
}

func (p Policy) factor() float64 {
	if p.BackoffFactor < 1 {
		return 1
	}
	return p.BackoffFactor
}

func (p Policy) jitter(wait time.Duration) time.Duration {
	if !p.Jitter || wait <= 0 {
		return wait
	}
	draw := rand.Float64
	if p.random != nil {
		draw = p.random
	}
	return time.Duration(float64(wait) * (0.5 + draw()))
}

// backoff tracks the growing wait of one Execute call.
type backoff struct {
	current time.Duration
	max     time.Duration
	factor  float64
}

func (p Policy) newBackoff() *backoff {
	return &backoff{current: p.InitialBackoff, max: p.MaxBackoff, factor: p.factor()}
}

// next returns min(current, max) and grows current for the following round.
func (b *backoff) next() time.Duration {
	wait := b.current
	if b.max > 0 && wait > b.max {
		wait = b.max
	}
	grown := time.Duration(float64(b.current) * b.factor)
	if grown < b.current {
		grown = b.current
	}
	if b.max > 0 && grown > b.max {
		grown = b.max
	}
	b.current = grown
	return wait
}

func (b *backoff) cap(wait time.Duration) time.Duration {
	if wait < 0 {
		return 0
	}
	if b.max > 0 && wait > b.max {
		return b.max
	}
	return wait
}
