package reader

import (
	"fmt"
	"math"
	"time"

	"provenance/internal/platform/config"
)

// Backoff returns the wait before retry number n (n starts at 1). Every
// implementation here is monotonically non-decreasing in n.
type Backoff func(n int) time.Duration

// LinearBackoff waits step*n, capped at max when max > 0.
func LinearBackoff(step, max time.Duration) Backoff {
	return func(n int) time.Duration {
		return capDelay(step*time.Duration(n), max)
	}
}

// ExponentialBackoff waits base*2^(n-1), capped at max when max > 0.
func ExponentialBackoff(base, max time.Duration) Backoff {
	return func(n int) time.Duration {
		if n < 1 {
			n = 1
		}
		d := base
		for i := 1; i < n; i++ {
			if d > math.MaxInt64/2 {
				return capDelay(math.MaxInt64, max)
			}
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		return capDelay(d, max)
	}
}

// ZeroBackoff never waits. Intended for tests.
func ZeroBackoff() Backoff {
	return func(int) time.Duration { return 0 }
}

func capDelay(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

// Policy is the retry budget for one read.
type Policy struct {
	// MaxAttempts counts the first call.
	MaxAttempts  int
	InitialDelay time.Duration
	Backoff      Backoff
}

// DefaultPolicy makes six attempts with linearly growing waits.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 6,
		Backoff:     LinearBackoff(250*time.Millisecond, 5*time.Second),
	}
}

// PolicyFromConfig builds a Policy from reader settings.
func PolicyFromConfig(cfg config.ReaderConfig) (Policy, error) {
	p := Policy{MaxAttempts: cfg.MaxAttempts, InitialDelay: cfg.InitialDelay}
	switch cfg.Backoff {
	case "", "linear":
		p.Backoff = LinearBackoff(cfg.Step, cfg.MaxDelay)
	case "exponential":
		p.Backoff = ExponentialBackoff(cfg.Step, cfg.MaxDelay)
	case "zero", "none":
		p.Backoff = ZeroBackoff()
	default:
		return Policy{}, fmt.Errorf("unknown reader backoff %q", cfg.Backoff)
	}
	return p, p.Validate()
}

// Budget is the longest a single read can wait before giving up.
func (p Policy) Budget() time.Duration {
	total := p.InitialDelay
	for n := 1; n < p.MaxAttempts; n++ {
		total += p.Backoff(n)
		if total < 0 {
			return time.Duration(math.MaxInt64)
		}
	}
	return total
}

// clamped returns p adjusted so that every read makes at least one attempt
// and never calls a nil Backoff.
func (p Policy) clamped() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Backoff == nil {
		p.Backoff = ZeroBackoff()
	}
	return p
}

func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("reader max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("reader initial delay must not be negative")
	}
	if p.Backoff == nil {
		return fmt.Errorf("reader backoff is required")
	}
	return nil
}
