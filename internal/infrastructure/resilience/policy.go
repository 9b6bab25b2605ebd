package resilience

import "time"

// Config holds the retry schedule and breaker thresholds shared by every operation of one executor.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	// CallTimeout bounds each attempt. Zero leaves attempts bounded only by the caller's context.
	CallTimeout time.Duration

	BreakerEnabled bool
	// The breaker trips once at least BreakerMinRequests calls were seen in the current window
	// and the failure share reaches BreakerFailureRatio.
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,
		CallTimeout:         30 * time.Second,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// Backoff is the wait after the given failed attempt (1-based), growing geometrically up to
// RetryMaxBackoff.
func (c Config) Backoff(attempt int) time.Duration {
	wait := float64(c.RetryInitialBackoff)
	for i := 1; i < attempt; i++ {
		wait *= c.RetryMultiplier
		if wait >= float64(c.RetryMaxBackoff) {
			return c.RetryMaxBackoff
		}
	}
	return min(time.Duration(wait), c.RetryMaxBackoff)
}

func (c Config) tripped(requests, failures uint32) bool {
	if requests < c.BreakerMinRequests {
		return false
	}
	return float64(failures)/float64(requests) >= c.BreakerFailureRatio
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	positiveInt := func(v *int, fallback int) {
		if *v <= 0 {
			*v = fallback
		}
	}
	positiveDur := func(v *time.Duration, fallback time.Duration) {
		if *v <= 0 {
			*v = fallback
		}
	}
	positiveUint := func(v *uint32, fallback uint32) {
		if *v == 0 {
			*v = fallback
		}
	}

	positiveInt(&out.RetryMaxAttempts, def.RetryMaxAttempts)
	positiveDur(&out.RetryInitialBackoff, def.RetryInitialBackoff)
	positiveDur(&out.RetryMaxBackoff, def.RetryMaxBackoff)
	out.RetryMaxBackoff = max(out.RetryMaxBackoff, out.RetryInitialBackoff)
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	out.CallTimeout = max(out.CallTimeout, 0)

	positiveUint(&out.BreakerMinRequests, def.BreakerMinRequests)
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	positiveDur(&out.BreakerOpenTimeout, def.BreakerOpenTimeout)
	positiveUint(&out.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return out
}
