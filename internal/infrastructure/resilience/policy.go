package resilience

import "time"

// Config tunes retry and circuit breaking for one class of upstream calls.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 200 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Second,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// Upstream names a class of remote calls sharing one tuning.
type Upstream string

const (
	UpstreamLLM   Upstream = "llm"
	UpstreamIndex Upstream = "index"
	UpstreamQueue Upstream = "queue"
)

// ConfigFor returns the tuning for upstream, or DefaultConfig when unknown.
func ConfigFor(upstream Upstream) Config {
	cfg := DefaultConfig()
	switch upstream {
	case UpstreamLLM:
		cfg.RetryMaxAttempts = 2
		cfg.RetryInitialBackoff = time.Second
		cfg.RetryMaxBackoff = 4 * time.Second
		cfg.BreakerMinRequests = 5
		cfg.BreakerOpenTimeout = time.Minute
	case UpstreamIndex:
		cfg.RetryInitialBackoff = 100 * time.Millisecond
		cfg.RetryMaxBackoff = time.Second
	case UpstreamQueue:
		cfg.RetryMaxAttempts = 5
		cfg.RetryInitialBackoff = 50 * time.Millisecond
		cfg.RetryMaxBackoff = 500 * time.Millisecond
		cfg.BreakerMinRequests = 20
	}
	return cfg
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	fillInt := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	fillDuration := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	fillUint := func(v *uint32, d uint32) {
		if *v == 0 {
			*v = d
		}
	}

	fillInt(&out.RetryMaxAttempts, def.RetryMaxAttempts)
	fillDuration(&out.RetryInitialBackoff, def.RetryInitialBackoff)
	fillDuration(&out.RetryMaxBackoff, def.RetryMaxBackoff)
	out.RetryMaxBackoff = max(out.RetryMaxBackoff, out.RetryInitialBackoff)
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	fillUint(&out.BreakerMinRequests, def.BreakerMinRequests)
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	fillDuration(&out.BreakerOpenTimeout, def.BreakerOpenTimeout)
	fillUint(&out.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return out
}
