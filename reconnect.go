package chatsession

import (
	"time"

	"github.com/cenkalti/backoff"
)

// reconnector computes reconnection delays: exponential from the base delay,
// doubled per attempt, randomized by the jitter factor and capped at the max
// delay. It gives up after maxAttempts consecutive failures; a negative
// limit never gives up.
type reconnector struct {
	policy      *backoff.ExponentialBackOff
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(cfg *Config, clk backoff.Clock) *reconnector {
	jitter := cfg.ReconnectJitter
	if jitter < 0 {
		jitter = 0
	}
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.ReconnectBaseDelay,
		RandomizationFactor: jitter,
		Multiplier:          2,
		MaxInterval:         cfg.ReconnectMaxDelay,
		MaxElapsedTime:      0,
		Clock:               clk,
	}
	policy.Reset()
	return &reconnector{
		policy:      policy,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

// next returns the delay before the next attempt, or false once the attempt
// budget is spent.
func (r *reconnector) next() (time.Duration, bool) {
	if r.exhausted() {
		return 0, false
	}
	r.attempt++
	delay := r.policy.NextBackOff()
	if delay == backoff.Stop || delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay, true
}

func (r *reconnector) exhausted() bool {
	return r.maxAttempts >= 0 && r.attempt >= r.maxAttempts
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.policy.Reset()
}
