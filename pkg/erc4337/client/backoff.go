package client

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultPollMultiplier = 1.5
	DefaultMaxJitter      = 100 * time.Millisecond
	DefaultMaxRetries     = 5
	DefaultReceiptTimeout = 2 * time.Minute
)

// BackoffPolicy returns the wait before poll attempt+1, attempt counting
// from zero after the first (immediate) poll.
type BackoffPolicy func(attempt int) time.Duration

// JitterFunc returns the random part added to each delay.
type JitterFunc func() time.Duration

func randomJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(DefaultMaxJitter)))
}

// DefaultBackoff is interval * multiplier^attempt + jitter with a 2s interval
// and a 1.5 multiplier. A nil jitter draws uniformly from [0, 100ms).
func DefaultBackoff(jitter JitterFunc) BackoffPolicy {
	if jitter == nil {
		jitter = randomJitter
	}
	return func(attempt int) time.Duration {
		delay := float64(DefaultPollInterval) * math.Pow(DefaultPollMultiplier, float64(attempt))
		return time.Duration(delay) + jitter()
	}
}

// policyBackOff adapts a BackoffPolicy to backoff.BackOff.
type policyBackOff struct {
	policy  BackoffPolicy
	attempt int
}

var _ backoff.BackOff = (*policyBackOff)(nil)

func (p *policyBackOff) NextBackOff() time.Duration {
	d := p.policy(p.attempt)
	p.attempt++
	return d
}

func (p *policyBackOff) Reset() {
	p.attempt = 0
}
