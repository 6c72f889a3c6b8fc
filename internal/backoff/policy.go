// Package backoff provides the retry delay policy used by the transport
// layer and the tool executor.
package backoff

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Policy computes exponential backoff delays with jitter.
type Policy struct {
	Base       time.Duration `yaml:"base" json:"base"`
	Max        time.Duration `yaml:"max" json:"max"`
	Multiplier float64       `yaml:"multiplier" json:"multiplier"`
	Jitter     float64       `yaml:"jitter" json:"jitter"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

// DefaultPolicy returns the transport defaults: 1s base, x2 growth, 60s cap,
// 20% jitter, 10 retries.
func DefaultPolicy() Policy {
	return Policy{
		Base:       time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
		MaxRetries: 10,
	}
}

// Delay returns the backoff delay for a zero-based attempt number:
// min(Max, Base * Multiplier^attempt) scaled by (1 ± Jitter*uniform[0,1]).
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64)
}

// DelayWithRand is Delay with an injectable randomness source for tests.
func (p Policy) DelayWithRand(attempt int, randFloat func() float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt))
	if max := float64(p.Max); base > max {
		base = max
	}
	if p.Jitter > 0 && randFloat != nil {
		// Symmetric jitter around the computed delay.
		base *= 1 + p.Jitter*(2*randFloat()-1)
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// RetryAfter parses a Retry-After header value, either delta-seconds or an
// HTTP-date. A parsed value overrides the computed backoff delay.
func RetryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
