// ABOUTME: Token bucket limiter keyed by identity, built on golang.org/x/time/rate
// ABOUTME: Refills max tokens per window continuously instead of in steps

package ratelimit

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/cmap"
)

// TokenBucket admits bursts of up to max requests per identity, refilling
// at max per window.
type TokenBucket struct {
	limit   rate.Limit
	burst   int
	now     func() time.Time
	buckets *cmap.Map[*rate.Limiter]
}

// NewTokenBucket creates a limiter refilling max tokens per window.
func NewTokenBucket(max int, window time.Duration, opts ...Option) *TokenBucket {
	o := buildOptions(opts)
	return &TokenBucket{
		limit:   rate.Limit(float64(max) / window.Seconds()),
		burst:   max,
		now:     o.now,
		buckets: cmap.New[*rate.Limiter](),
	}
}

func (l *TokenBucket) bucket(identity string) *rate.Limiter {
	return l.buckets.GetOrCreate(identity, func() *rate.Limiter {
		return rate.NewLimiter(l.limit, l.burst)
	})
}

// Allow implements Limiter.
func (l *TokenBucket) Allow(identity string) bool {
	return l.bucket(identity).AllowN(l.now(), 1)
}

// RetryAfter implements Limiter.
func (l *TokenBucket) RetryAfter(identity string) time.Duration {
	lim, ok := l.buckets.Get(identity)
	if !ok {
		return 0
	}

	now := l.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}

// Prune implements Limiter. A bucket is dropped once it has refilled
// completely, which makes it indistinguishable from a new one.
func (l *TokenBucket) Prune(_ time.Duration) int {
	now := l.now()
	removed := l.buckets.DeleteFunc(func(_ string, lim *rate.Limiter) bool {
		return lim.TokensAt(now) >= float64(l.burst)
	})
	return len(removed)
}

// Len returns the number of tracked identities.
func (l *TokenBucket) Len() int {
	return l.buckets.Len()
}
