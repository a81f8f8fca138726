// ABOUTME: Per-identity admission control with fixed window and token bucket strategies
// ABOUTME: Check and increment happen under one lock so concurrent callers cannot overshoot

package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/config"
)

// ErrRateLimited is returned when an identity has exhausted its allowance.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter decides whether an identity may make another request.
type Limiter interface {
	// Allow consumes one unit of the identity's allowance and reports
	// whether the request is admitted. A rejected call consumes nothing.
	Allow(identity string) bool
	// RetryAfter estimates how long until Allow would succeed.
	RetryAfter(identity string) time.Duration
	// Prune drops state for identities idle longer than idle and returns
	// how many were dropped.
	Prune(idle time.Duration) int
}

// Option configures a limiter.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the limiter selected by cfg.Strategy.
func New(cfg config.RateLimitConfig, opts ...Option) (Limiter, error) {
	if cfg.MaxRequests < 1 {
		return nil, fmt.Errorf("max requests must be at least 1, got %d", cfg.MaxRequests)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", cfg.Window)
	}

	switch cfg.Strategy {
	case "", config.StrategyFixedWindow:
		return NewFixedWindow(cfg.MaxRequests, cfg.Window, opts...), nil
	case config.StrategyTokenBucket:
		return NewTokenBucket(cfg.MaxRequests, cfg.Window, opts...), nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", cfg.Strategy)
	}
}
