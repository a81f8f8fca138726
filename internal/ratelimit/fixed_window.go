// ABOUTME: Fixed window counter limiter keyed by identity
// ABOUTME: A window restarts once strictly more than the window length has elapsed

package ratelimit

import (
	"sync"
	"time"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/cmap"
)

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
	dead  bool // removed by Prune; callers must fetch a fresh window
}

// FixedWindow admits at most max requests per identity in each window.
type FixedWindow struct {
	max     int
	length  time.Duration
	now     func() time.Time
	windows *cmap.Map[*window]
}

// NewFixedWindow creates a limiter admitting max requests per length.
func NewFixedWindow(max int, length time.Duration, opts ...Option) *FixedWindow {
	o := buildOptions(opts)
	return &FixedWindow{
		max:     max,
		length:  length,
		now:     o.now,
		windows: cmap.New[*window](),
	}
}

// Allow implements Limiter.
func (l *FixedWindow) Allow(identity string) bool {
	for {
		now := l.now()
		w := l.windows.GetOrCreate(identity, func() *window {
			return &window{start: now}
		})

		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		if now.Sub(w.start) > l.length {
			w.start = now
			w.count = 0
		}
		if w.count >= l.max {
			w.mu.Unlock()
			return false
		}
		w.count++
		w.mu.Unlock()
		return true
	}
}

// RetryAfter implements Limiter.
func (l *FixedWindow) RetryAfter(identity string) time.Duration {
	w, ok := l.windows.Get(identity)
	if !ok {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	if w.count < l.max || now.Sub(w.start) > l.length {
		return 0
	}
	return w.start.Add(l.length).Sub(now) + time.Nanosecond
}

// Remaining returns how many requests identity may still make in its
// current window.
func (l *FixedWindow) Remaining(identity string) int {
	w, ok := l.windows.Get(identity)
	if !ok {
		return l.max
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if l.now().Sub(w.start) > l.length {
		return l.max
	}
	return l.max - w.count
}

// Prune implements Limiter. Only windows that have already expired are
// dropped, so pruning never grants extra requests.
func (l *FixedWindow) Prune(idle time.Duration) int {
	now := l.now()
	removed := l.windows.DeleteFunc(func(_ string, w *window) bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		if now.Sub(w.start) <= l.length+idle {
			return false
		}
		w.dead = true
		return true
	})
	return len(removed)
}

// Len returns the number of tracked identities.
func (l *FixedWindow) Len() int {
	return l.windows.Len()
}
