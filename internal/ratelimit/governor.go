// Package ratelimit admits cache-miss generations against a shared sliding
// window.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the length of the admission window.
const DefaultWindow = time.Minute

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	InWindow   int
	RetryAfter time.Duration
}

// Governor is a sliding-window limiter over generation attempts. It is safe
// for concurrent use.
type Governor struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	stamps []time.Time // oldest first
}

type Option func(*Governor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.window = d
		}
	}
}

// NewGovernor admits at most limit attempts per window. A limit of zero or
// less disables admission control.
func NewGovernor(limit int, opts ...Option) *Governor {
	g := &Governor{
		limit:  limit,
		window: DefaultWindow,
		now:    time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Admit records an attempt if the window has room. On rejection RetryAfter is
// the time until the oldest in-window attempt leaves the window.
func (g *Governor) Admit() Decision {
	if g.limit <= 0 {
		return Decision{Allowed: true}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.evict(now)

	if len(g.stamps) >= g.limit {
		retry := g.stamps[0].Add(g.window).Sub(now)
		if retry <= 0 {
			retry = time.Nanosecond
		}
		return Decision{Limit: g.limit, InWindow: len(g.stamps), RetryAfter: retry}
	}

	g.stamps = append(g.stamps, now)
	return Decision{Allowed: true, Limit: g.limit, InWindow: len(g.stamps)}
}

// InWindow returns the number of attempts currently counted.
func (g *Governor) InWindow() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evict(g.now())
	return len(g.stamps)
}

func (g *Governor) Limit() int { return g.limit }

// evict drops stamps at or before now-window. Caller holds mu.
func (g *Governor) evict(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.stamps) && !g.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.stamps = append(g.stamps[:0], g.stamps[i:]...)
	}
}
