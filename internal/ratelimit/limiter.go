// Package ratelimit gates expensive actions per user with a fixed-window
// counter per (subject, category).
//
// A window opens on the first check and admits Limit actions; once it has
// fully elapsed the next check opens a new window. Bursts straddling a window
// boundary can therefore reach 2*Limit actions within one Window of real
// time.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Category is a named class of gated action. A category with Limit <= 0 or
// Window <= 0 is disabled and always allows.
type Category struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Disabled reports whether the category gates nothing.
func (c Category) Disabled() bool {
	return c.Limit <= 0 || c.Window <= 0
}

// Outcome is the answer to a Check.
type Outcome struct {
	Allowed bool
	// Wait is how long until the subject may act again. Zero when Allowed.
	Wait time.Duration
}

// WaitSeconds returns Wait rounded up to whole seconds.
func (o Outcome) WaitSeconds() int {
	if o.Wait <= 0 {
		return 0
	}
	return int(math.Ceil(o.Wait.Seconds()))
}

type key struct {
	subject  string
	category string
}

type state struct {
	start  time.Time
	count  int
	window time.Duration
}

// Limiter holds the window state of every subject seen. It is safe for
// concurrent use.
type Limiter struct {
	mu      sync.Mutex
	entries map[key]*state

	now    func() time.Time
	logger *slog.Logger

	allowed atomic.Int64
	denied  atomic.Int64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger used for denials and sweeps.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New returns an empty limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		entries: make(map[key]*state),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records an attempt by subject under c and reports whether it may
// proceed.
func (l *Limiter) Check(subject string, c Category) Outcome {
	if c.Disabled() {
		l.allowed.Inc()
		return Outcome{Allowed: true}
	}

	now := l.now()
	k := key{subject: subject, category: c.Name}

	l.mu.Lock()
	s, ok := l.entries[k]
	if !ok || now.Sub(s.start) >= c.Window {
		l.entries[k] = &state{start: now, count: 1, window: c.Window}
		l.mu.Unlock()
		l.allowed.Inc()
		return Outcome{Allowed: true}
	}
	if s.count >= c.Limit {
		wait := c.Window - now.Sub(s.start)
		l.mu.Unlock()
		l.denied.Inc()
		l.logger.Debug("rate limit reached",
			slog.String("subject", subject),
			slog.String("category", c.Name),
			slog.Duration("wait", wait),
		)
		return Outcome{Wait: wait}
	}
	s.count++
	// Keep the latest configured window for sweeping.
	s.window = c.Window
	l.mu.Unlock()
	l.allowed.Inc()
	return Outcome{Allowed: true}
}

// Sweep removes entries whose window has elapsed and returns how many were
// removed. A removed entry behaves exactly like an expired one on the next
// Check.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, s := range l.entries {
		if now.Sub(s.start) >= s.window {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("rate limit entries swept",
					slog.Int("removed", n),
					slog.Int("remaining", l.Len()),
				)
			}
		}
	}
}

// Len returns the number of tracked (subject, category) entries.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Counts returns the total allowed and denied checks since creation.
func (l *Limiter) Counts() (allowed, denied int64) {
	return l.allowed.Load(), l.denied.Load()
}
