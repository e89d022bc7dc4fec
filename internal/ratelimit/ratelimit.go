// Package ratelimit tracks the Discogs request budget reported in response headers
// and delays outbound calls when the budget is nearly spent.
//
// One [Limiter] is shared by every API client in a process. Discogs allows a fixed number of
// requests per moving 60 second window; the remaining budget is read from the
// X-Discogs-Ratelimit-* headers on every response, successful or not.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/vinyldeck/internal/shared"
)

const (
	// Window is the Discogs moving rate-limit window.
	Window = 60 * time.Second
	// Buffer is the number of requests held back before throttling starts.
	Buffer = 5
	// DefaultLimit is the authenticated per-window allowance.
	DefaultLimit = 60
)

// Rate-limit response headers.
const (
	HeaderLimit     = "X-Discogs-Ratelimit"
	HeaderUsed      = "X-Discogs-Ratelimit-Used"
	HeaderRemaining = "X-Discogs-Ratelimit-Remaining"
)

// State is a snapshot of the tracked budget.
type State struct {
	Limit       int
	Used        int
	Remaining   int
	LastUpdated time.Time
}

// Limiter throttles requests against the observed budget.
//
// Concurrent callers of [Limiter.WaitIfNeeded] share one pending timer.
type Limiter struct {
	mu      sync.Mutex
	clock   shared.Clock
	logger  *log.Logger
	state   State
	pending chan struct{}
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithClock injects the clock used for window expiry and wait timers.
func WithClock(c shared.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger sets the logger used to report throttling.
func WithLogger(logger *log.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a [Limiter] with the authenticated default budget.
func New(opts ...Option) *Limiter {
	l := &Limiter{clock: shared.SystemClock{}}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = shared.DiscardLogger()
	}
	l.state = State{
		Limit:       DefaultLimit,
		Remaining:   DefaultLimit,
		LastUpdated: l.clock.Now(),
	}
	return l
}

// UpdateFromHeaders records the budget reported by a response. Missing or non-numeric values are skipped.
func (l *Limiter) UpdateFromHeaders(h http.Header) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := parseHeader(h, HeaderLimit); ok {
		l.state.Limit = v
	}
	if v, ok := parseHeader(h, HeaderUsed); ok {
		l.state.Used = v
	}
	if v, ok := parseHeader(h, HeaderRemaining); ok {
		l.state.Remaining = v
	}
	l.state.LastUpdated = l.clock.Now()
}

func parseHeader(h http.Header, name string) (int, bool) {
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ShouldThrottle reports whether fewer than [Buffer] requests remain.
// Once the window has elapsed since the last observation the budget is reset and false is returned.
func (l *Limiter) ShouldThrottle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shouldThrottle()
}

func (l *Limiter) shouldThrottle() bool {
	if l.clock.Now().Sub(l.state.LastUpdated) > Window {
		l.state.Remaining = l.state.Limit
		l.state.Used = 0
		return false
	}
	return l.state.Remaining < Buffer
}

// WaitIfNeeded blocks until the current window expires when the budget is nearly spent.
//
// Only the first throttled caller schedules a timer; later callers join the same wait.
// A cancelled ctx releases only that caller.
func (l *Limiter) WaitIfNeeded(ctx context.Context) error {
	l.mu.Lock()
	if !l.shouldThrottle() {
		l.mu.Unlock()
		return nil
	}

	done := l.pending
	if done == nil {
		elapsed := l.clock.Now().Sub(l.state.LastUpdated)
		wait := max(0, Window-elapsed)
		l.logger.Warn("rate limit buffer reached, waiting", "wait", wait, "remaining", l.state.Remaining)

		done = make(chan struct{})
		l.pending = done
		timer := l.clock.After(wait)
		go func() {
			<-timer
			l.mu.Lock()
			if l.pending == done {
				l.pending = nil
			}
			l.mu.Unlock()
			close(done)
		}()
	}
	l.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a copy of the tracked budget.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
