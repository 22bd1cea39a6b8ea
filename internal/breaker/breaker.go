// Package breaker implements a per-venue circuit breaker guarding the
// swap adapters in internal/venue. The teacher's hft.CircuitBreaker is
// a flat tripped/not-tripped flag keyed by symbol; this generalizes
// that shape to the three-state CLOSED/OPEN/HALF_OPEN machine and keys
// it by venue tag instead of trading symbol.
package breaker

import (
	"sync"
	"time"

	"github.com/dex-router/order-engine/internal/config"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// StateChangeFunc is invoked whenever a breaker transitions, so the
// caller can forward the transition to metrics or logs without this
// package importing observability directly.
type StateChangeFunc func(venue string, from, to State)

// Breaker is a single three-state circuit breaker. CLOSED admits every
// call and counts failures within the monitoring window; reaching
// failureThreshold opens the breaker until resetTimeout elapses, after
// which the next call is admitted as a half-open probe. A successful
// probe closes the breaker and resets the failure count; a failing
// probe reopens it immediately.
type Breaker struct {
	venue    string
	cfg      config.BreakerConfig
	onChange StateChangeFunc

	mu          sync.Mutex
	state       State
	failures    int
	windowStart time.Time
	openedAt    time.Time
}

// New creates a circuit breaker for a single venue.
func New(venue string, cfg config.BreakerConfig, onChange StateChangeFunc) *Breaker {
	return &Breaker{
		venue:       venue,
		cfg:         cfg,
		onChange:    onChange,
		state:       Closed,
		windowStart: time.Now(),
	}
}

// Allow reports whether a call should proceed. When OPEN and the reset
// timeout has not elapsed, it fails fast. When OPEN and the reset
// timeout has elapsed, it transitions to HALF_OPEN and admits exactly
// one probe; concurrent callers arriving during that probe are
// rejected until the probe resolves via RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.rollWindow()
		return true
	case Open:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return false
		}
		b.transition(HalfOpen)
		return true
	case HalfOpen:
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call. In HALF_OPEN this closes
// the breaker and resets the failure count; in CLOSED it is a no-op
// (stale failures are cleared by the window roll in Allow and
// RecordFailure, not here).
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.failures = 0
		b.transition(Closed)
		b.windowStart = time.Now()
	case Closed:
		// healthy call within the window; nothing to reset early
	}
}

// RecordFailure reports a failed call. In CLOSED it increments the
// window's failure count and opens the breaker once failureThreshold
// is reached. In HALF_OPEN a failing probe reopens the breaker
// immediately, restarting the reset timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.openedAt = time.Now()
		b.transition(Open)
	case Closed:
		b.rollWindow()
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = time.Now()
			b.transition(Open)
		}
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// rollWindow resets the failure count once the monitoring period has
// elapsed, so failures outside the window stop counting toward the
// threshold. Caller must hold b.mu.
func (b *Breaker) rollWindow() {
	if time.Since(b.windowStart) >= b.cfg.MonitoringPeriod {
		b.windowStart = time.Now()
		b.failures = 0
	}
}

// transition changes state and fires onChange. Caller must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(b.venue, from, to)
	}
}

// Registry holds one Breaker per venue tag, created lazily on first use.
type Registry struct {
	cfg      config.BreakerConfig
	onChange StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(cfg config.BreakerConfig, onChange StateChangeFunc) *Registry {
	return &Registry{
		cfg:      cfg,
		onChange: onChange,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for venue, creating it on first reference.
func (r *Registry) Get(venue string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[venue]
	if !ok {
		b = New(venue, r.cfg, r.onChange)
		r.breakers[venue] = b
	}
	return b
}
