package analysis

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zaqqye/proctoring_backend/internal/clock"
)

// BreakerState is the circuit state for one ML endpoint.
type BreakerState int

const (
	StateClosed   BreakerState = iota // Normal: requests flow through
	StateOpen                         // Tripped: requests short-circuit to degraded
	StateHalfOpen                     // Probing: one request allowed to test recovery
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proctoring",
	Subsystem: "ml_breaker",
	Name:      "state_transitions_total",
	Help:      "ML circuit breaker state transitions by endpoint.",
}, []string{"endpoint", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(breakerTransitions)
}

type breakerEntry struct {
	state       BreakerState
	failures    int
	lastFailure time.Time
}

// Breaker opens per endpoint after threshold consecutive failures and
// probes again once openDuration has passed.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*breakerEntry
	threshold    int
	openDuration time.Duration
	clock        clock.Clock
}

func NewBreaker(threshold int, openDuration time.Duration, clk clock.Clock) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Breaker{
		entries:      make(map[string]*breakerEntry),
		threshold:    threshold,
		openDuration: openDuration,
		clock:        clk,
	}
}

// Allow reports whether a call to key may go out.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return true
	}
	switch e.state {
	case StateOpen:
		if b.clock.Now().Sub(e.lastFailure) >= b.openDuration {
			b.transition(e, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return
	}
	if e.state == StateHalfOpen {
		b.transition(e, key, StateClosed)
	}
	e.failures = 0
}

func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		e = &breakerEntry{state: StateClosed}
		b.entries[key] = e
	}
	e.failures++
	e.lastFailure = b.clock.Now()

	if e.state == StateHalfOpen {
		b.transition(e, key, StateOpen)
		return
	}
	if e.state == StateClosed && e.failures >= b.threshold {
		b.transition(e, key, StateOpen)
	}
}

func (b *Breaker) State(key string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return StateClosed
	}
	return e.state
}

// Caller must hold b.mu.
func (b *Breaker) transition(e *breakerEntry, key string, to BreakerState) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	breakerTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
}
