// Package resilience provides a circuit breaker for calls to backing stores.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Circuit breaker states.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripping, reject calls
	StateHalfOpen              // allowing a trial call
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

var breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "resilience_breaker_state",
	Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
}, []string{"breaker"})

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// Name labels the state metric and log lines.
	Name string
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before entering half-open.
	Timeout time.Duration
	// HalfOpenMax is the number of trial calls allowed in half-open state.
	HalfOpenMax int
	// IsFailure decides whether an error counts against the breaker. Nil
	// counts everything except context cancellation and deadlines.
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerOpts provides sensible defaults.
var DefaultBreakerOpts = BreakerOpts{
	Name:          "default",
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker implements a circuit breaker with closed/open/half-open states.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time // for testing
}

// NewBreaker creates a circuit breaker with the given options.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.Name == "" {
		opts.Name = DefaultBreakerOpts.Name
	}
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	if opts.IsFailure == nil {
		opts.IsFailure = countsAsFailure
	}
	breakerState.WithLabelValues(opts.Name).Set(float64(StateClosed))
	return &Breaker{opts: opts, now: time.Now}
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	st, from, changed := b.currentState()
	b.mu.Unlock()
	if changed {
		b.transitioned(from, st)
	}
	return st
}

// currentState returns state, transitioning open→half-open if timeout
// elapsed. Must hold mu.
func (b *Breaker) currentState() (st, from State, changed bool) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.halfOpenCount = 0
		return StateHalfOpen, StateOpen, true
	}
	return b.state, b.state, false
}

// Call executes f through the circuit breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	st, from, changed := b.currentState()

	switch st {
	case StateOpen:
		b.mu.Unlock()
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			b.mu.Unlock()
			if changed {
				b.transitioned(from, st)
			}
			return ErrCircuitOpen
		}
		b.halfOpenCount++
	}
	b.mu.Unlock()
	if changed {
		b.transitioned(from, st)
	}

	err := f(ctx)

	b.mu.Lock()
	before := b.state
	if err != nil && b.opts.IsFailure(err) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.halfOpenCount = 0
		}
	} else if err == nil {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.failures = 0
	}
	after := b.state
	b.mu.Unlock()

	if after != before {
		b.transitioned(before, after)
	}
	return err
}

func (b *Breaker) transitioned(from, to State) {
	breakerState.WithLabelValues(b.opts.Name).Set(float64(to))
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.opts.Name, from, to)
	}
}
