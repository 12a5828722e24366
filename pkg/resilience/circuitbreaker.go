// Package resilience provides fault-tolerance primitives: a circuit breaker,
// exponential-backoff retry, and a context-based timeout wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is in the Open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current phase of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// CircuitBreakerConfig controls failure thresholds and recovery timing.
// OnStateChange, if set, is called with the new state after every
// transition, outside the breaker's lock.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	OnStateChange       func(name string, to State)
}

// Counts is a point-in-time view of a breaker.
type Counts struct {
	State               State     `json:"-"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int64     `json:"total_failures"`
	Rejected            int64     `json:"rejected"`
	Trips               int64     `json:"trips"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
}

// CircuitBreaker counts consecutive failures of a backend and stops calling
// it once FailureThreshold is reached. After ResetTimeout it lets up to
// HalfOpenMaxRequests probes through; one success closes it again.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	counts   Counts
	inFlight int
	now      func() time.Time
}

// NewCircuitBreaker creates a CircuitBreaker. Zero config fields fall back to
// five failures, a 30s cool-down and a single probe.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Execute runs fn if the circuit allows it, recording success or failure.
// A rejected call returns an error wrapping ErrCircuitOpen without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	changed, err := cb.admit()
	if changed {
		cb.notify(StateHalfOpen)
	}
	if err != nil {
		return err
	}

	err = fn()
	if to, changed := cb.record(err); changed {
		cb.notify(to)
	}
	return err
}

// GetState returns the current State of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the breaker's current state and counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.counts
	c.State = cb.state
	return c
}

// Reset forces the circuit breaker back to the Closed state. Lifetime
// counters are kept.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	prev := cb.state
	cb.state = StateClosed
	cb.counts.ConsecutiveFailures = 0
	cb.counts.OpenedAt = time.Time{}
	cb.inFlight = 0
	cb.mu.Unlock()

	cb.logger.Info("circuit manually reset", "from", prev)
	if prev != StateClosed {
		cb.notify(StateClosed)
	}
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// admit decides whether a call may proceed. changed reports an
// open → half-open transition.
func (cb *CircuitBreaker) admit() (changed bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.counts.OpenedAt)
		if wait > 0 {
			cb.counts.Rejected++
			return false, fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.state = StateHalfOpen
		cb.inFlight = 0
		changed = true
		cb.logger.Info("circuit half-open, probing backend", "cool_down", cb.cfg.ResetTimeout)
	}

	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.cfg.HalfOpenMaxRequests {
			cb.counts.Rejected++
			return changed, fmt.Errorf("%w: %s (probe limit reached)", ErrCircuitOpen, cb.name)
		}
		cb.inFlight++
	}
	return changed, nil
}

// record folds the outcome of a call into the breaker and returns the new
// state when it moved.
func (cb *CircuitBreaker) record(err error) (State, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.counts.ConsecutiveFailures = 0
		if cb.state != StateHalfOpen {
			return cb.state, false
		}
		cb.state = StateClosed
		cb.inFlight = 0
		cb.counts.OpenedAt = time.Time{}
		cb.logger.Info("circuit closed, backend recovered")
		return StateClosed, true
	}

	cb.counts.ConsecutiveFailures++
	cb.counts.TotalFailures++
	switch {
	case cb.state == StateHalfOpen:
		cb.logger.Warn("probe failed, circuit re-opened", "error", err)
	case cb.state == StateClosed && cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold:
		cb.logger.Warn("circuit opened",
			"consecutive_failures", cb.counts.ConsecutiveFailures,
			"threshold", cb.cfg.FailureThreshold,
			"error", err,
		)
	default:
		return cb.state, false
	}
	cb.state = StateOpen
	cb.counts.OpenedAt = cb.now()
	cb.counts.Trips++
	return StateOpen, true
}

func (cb *CircuitBreaker) notify(to State) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
