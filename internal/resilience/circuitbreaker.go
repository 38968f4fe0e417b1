// Package resilience provides the retry primitives the device uses when the
// backend is unreachable.
//
// [CircuitBreaker] guards the audio channel dial: after a run of failed
// connects it rejects further attempts for a cool-down period. [Backoff]
// paces the activation and version-check retries.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// rejecting calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. One failure
	// re-opens the breaker; HalfOpenMax successes close it.
	StateHalfOpen
)

// String returns the state name used in logs and metrics.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before probing again. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes allowed while half-open, and the
	// number of successes that closes the breaker. Default 1.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a closed / open / half-open breaker.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeWins int
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the breaker is rejecting calls, and records its
// outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err == nil)
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	var from State
	changed := false
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.probes, cb.probeWins = 0, 0
	}

	var err error
	probe := false
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			cb.probes++
			probe = true
		}
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateHalfOpen)
	}
	return probe, err
}

func (cb *CircuitBreaker) record(probe, ok bool) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case ok && probe:
		cb.probeWins++
		if cb.probeWins >= cb.cfg.HalfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
		}
	case ok:
		cb.failures = 0
	case probe:
		cb.state = StateOpen
		cb.openedAt = cb.now()
	default:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	}
	to, failures := cb.state, cb.failures
	cb.mu.Unlock()

	if from != to {
		if to == StateOpen {
			slog.Warn("resilience: circuit opened", "name", cb.cfg.Name, "consecutive_failures", failures)
		} else {
			slog.Info("resilience: circuit state changed", "name", cb.cfg.Name, "from", from, "to", to)
		}
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	cb.mu.Unlock()
	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
