package breaker

import (
	"sync"
	"time"
)

// State is the condition of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker names for the external dependencies.
const (
	PSIBreaker = "psi_api"
	AIBreaker  = "google_ai"
)

// Config tunes a circuit breaker.
type Config struct {
	FailureThreshold int           // Consecutive failures before opening
	RecoveryTimeout  time.Duration // Open duration before probing
	HalfOpenMaxCalls int           // Probe calls allowed while half-open
	SuccessThreshold int           // Successes needed to close from half-open
}

// DefaultConfig matches the settings used for the PSI and AI breakers.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 2,
	}
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	FailureCount        int       `json:"failure_count"`
	SuccessCount        int       `json:"success_count"`
	LastFailureTime     time.Time `json:"last_failure_time,omitzero"`
	LastSuccessTime     time.Time `json:"last_success_time,omitzero"`
	TotalCalls          int64     `json:"total_calls"`
	TotalFailures       int64     `json:"total_failures"`
	TotalSuccesses      int64     `json:"total_successes"`
	TimeInCurrentState  float64   `json:"time_in_current_state_seconds"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// CircuitBreaker guards calls to one external dependency. Closed passes all
// calls, Open fails fast, HalfOpen admits limited probe calls. The Open to
// HalfOpen transition happens lazily when the state is next inspected.
type CircuitBreaker struct {
	name   string
	config Config

	mu             sync.Mutex
	state          State
	failureCount   int
	successCount   int
	halfOpenCalls  int
	lastFailure    time.Time
	lastSuccess    time.Time
	stateChangedAt time.Time

	totalCalls     int64
	totalFailures  int64
	totalSuccesses int64
}

// New creates a circuit breaker in the Closed state.
func New(name string, config Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:           name,
		config:         config,
		state:          StateClosed,
		stateChangedAt: time.Now(),
	}
}

// State returns the current state after applying any due transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.checkTransition()
	return cb.state
}

func (cb *CircuitBreaker) checkTransition() {
	if cb.state == StateOpen && !cb.lastFailure.IsZero() {
		if time.Since(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
		}
	}
}

func (cb *CircuitBreaker) transitionTo(state State) {
	cb.state = state
	cb.stateChangedAt = time.Now()

	switch state {
	case StateHalfOpen:
		cb.halfOpenCalls = 0
		cb.successCount = 0
	case StateClosed:
		cb.failureCount = 0
		cb.halfOpenCalls = 0
	}
}

// CanExecute reports whether a call may proceed. In HalfOpen it also counts
// the probe call against the half-open budget.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.checkTransition()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return false
	default:
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			return true
		}
		return false
	}
}

// RecordSuccess registers a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	cb.totalSuccesses++
	cb.lastSuccess = time.Now()
	cb.failureCount = 0

	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure registers a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	cb.totalFailures++
	cb.failureCount++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// Reset forces the breaker back to Closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionTo(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.checkTransition()

	return Stats{
		Name:                cb.name,
		State:               cb.state,
		FailureCount:        cb.failureCount,
		SuccessCount:        cb.successCount,
		LastFailureTime:     cb.lastFailure,
		LastSuccessTime:     cb.lastSuccess,
		TotalCalls:          cb.totalCalls,
		TotalFailures:       cb.totalFailures,
		TotalSuccesses:      cb.totalSuccesses,
		TimeInCurrentState:  time.Since(cb.stateChangedAt).Seconds(),
		ConsecutiveFailures: cb.failureCount,
	}
}

// Registry holds circuit breakers by name.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// GetOrCreate returns the breaker registered under name, creating it with
// config on first use.
func (r *Registry) GetOrCreate(name string, config Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := New(name, config)
	r.breakers[name] = cb
	return cb
}

// Get returns the breaker registered under name, or nil.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.breakers[name]
}

// AllStats returns a snapshot for every registered breaker.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}

// AnyOpen reports whether any registered breaker is currently open.
func (r *Registry) AnyOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cb := range r.breakers {
		if cb.State() == StateOpen {
			return true
		}
	}
	return false
}

// ResetAll forces every registered breaker back to Closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
