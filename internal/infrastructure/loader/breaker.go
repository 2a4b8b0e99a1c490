package loader

import (
	"sync"
	"time"

	"github.com/flowplane/flowplane/internal/core/domain/process"
)

// BreakerState is the circuit breaker's current state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes the circuit breaker protecting remote downloads.
type BreakerConfig struct {
	// FailureRateThreshold is the failure percentage (0-100] that opens the
	// breaker once MinimumCalls outcomes are in the window.
	FailureRateThreshold float64

	// SlowCallRateThreshold is the slow-call percentage (0-100] that opens
	// the breaker; a call is slow when it exceeds SlowCallDuration.
	SlowCallRateThreshold float64
	SlowCallDuration      time.Duration

	// WindowSize is the number of recent call outcomes evaluated.
	WindowSize int

	// MinimumCalls gates evaluation until enough outcomes are recorded.
	MinimumCalls int

	// OpenWait is how long the breaker stays open before permitting trials.
	OpenWait time.Duration

	// HalfOpenCalls is the number of trial calls permitted while half-open.
	HalfOpenCalls int
}

// DefaultBreakerConfig returns conservative defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureRateThreshold:  50,
		SlowCallRateThreshold: 80,
		SlowCallDuration:      10 * time.Second,
		WindowSize:            10,
		MinimumCalls:          5,
		OpenWait:              30 * time.Second,
		HalfOpenCalls:         2,
	}
}

type callOutcome struct {
	failed bool
	slow   bool
}

// CircuitBreaker guards remote I/O with a count-based sliding window.
// State transitions are atomic under the mutex and therefore globally
// visible to every download sharing the breaker instance.
type CircuitBreaker struct {
	mu sync.Mutex

	config BreakerConfig
	state  BreakerState

	window []callOutcome // ring buffer of recent outcomes
	head   int
	filled int

	openedAt      time.Time
	halfOpenInUse int
	now           func() time.Time // test seam
}

// NewCircuitBreaker creates a closed breaker with the given settings.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultBreakerConfig().WindowSize
	}
	if config.HalfOpenCalls <= 0 {
		config.HalfOpenCalls = 1
	}
	return &CircuitBreaker{
		config: config,
		window: make([]callOutcome, config.WindowSize),
		now:    time.Now,
	}
}

// Execute runs fn through the breaker. While open it fails immediately with
// a CircuitOpen error and performs no I/O.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	start := cb.now()
	err := fn()
	cb.record(err != nil, cb.now().Sub(start) > cb.config.SlowCallDuration)
	return err
}

// State returns the breaker's current state, applying the open→half-open
// transition if the wait has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// acquire admits or rejects a call based on the current state.
func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()

	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if cb.halfOpenInUse >= cb.config.HalfOpenCalls {
			return process.NewError(process.CodeCircuitOpen,
				"remote repository temporarily unavailable: trial call budget exhausted")
		}
		cb.halfOpenInUse++
		return nil
	default:
		return process.NewError(process.CodeCircuitOpen,
			"remote repository temporarily unavailable: circuit open")
	}
}

// maybeHalfOpen moves an expired open breaker to half-open. Caller holds mu.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.config.OpenWait {
		cb.state = BreakerHalfOpen
		cb.halfOpenInUse = 0
	}
}

// record stores a call outcome and re-evaluates the thresholds.
func (cb *CircuitBreaker) record(failed, slow bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen {
		// Trial outcomes decide the next state directly.
		if failed {
			cb.trip()
		} else {
			cb.reset()
		}
		return
	}

	cb.window[cb.head] = callOutcome{failed: failed, slow: slow}
	cb.head = (cb.head + 1) % len(cb.window)
	if cb.filled < len(cb.window) {
		cb.filled++
	}

	if cb.filled < cb.config.MinimumCalls {
		return
	}

	failures, slows := 0, 0
	for i := 0; i < cb.filled; i++ {
		if cb.window[i].failed {
			failures++
		}
		if cb.window[i].slow {
			slows++
		}
	}
	failureRate := float64(failures) / float64(cb.filled) * 100
	slowRate := float64(slows) / float64(cb.filled) * 100

	if (cb.config.FailureRateThreshold > 0 && failureRate >= cb.config.FailureRateThreshold) ||
		(cb.config.SlowCallRateThreshold > 0 && slowRate >= cb.config.SlowCallRateThreshold) {
		cb.trip()
	}
}

// trip opens the breaker and clears the window. Caller holds mu.
func (cb *CircuitBreaker) trip() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.head = 0
	cb.filled = 0
	cb.halfOpenInUse = 0
}

// reset closes the breaker and clears the window. Caller holds mu.
func (cb *CircuitBreaker) reset() {
	cb.state = BreakerClosed
	cb.head = 0
	cb.filled = 0
	cb.halfOpenInUse = 0
}
