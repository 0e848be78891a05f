package invoker

import (
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/triage/internal/config"
)

// ErrCircuitOpen is returned by Allow while a service's breaker rejects
// calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a service's circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// minWindowCalls is the number of calls a window needs before its error
// rate can trip the breaker.
const minWindowCalls = 10

// BreakerSnapshot is a point-in-time view of a breaker, for logs and tests.
type BreakerSnapshot struct {
	State          BreakerState
	Streak         int // consecutive failures while closed
	Probes         int // probes admitted while half-open
	ProbeSuccesses int
	WindowCalls    int
	WindowFailures int
}

// CircuitBreaker guards calls to one service. While closed it counts
// consecutive failures and, optionally, the failure rate of a tumbling
// window; either can open it. An open breaker rejects calls until its
// cool-down passes, then admits up to SuccessThreshold probes. All probes
// succeeding closes it; any probe failing reopens it.
//
// A service that answers with a rejection (RejectedError) is healthy, so
// Done counts that as a success.
type CircuitBreaker struct {
	service string
	now     func() time.Time

	openAfter   int
	closeAfter  int
	coolDown    time.Duration
	maxRate     float64
	window      time.Duration
	onChange    func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	streak   int
	openedAt time.Time
	probes   int
	passed   int

	windowStart    time.Time
	windowCalls    int
	windowFailures int
}

// NewCircuitBreaker builds the breaker for service. Unset thresholds mean
// five failures to open, two probes to close and a 30s cool-down. The
// error-rate check is off unless both its threshold and window are set.
func NewCircuitBreaker(service string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		service:    service,
		now:        time.Now,
		openAfter:  cfg.FailureThreshold,
		closeAfter: cfg.SuccessThreshold,
		coolDown:   cfg.Timeout,
		maxRate:    cfg.ErrorRateThreshold,
		window:     cfg.ErrorRateWindow,
	}
	if cb.openAfter < 1 {
		cb.openAfter = 5
	}
	if cb.closeAfter < 1 {
		cb.closeAfter = 2
	}
	if cb.coolDown <= 0 {
		cb.coolDown = 30 * time.Second
	}
	if cb.maxRate <= 0 || cb.window <= 0 {
		cb.maxRate, cb.window = 0, 0
	}
	cb.windowStart = cb.now()
	return cb
}

// Service returns the name of the guarded service.
func (cb *CircuitBreaker) Service() string { return cb.service }

// OnStateChange registers fn to run after every transition. fn runs with
// the breaker locked and must not call back into it.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Allow reports whether a call may start. Every allowed call must be
// followed by exactly one Done or Release.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.coolOff()
	switch cb.state {
	case BreakerOpen:
		return ErrCircuitOpen
	case BreakerHalfOpen:
		if cb.probes >= cb.closeAfter {
			return ErrCircuitOpen
		}
		cb.probes++
	}
	return nil
}

// Done records the result of an allowed call.
func (cb *CircuitBreaker) Done(err error) {
	var rejected *RejectedError
	failed := err != nil && !errors.As(err, &rejected)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.countInWindow(failed)
		if !failed {
			cb.streak = 0
			return
		}
		cb.streak++
		if cb.streak >= cb.openAfter || cb.rateExceeded() {
			cb.moveTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		if failed {
			cb.moveTo(BreakerOpen)
			return
		}
		cb.passed++
		if cb.passed >= cb.closeAfter {
			cb.moveTo(BreakerClosed)
		}
	}
}

// Release ends an allowed call without judging the service, as when the
// caller walks away before an answer. A half-open probe slot is returned.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerHalfOpen && cb.probes > cb.passed {
		cb.probes--
	}
}

// State returns the current state, moving Open to HalfOpen once the
// cool-down has passed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.coolOff()
	return cb.state
}

// Snapshot returns the breaker's counters.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.coolOff()
	cb.rollWindow()
	return BreakerSnapshot{
		State:          cb.state,
		Streak:         cb.streak,
		Probes:         cb.probes,
		ProbeSuccesses: cb.passed,
		WindowCalls:    cb.windowCalls,
		WindowFailures: cb.windowFailures,
	}
}

func (cb *CircuitBreaker) coolOff() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.coolDown {
		cb.moveTo(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) moveTo(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.probes, cb.passed = 0, 0
	switch to {
	case BreakerOpen:
		cb.openedAt = cb.now()
	case BreakerClosed:
		cb.streak = 0
	}
	if to != BreakerHalfOpen {
		cb.clearWindow()
	}
	if cb.onChange != nil && from != to {
		cb.onChange(from, to)
	}
}

func (cb *CircuitBreaker) countInWindow(failed bool) {
	if cb.window == 0 {
		return
	}
	cb.rollWindow()
	cb.windowCalls++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) rollWindow() {
	if cb.window > 0 && cb.now().Sub(cb.windowStart) >= cb.window {
		cb.clearWindow()
	}
}

func (cb *CircuitBreaker) clearWindow() {
	cb.windowStart = cb.now()
	cb.windowCalls, cb.windowFailures = 0, 0
}

func (cb *CircuitBreaker) rateExceeded() bool {
	if cb.maxRate == 0 || cb.windowCalls < minWindowCalls {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowCalls) >= cb.maxRate
}
