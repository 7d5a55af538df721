package circuitbreaker

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Testing with one request
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ParseState converts the serialized form back into a State. Unknown
// strings load as CLOSED, the safe default for an older snapshot.
func ParseState(s string) State {
	switch s {
	case "OPEN":
		return StateOpen
	case "HALF_OPEN":
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// CircuitBreaker guards calls to one backend. It reacts to consecutive
// failures: the threshold trips it OPEN, the recovery timeout lets a single
// trial through via HALF_OPEN.
type CircuitBreaker struct {
	mutex            sync.Mutex
	state            State
	failures         int
	lastFailure      time.Time
	lastReason       string
	lastStateChange  time.Time
	failureThreshold int
	recoveryTimeout  time.Duration

	now func() time.Time
}

func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	now := time.Now
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		recoveryTimeout:  timeout,
		lastStateChange:  now(),
		now:              now,
	}
}

// SetClock replaces the breaker's time source. Test hook.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mutex.Lock()
	cb.now = now
	cb.mutex.Unlock()
}

// IsAvailable reports whether a request may be attempted. It is the
// canonical gate, not a pure query: an OPEN breaker whose recovery timeout
// has elapsed transitions to HALF_OPEN here, there is no background timer.
func (cb *CircuitBreaker) IsAvailable() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) >= cb.recoveryTimeout {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker from HALF_OPEN and clears the
// consecutive-failure count in CLOSED. A success while OPEN is a no-op;
// the recovery check in IsAvailable is the only way out of OPEN.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.transition(StateClosed)
		cb.failures = 0
	}
}

// RecordFailure counts the failure and applies the CLOSED and HALF_OPEN
// transition rules. The failure count keeps incrementing while OPEN so the
// status snapshot reflects everything seen.
func (cb *CircuitBreaker) RecordFailure(reason string) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()
	cb.lastReason = reason

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.failureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// TimeUntilRecovery returns how long until an OPEN breaker may probe again.
// ok is false unless the breaker is currently OPEN.
func (cb *CircuitBreaker) TimeUntilRecovery() (remaining time.Duration, ok bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != StateOpen {
		return 0, false
	}

	remaining = cb.recoveryTimeout - cb.now().Sub(cb.lastStateChange)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// State returns the current state without the recovery side effect.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failures
}

// Reset forces the breaker back to CLOSED with zeroed counters. Operator
// command.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.failures = 0
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

// Snapshot captures the serializable breaker state.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	snap := Snapshot{
		State:           cb.state.String(),
		Failures:        cb.failures,
		LastReason:      cb.lastReason,
		LastStateChange: cb.lastStateChange,
	}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		snap.LastFailure = &t
	}
	return snap
}

// Restore loads previously snapshotted state into the breaker.
func (cb *CircuitBreaker) Restore(snap Snapshot) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.state = ParseState(snap.State)
	cb.failures = snap.Failures
	if !snap.LastStateChange.IsZero() {
		cb.lastStateChange = snap.LastStateChange
	}
	if snap.LastFailure != nil {
		cb.lastFailure = *snap.LastFailure
	}
	cb.lastReason = snap.LastReason
}

// Snapshot is the serialized form of one breaker.
type Snapshot struct {
	State           string     `json:"state"`
	Failures        int        `json:"failures"`
	LastFailure     *time.Time `json:"last_failure,omitempty"`
	LastReason      string     `json:"last_reason,omitempty"`
	LastStateChange time.Time  `json:"last_state_change"`
}

// transition must be called with the mutex held.
func (cb *CircuitBreaker) transition(to State) {
	cb.state = to
	cb.lastStateChange = cb.now()
}
