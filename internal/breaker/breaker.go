// Package breaker implements a per-resource three-state circuit breaker.
package breaker

import (
	"sync"
	"time"

	"github.com/Ap3pp3rs94/signalbot/internal/metrics"
	"github.com/Ap3pp3rs94/signalbot/internal/signalerr"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the tunables for a Breaker.
type Config struct {
	FailureThreshold int
	OpenDuration     time.Duration
	RollingWindow    time.Duration
}

type resourceState struct {
	state              State
	failureTimestamps  []time.Time
	openedAt           time.Time
	halfOpenProbeInFlight bool
}

// Breaker holds independent state machines keyed by resource.
type Breaker struct {
	mu      sync.Mutex
	cfg     Config
	states  map[string]*resourceState
	metrics *metrics.Registry
	now     func() time.Time
}

func New(cfg Config, reg *metrics.Registry) *Breaker {
	return &Breaker{cfg: cfg, states: make(map[string]*resourceState), metrics: reg, now: time.Now}
}

// Allow decides whether a call against resource may proceed. When it
// returns false, the caller must treat it as ErrorKind.BreakerOpen and skip
// the underlying call entirely. When the breaker is half_open and this call
// is the chosen probe, the caller must report its outcome via RecordSuccess
// or RecordFailure.
func (b *Breaker) Allow(resource string) (allowed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stateFor(resource)
	now := b.now()

	switch st.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.After(st.openedAt.Add(b.cfg.OpenDuration)) {
			st.state = StateHalfOpen
			st.halfOpenProbeInFlight = false
			b.publish(resource, st.state)
		} else {
			return false
		}
		fallthrough
	case StateHalfOpen:
		if st.halfOpenProbeInFlight {
			return false
		}
		st.halfOpenProbeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess reports a successful call against resource.
func (b *Breaker) RecordSuccess(resource string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stateFor(resource)
	switch st.state {
	case StateHalfOpen:
		st.state = StateClosed
		st.failureTimestamps = nil
		st.halfOpenProbeInFlight = false
		b.publish(resource, st.state)
	case StateClosed:
		// a success does not reset the rolling window; only its age does.
	}
}

// RecordFailure reports a failed call against resource, possibly tripping
// the breaker open.
func (b *Breaker) RecordFailure(resource string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stateFor(resource)
	now := b.now()

	switch st.state {
	case StateHalfOpen:
		st.state = StateOpen
		st.openedAt = now
		st.halfOpenProbeInFlight = false
		st.failureTimestamps = nil
		b.publish(resource, st.state)
		return
	case StateOpen:
		return
	}

	st.failureTimestamps = append(st.failureTimestamps, now)
	cutoff := now.Add(-b.cfg.RollingWindow)
	kept := st.failureTimestamps[:0]
	for _, ts := range st.failureTimestamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.failureTimestamps = kept

	if len(st.failureTimestamps) >= b.cfg.FailureThreshold {
		st.state = StateOpen
		st.openedAt = now
		st.failureTimestamps = nil
		b.publish(resource, st.state)
	}
}

// State reports the current state for resource (closed if never seen).
func (b *Breaker) State(resource string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateFor(resource).state
}

func (b *Breaker) stateFor(resource string) *resourceState {
	st, ok := b.states[resource]
	if !ok {
		st = &resourceState{state: StateClosed}
		b.states[resource] = st
	}
	return st
}

func (b *Breaker) publish(resource string, state State) {
	if b.metrics != nil {
		b.metrics.CircuitBreakerState.WithLabelValues(resource).Set(metrics.BreakerStateValue(string(state)))
	}
}

// ErrBreakerOpen is the classified error surfaced to callers denied by Allow.
func ErrBreakerOpen(resource string) error {
	return signalerr.New(signalerr.KindBreakerOpen, resource, errBreakerOpen)
}

var errBreakerOpen = breakerOpenSentinel{}

type breakerOpenSentinel struct{}

func (breakerOpenSentinel) Error() string { return "circuit breaker open" }
