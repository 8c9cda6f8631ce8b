package bridge

import (
	"errors"
	"sync"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/observability"
)

// ErrCircuitOpen is returned without any network I/O while the breaker is
// open. Callers can tell "backend is down" apart from a single failed call.
var ErrCircuitOpen = errors.New("backend circuit open")

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// Breaker is a three-state circuit breaker. closed -> open after threshold
// consecutive failures; open -> half-open once cooldown has elapsed since the
// last failure; half-open admits a single trial call, closing on success and
// reopening on failure.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time
	probing     bool
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed. While open it fails fast with
// ErrCircuitOpen until the cooldown elapses, then admits one trial call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailure) < b.cooldown {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Success records a successful call, closing the breaker and resetting the
// consecutive-failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.setState(StateClosed)
	}
}

// Failure records a failed call. A failure during the half-open trial reopens
// immediately; in closed state the breaker opens once consecutive failures
// reach the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	b.probing = false
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.setState(StateOpen)
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CoolingDown reports whether the breaker is open and still inside its
// cooldown window. The gateway skips the periodic health probe while true.
func (b *Breaker) CoolingDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen && time.Since(b.lastFailure) < b.cooldown
}

// releaseProbe frees the half-open trial slot when a call aborts before any
// network I/O. The abort says nothing about the backend, so it counts as
// neither success nor failure.
func (b *Breaker) releaseProbe() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) setState(s BreakerState) {
	b.state = s
	observability.BreakerState.Set(float64(s))
}
