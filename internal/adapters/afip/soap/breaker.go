package soap

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of the circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls flow
	BreakerOpen                         // calls fail fast
	BreakerHalfOpen                     // one probe at a time
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrBreakerOpen is returned without touching the network while the breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Breaker opens after maxFailures consecutive transport failures and lets a single
// probe through once the cooldown has elapsed. Authority faults and rejections mean
// the service answered, so they count as successes.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	probeActive bool
}

// NewBreaker creates a closed breaker. maxFailures <= 0 disables it.
func NewBreaker(maxFailures int, cooldown time.Duration, now func() time.Time) *Breaker {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown, now: now}
}

// Allow reports whether a call may proceed. A true result must be followed by Record.
func (b *Breaker) Allow() error {
	if b == nil || b.maxFailures <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probeActive = true
		return nil
	case BreakerHalfOpen:
		if b.probeActive {
			return ErrBreakerOpen
		}
		b.probeActive = true
		return nil
	default:
		return nil
	}
}

// Record feeds the outcome of an allowed call.
func (b *Breaker) Record(transportFailure bool) {
	if b == nil || b.maxFailures <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.probeActive = false
		if transportFailure {
			b.state = BreakerOpen
			b.openedAt = b.now()
			return
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	if !transportFailure {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	if b == nil {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
