package embedding

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the provider is considered down.
var ErrBreakerOpen = errors.New("embedding breaker open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker trips after maxFailures consecutive failures and probes again
// after cooldown. A few successes in the half-open state close it.
type breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	successes   int
	lastFailure time.Time

	maxFailures int
	cooldown    time.Duration
	probeQuota  int
}

func newBreaker(maxFailures int, cooldown time.Duration) *breaker {
	return &breaker{
		state:       breakerClosed,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		probeQuota:  3,
	}
}

// allow reports whether a call may proceed, transitioning open → half-open
// once the cooldown has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != breakerOpen {
		return true
	}
	if time.Since(b.lastFailure) > b.cooldown {
		b.state = breakerHalfOpen
		b.successes = 0
		return true
	}
	return false
}

// record feeds the call outcome back into the state machine.
func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.failures >= b.maxFailures {
			b.state = breakerOpen
		}
		return
	}

	if b.state == breakerHalfOpen {
		b.successes++
		if b.successes >= b.probeQuota {
			b.state = breakerClosed
			b.failures = 0
		}
		return
	}
	b.failures = 0
}
