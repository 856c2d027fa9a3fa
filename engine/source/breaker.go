package source

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a flaky endpoint is being skipped.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker stops calling an endpoint after failThreshold consecutive
// failures and lets a single probe through once cooldown has passed.
type breaker struct {
	mu            sync.Mutex
	failThreshold int
	cooldown      time.Duration
	state         breakerState
	failures      int
	openedAt      time.Time
	probing       bool
	now           func() time.Time
}

func newBreaker(failThreshold int, cooldown time.Duration) *breaker {
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &breaker{failThreshold: failThreshold, cooldown: cooldown, now: time.Now}
}

// currentState moves open to half-open once the cooldown elapsed. Must hold mu.
func (b *breaker) currentState() breakerState {
	if b.state == stateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = stateHalfOpen
		b.probing = false
	}
	return b.state
}

func (b *breaker) call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	switch b.currentState() {
	case stateOpen:
		b.mu.Unlock()
		return ErrCircuitOpen
	case stateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == stateHalfOpen || b.failures >= b.failThreshold {
			b.state = stateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.probing = false
		}
		return err
	}
	b.state = stateClosed
	b.failures = 0
	b.probing = false
	return nil
}

// breakers hands out one breaker per key.
type breakers struct {
	mu            sync.Mutex
	m             map[string]*breaker
	failThreshold int
	cooldown      time.Duration
}

func (bs *breakers) get(key string) *breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.m == nil {
		bs.m = make(map[string]*breaker)
	}
	b, ok := bs.m[key]
	if !ok {
		b = newBreaker(bs.failThreshold, bs.cooldown)
		bs.m[key] = b
	}
	return b
}
