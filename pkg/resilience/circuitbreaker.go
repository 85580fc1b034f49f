// Package resilience provides the circuit breaker that lets a technology
// group stop hammering sites once its dealers keep failing.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// ErrCircuitOpen is returned without calling f while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a breaker.
type BreakerOpts struct {
	// FailThreshold is the number of consecutive failures that opens the
	// breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before letting one probe
	// through. Zero keeps it open until Reset.
	Cooldown time.Duration
	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(from, to State)
}

// Breaker counts consecutive failures of the calls made through it.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker returns a closed breaker. A threshold below 1 is treated as 1.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold < 1 {
		opts.FailThreshold = 1
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cool()
	return b.state
}

// Failures returns the current run of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// cool moves an open breaker to half-open once the cooldown passed. Must
// hold mu.
func (b *Breaker) cool() {
	if b.state == StateOpen && b.opts.Cooldown > 0 && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = StateHalfOpen
		b.probing = false
	}
}

// Call runs f unless the breaker is open. A half-open breaker admits a
// single probe; its outcome closes or reopens the breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	b.cool()
	switch {
	case b.state == StateOpen, b.state == StateHalfOpen && b.probing:
		b.mu.Unlock()
		return ErrCircuitOpen
	case b.state == StateHalfOpen:
		b.probing = true
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	from := b.state
	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	} else {
		b.failures = 0
		b.state = StateClosed
	}
	b.probing = false
	to := b.state
	b.mu.Unlock()

	if from != to && b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, to)
	}
	return err
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state, b.failures, b.probing = StateClosed, 0, false
	b.mu.Unlock()
	if from != StateClosed && b.opts.OnStateChange != nil {
		b.opts.OnStateChange(from, StateClosed)
	}
}
