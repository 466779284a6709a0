// Package resilience guards calls to external providers with a circuit
// breaker.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a Breaker.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected
	StateHalfOpen              // one probe allowed
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

// ErrCircuitOpen is returned without calling the wrapped function while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// Name labels the breaker in state-change callbacks.
	Name string
	// FailThreshold consecutive failures open the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before a probe.
	Cooldown time.Duration
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
	// IsFailure decides which errors count against the breaker. Nil counts
	// every error except context cancellation.
	IsFailure func(error) bool
}

// DefaultBreakerOpts are used for zero fields.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Cooldown:      30 * time.Second,
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker creates a Breaker.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	if opts.IsFailure == nil {
		opts.IsFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, _ := b.advance()
	return st
}

// advance moves open to half-open once the cooldown elapsed. Must hold mu.
func (b *Breaker) advance() (State, bool) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = StateHalfOpen
		b.probing = false
		return b.state, true
	}
	return b.state, false
}

// Do runs f unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, f func(context.Context) error) error {
	_, err := Execute(b, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f(ctx)
	})
	return err
}

// Execute runs f through the breaker and returns its value.
func Execute[T any](b *Breaker, ctx context.Context, f func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}
	v, err := f(ctx)
	b.release(err)
	return v, err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	st, moved := b.advance()
	var rejected bool
	switch st {
	case StateOpen:
		rejected = true
	case StateHalfOpen:
		if b.probing {
			rejected = true
		} else {
			b.probing = true
		}
	}
	b.mu.Unlock()
	if moved {
		b.notify(StateOpen, StateHalfOpen)
	}
	if rejected {
		return ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) release(err error) {
	b.mu.Lock()
	from := b.state
	if err != nil && b.opts.IsFailure(err) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
		}
	} else {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
	}
	b.probing = false
	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.opts.Name, from, to)
	}
}
