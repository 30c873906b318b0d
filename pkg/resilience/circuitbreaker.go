// Package resilience guards the engine's paid external calls with a circuit
// breaker and a token-bucket rate limiter.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker's admission mode.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected until the cooldown expires
	StateHalfOpen              // limited probe calls decide open vs closed
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

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before entering half-open.
	Timeout time.Duration
	// HalfOpenMax is the number of probe calls allowed in half-open state.
	HalfOpenMax int
}

// DefaultBreakerOpts provides sensible defaults.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker fails fast once a dependency looks dead, then probes it back to
// health after a cooldown.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	streak   int       // consecutive failures while closed
	reopenAt time.Time // when an open breaker may probe again
	probes   int       // probe calls admitted in the current half-open window
	now      func() time.Time
}

// NewBreaker creates a breaker; zero option fields take the defaults.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the admission mode, lazily moving open to half-open once the
// cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.admit()
}

// admit advances open to half-open when due. Caller holds mu.
func (b *Breaker) admit() State {
	if b.state == StateOpen && !b.now().Before(b.reopenAt) {
		b.state = StateHalfOpen
		b.probes = 0
	}
	return b.state
}

// Call runs f unless the breaker is rejecting. f's error is returned as-is;
// only a rejected call yields ErrCircuitOpen.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if !b.tryAcquire() {
		return ErrCircuitOpen
	}
	err := f(ctx)
	b.record(err)
	return err
}

func (b *Breaker) tryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.admit() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			return false
		}
		b.probes++
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		// Any success while probing closes the breaker fully.
		b.state = StateClosed
		b.streak = 0
		return
	}

	b.streak++
	if b.state == StateHalfOpen || b.streak >= b.opts.FailThreshold {
		b.state = StateOpen
		b.reopenAt = b.now().Add(b.opts.Timeout)
		b.streak = 0
		b.probes = 0
	}
}
