// Package circuitbreaker guards an outbound delivery channel. After a run of
// consecutive failures the breaker opens and rejects attempts until a cool-off
// has passed, then lets a single probe through to decide whether the channel
// has recovered.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrCircuitOpen is returned while the breaker is cooling off.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrProbeInFlight is returned in half-open while another probe is running.
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// IsRejection reports whether err came from the breaker itself rather than
// from the guarded call.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrProbeInFlight)
}

// Counts is a snapshot of outcomes within the current generation.
type Counts struct {
	Attempts             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// StateChangeFunc observes transitions.
type StateChangeFunc func(name string, from, to State)

type settings struct {
	failureThreshold int
	successThreshold int
	coolOff          time.Duration
	onStateChange    StateChangeFunc
	isFailure        func(error) bool
	now              func() time.Time
}

// Option tunes a breaker.
type Option func(*settings)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many successful probes close it again.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successThreshold = n
		}
	}
}

// WithTimeout sets the cool-off spent in the open state.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.coolOff = d
		}
	}
}

func WithOnStateChange(fn StateChangeFunc) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithIsFailure overrides which errors count against the channel.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) {
		if fn != nil {
			s.isFailure = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// countsAsFailure ignores cancellation of the caller: an aborted run says
// nothing about the health of the channel.
func countsAsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	reopenAt   time.Time
	probing    bool
}

// New builds a closed breaker. Defaults: 5 failures, 1 probe success, 60s cool-off.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		failureThreshold: 5,
		successThreshold: 1,
		coolOff:          time.Minute,
		isFailure:        countsAsFailure,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// DeliveryBreaker is the preset used for the notification channel: three
// consecutive failures, two minutes of cool-off.
func DeliveryBreaker(onStateChange StateChangeFunc) *CircuitBreaker {
	return New("delivery",
		WithFailureThreshold(3),
		WithTimeout(2*time.Minute),
		WithOnStateChange(onStateChange),
	)
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker rejects the attempt. The error of fn is
// returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return fmt.Errorf("%s: %w", cb.name, err)
	}

	var callErr error
	defer func() {
		if p := recover(); p != nil {
			cb.record(gen, true)
			panic(p)
		}
		cb.record(gen, cb.cfg.isFailure(callErr))
	}()

	callErr = fn(ctx)
	return callErr
}

// State returns the current position, promoting open to half-open once the
// cool-off has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(cb.cfg.now())
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// RetryAt is when an open breaker will admit a probe. Zero unless open.
func (cb *CircuitBreaker) RetryAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(cb.cfg.now())
	if cb.state != StateOpen {
		return time.Time{}
	}
	return cb.reopenAt
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(StateClosed, cb.cfg.now())
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh(cb.cfg.now())
	switch cb.state {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probing {
			return 0, ErrProbeInFlight
		}
		cb.probing = true
	}
	cb.counts.Attempts++
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(gen uint64, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.now()
	cb.refresh(now)
	if gen != cb.generation {
		// Outcome of an attempt admitted before the last transition.
		return
	}
	cb.probing = false

	if failed {
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0
		if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.cfg.failureThreshold {
			cb.moveTo(StateOpen, now)
		}
		return
	}

	cb.counts.TotalSuccesses++
	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0
	if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.successThreshold {
		cb.moveTo(StateClosed, now)
	}
}

func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.state == StateOpen && !now.Before(cb.reopenAt) {
		cb.moveTo(StateHalfOpen, now)
	}
}

// moveTo starts a new generation. Callers hold mu.
func (cb *CircuitBreaker) moveTo(to State, now time.Time) {
	from := cb.state
	cb.generation++
	cb.counts = Counts{}
	cb.probing = false
	cb.reopenAt = time.Time{}
	if to == StateOpen {
		cb.reopenAt = now.Add(cb.cfg.coolOff)
	}
	cb.state = to

	if from != to && cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.name, from, to)
	}
}
