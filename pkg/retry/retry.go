// Package retry repeats an operation with exponential backoff. Operations tag
// their errors with Retryable or Permanent; untagged errors end the loop.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// tagged carries the retry verdict for an error.
type tagged struct {
	err   error
	again bool
	after time.Duration
}

func (t *tagged) Error() string { return t.err.Error() }
func (t *tagged) Unwrap() error { return t.err }

func tag(err error, again bool, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &tagged{err: err, again: again, after: after}
}

// Retryable marks err as transient.
func Retryable(err error) error { return tag(err, true, 0) }

// RetryableAfter marks err as transient with a delay requested by the remote side.
func RetryableAfter(err error, d time.Duration) error { return tag(err, true, d) }

// Permanent marks err as final.
func Permanent(err error) error { return tag(err, false, 0) }

func verdict(err error) (*tagged, bool) {
	var t *tagged
	ok := errors.As(err, &t)
	return t, ok
}

func IsRetryable(err error) bool {
	t, ok := verdict(err)
	return ok && t.again
}

func IsPermanent(err error) bool {
	t, ok := verdict(err)
	return ok && !t.again
}

// strip removes an outermost tag so callers see the cause.
func strip(err error) error {
	if t, ok := err.(*tagged); ok {
		return t.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

type policy struct {
	attempts int
	first    time.Duration
	ceiling  time.Duration
	factor   float64
	jitter   float64
	onRetry  func(attempt int, err error, delay time.Duration)
}

type Option func(*policy)

// WithMaxAttempts counts the first call.
func WithMaxAttempts(n int) Option {
	return func(p *policy) {
		if n > 0 {
			p.attempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *policy) {
		if d >= 0 {
			p.first = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *policy) {
		if d >= 0 {
			p.ceiling = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(p *policy) {
		if m >= 1 {
			p.factor = m
		}
	}
}

// WithJitter spreads each delay by +/- j of itself.
func WithJitter(j float64) Option {
	return func(p *policy) {
		if j >= 0 && j <= 1 {
			p.jitter = j
		}
	}
}

// WithOnRetry is called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *policy) { p.onRetry = fn }
}

// Retrier is immutable and safe to share.
type Retrier struct {
	p policy
}

// New defaults to 3 attempts starting at 100ms, doubling up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	p := policy{attempts: 3, first: 100 * time.Millisecond, ceiling: 30 * time.Second, factor: 2, jitter: 0.1}
	for _, opt := range opts {
		opt(&p)
	}
	return &Retrier{p: p}
}

// Do calls op until it succeeds, returns an error not marked Retryable, or
// the attempts run out. The last cause is returned without its tag.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wait := r.p.first
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		t, ok := verdict(err)
		if !ok || !t.again || attempt >= r.p.attempts {
			return strip(err)
		}

		delay := r.spread(wait)
		if t.after > 0 {
			delay = t.after
		}
		if r.p.onRetry != nil {
			r.p.onRetry(attempt, err, delay)
		}
		if !sleep(ctx, delay) {
			return strip(err)
		}
		wait = min(time.Duration(float64(wait)*r.p.factor), r.p.ceiling)
	}
}

func (r *Retrier) spread(d time.Duration) time.Duration {
	d = min(d, r.p.ceiling)
	if r.p.jitter == 0 || d == 0 {
		return d
	}
	delta := float64(d) * r.p.jitter * (2*rand.Float64() - 1)
	return max(d+time.Duration(delta), 0)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// DeliveryRetrier keeps one delivery run within a few seconds unless the
// channel asks for a longer pause.
func DeliveryRetrier() *Retrier {
	return New(WithMaxAttempts(3), WithInitialDelay(200*time.Millisecond), WithMaxDelay(3*time.Second))
}

// LedgerRetrier covers busy and serialization errors on ledger writes.
func LedgerRetrier() *Retrier {
	return New(WithMaxAttempts(4), WithInitialDelay(20*time.Millisecond), WithMaxDelay(500*time.Millisecond), WithJitter(0.05))
}
