// Package retry re-runs operations that failed for transient reasons.
// Two policies are in use: transaction conflicts on the database and
// webhook deliveries.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR VERDICTS
// ══════════════════════════════════════════════════════════════════════════════

// verdict marks an error as worth retrying or not.
type verdict struct {
	err   error
	retry bool
}

func (v *verdict) Error() string { return v.err.Error() }
func (v *verdict) Unwrap() error { return v.err }

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &verdict{err: err, retry: true}
}

// Permanent marks err as final. It stops retries under any policy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &verdict{err: err}
}

func marked(err error) (*verdict, bool) {
	var v *verdict
	ok := errors.As(err, &v)
	return v, ok
}

// IsConflict reports whether a Postgres transaction lost a serialization
// conflict or was picked as a deadlock victim. Re-running it may succeed.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy describes how often and how patiently to retry.
type Policy struct {
	// Attempts counts the first call.
	Attempts int

	// Base is the wait before the first retry; it doubles up to Cap.
	Base time.Duration
	Cap  time.Duration

	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64

	// Transient classifies unmarked errors. Nil means only Retryable errors retry.
	Transient func(error) bool
}

// wait returns the pause after the given failed attempt, before jitter.
func (p Policy) wait(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt && d < p.Cap; i++ {
		d *= 2
	}
	return min(d, p.Cap)
}

func (p Policy) jittered(attempt int) time.Duration {
	d := float64(p.wait(attempt))
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

func (p Policy) retries(err error) bool {
	if v, ok := marked(err); ok {
		return v.retry
	}
	return p.Transient != nil && p.Transient(err)
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier runs operations under a Policy.
type Retrier struct {
	policy Policy
}

// New creates a Retrier. At least one attempt is always made.
func New(p Policy) *Retrier {
	p.Attempts = max(p.Attempts, 1)
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	return &Retrier{policy: p}
}

// Do runs op until it succeeds, fails for good, runs out of attempts or
// ctx ends. The returned error carries no retry marking.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return unmark(last)
			}
			return err
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if attempt >= r.policy.Attempts || !r.policy.retries(last) {
			return unmark(last)
		}

		t := time.NewTimer(r.policy.jittered(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return unmark(last)
		case <-t.C:
		}
	}
}

func unmark(err error) error {
	if v, ok := err.(*verdict); ok {
		return v.err
	}
	return err
}

// Webhook retries 429s, 5xx and network errors for outbound notifications.
func Webhook() *Retrier {
	return New(Policy{
		Attempts: 4,
		Base:     200 * time.Millisecond,
		Cap:      5 * time.Second,
		Jitter:   0.2,
	})
}

// Conflicts retries whole transactions that lost to a concurrent one.
// Conflicts clear quickly, so waits are short and attempts plentiful.
func Conflicts() *Retrier {
	return New(Policy{
		Attempts:  5,
		Base:      10 * time.Millisecond,
		Cap:       250 * time.Millisecond,
		Jitter:    0.5,
		Transient: IsConflict,
	})
}
