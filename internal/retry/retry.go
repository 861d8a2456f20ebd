// Package retry re-runs caller-chosen operations with exponential backoff.
//
// The client never retries on its own. Callers that want a retry (the CLI's
// --retries flag) wrap the whole operation, so a retried analysis is a new
// submission with a new identifier.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mbd888/merchantshield/internal/transport"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int           // total calls, including the first
	BaseDelay time.Duration // delay before the second call; doubles after that
	MaxDelay  time.Duration // cap on a single delay; zero keeps the one minute default
}

// DefaultPolicy is three attempts starting at half a second.
var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

// Permanent wraps err so that Do returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Transient reports whether err is worth another attempt: the backend was
// unreachable or answered with a 5xx. Local validation, 4xx answers and
// unrecognised shapes are final.
func Transient(err error) bool {
	var netErr *transport.NetworkError
	if errors.As(err, &netErr) {
		return !errors.Is(err, context.Canceled)
	}
	var httpErr *transport.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	return false
}

// backOff spreads each delay by +-25% and never gives up on elapsed time;
// Attempts alone bounds the loop.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0.25
	b.Multiplier = 2
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do calls fn until it succeeds, returns a non-transient or permanent
// error, the attempts run out or ctx is done. attempt starts at 1.
// onRetry, if set, is called before each backoff sleep. The error returned
// is always the last one fn produced.
func Do(ctx context.Context, p Policy, fn func(attempt int) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var (
		attempt int
		last    error
	)
	op := func() error {
		attempt++
		last = fn(attempt)
		if last != nil && !Transient(last) {
			return backoff.Permanent(last)
		}
		return last
	}
	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(attempts-1)), ctx)
	err := backoff.RetryNotify(op, b, notify)
	if err != nil && last != nil {
		// Cancellation surfaces as ctx.Err(); callers want what fn said.
		return unwrapPermanent(last)
	}
	return err
}

func unwrapPermanent(err error) error {
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
