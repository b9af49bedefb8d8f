package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PollPolicy bounds a probe loop. Attempts <= 0 polls until ctx is done.
// After each miss the interval grows by Backoff, capped at MaxInterval.
type PollPolicy struct {
	Attempts    int
	Interval    time.Duration
	Backoff     time.Duration
	MaxInterval time.Duration
}

// Probe is the outcome of a detector. Found false is a normal answer.
type Probe struct {
	Found bool
	Text  string
}

// linearBackOff waits Interval after the first miss and Backoff longer
// after each further one, capped at MaxInterval.
type linearBackOff struct {
	policy PollPolicy
	next   time.Duration
}

func (b *linearBackOff) Reset() { b.next = b.policy.Interval }

func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.next
	b.next += b.policy.Backoff
	if b.policy.MaxInterval > 0 && b.next > b.policy.MaxInterval {
		b.next = b.policy.MaxInterval
	}
	return d
}

var errProbeMissed = errors.New("probe missed")

// Poll runs fn until it reports Found, the attempts run out or ctx ends.
// Errors from fn count as misses; the last one is returned when nothing
// was found.
func Poll(ctx context.Context, policy PollPolicy, fn func(context.Context) (Probe, error)) (Probe, error) {
	var (
		found   Probe
		lastErr error
	)
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		p, err := fn(ctx)
		if err == nil && p.Found {
			found = p
			return nil
		}
		if err != nil {
			lastErr = err
		}
		return errProbeMissed
	}

	var b backoff.BackOff = &linearBackOff{policy: policy}
	if policy.Attempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(policy.Attempts-1))
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Probe{}, ctxErr
		}
		return Probe{}, lastErr
	}
	return found, nil
}

// WaitPresent polls until loc matches at least one element, or timeout.
func WaitPresent(ctx context.Context, page Page, loc Locator, timeout time.Duration) (bool, error) {
	return waitFor(ctx, timeout, func(ctx context.Context) (Probe, error) {
		n, err := page.Count(ctx, loc)
		return Probe{Found: n > loc.Nth}, err
	})
}

// WaitVisible polls until loc is visible, or timeout.
func WaitVisible(ctx context.Context, page Page, loc Locator, timeout time.Duration) (bool, error) {
	return waitFor(ctx, timeout, func(ctx context.Context) (Probe, error) {
		ok, err := page.Visible(ctx, loc)
		return Probe{Found: ok}, err
	})
}

func waitFor(ctx context.Context, timeout time.Duration, fn func(context.Context) (Probe, error)) (bool, error) {
	if timeout <= 0 {
		p, err := fn(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return err == nil && p.Found, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, _ := Poll(waitCtx, PollPolicy{Interval: 100 * time.Millisecond, Backoff: 50 * time.Millisecond, MaxInterval: 500 * time.Millisecond}, fn)
	if p.Found {
		return true, nil
	}
	// Only the caller's cancellation is an error; our own deadline is a miss.
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
