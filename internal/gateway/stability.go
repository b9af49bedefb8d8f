package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StabilityOptions tunes AwaitStable.
type StabilityOptions struct {
	// Quiet is how long the page must go without request events.
	Quiet time.Duration
	// Timeout bounds the whole wait.
	Timeout time.Duration
	// Interval is the polling period.
	Interval time.Duration
	// Settle is slept once the page is quiet, before returning.
	Settle time.Duration
}

// DefaultStability matches the timings the deposit flows were tuned with.
var DefaultStability = StabilityOptions{
	Quiet:    1500 * time.Millisecond,
	Timeout:  15 * time.Second,
	Interval: 200 * time.Millisecond,
	Settle:   300 * time.Millisecond,
}

// AwaitStable waits until page has been free of request activity for
// opts.Quiet, or has seen none at all. It returns false if opts.Timeout
// passes first and ctx.Err() if ctx ends. It never retries.
func AwaitStable(ctx context.Context, page Page, opts StabilityOptions, logger *zap.Logger) (bool, error) {
	var (
		mu    sync.Mutex
		count int
		last  = time.Now()
	)
	unsubscribe := page.SubscribeRequests(func(RequestEvent) {
		mu.Lock()
		count++
		last = time.Now()
		mu.Unlock()
	})
	defer unsubscribe()

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultStability.Interval
	}
	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		mu.Lock()
		seen, idle := count, time.Since(last)
		mu.Unlock()

		if seen == 0 || idle >= opts.Quiet {
			if err := sleep(ctx, opts.Settle); err != nil {
				return false, err
			}
			return true, nil
		}
		if !time.Now().Before(deadline) {
			logger.Debug("Network did not settle before timeout.", zap.Int("events", seen), zap.Duration("timeout", opts.Timeout))
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
