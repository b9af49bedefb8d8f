package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// NavKind is what a submit did to the browser.
type NavKind int

const (
	NoChange NavKind = iota
	SameTabNavigation
	NewTab
)

func (k NavKind) String() string {
	switch k {
	case SameTabNavigation:
		return "same_tab"
	case NewTab:
		return "new_tab"
	default:
		return "no_change"
	}
}

// NavigationOutcome is the result of racing a submit against a popup and a
// same-tab URL change. Popup is set only for NewTab and belongs to the caller.
type NavigationOutcome struct {
	Kind  NavKind
	URL   string
	Popup Page
}

// RetryPolicy bounds ResolveWithRetry. One attempt is made per timeout.
type RetryPolicy struct {
	Timeouts []time.Duration
	Pause    time.Duration
}

// DefaultRetryPolicy gives a long first attempt and a short second one.
var DefaultRetryPolicy = RetryPolicy{
	Timeouts: []time.Duration{30 * time.Second, 5 * time.Second},
	Pause:    5 * time.Second,
}

const popupCloseTimeout = 5 * time.Second

// Resolver runs the submit race.
type Resolver struct {
	logger *zap.Logger
}

func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger.Named("resolver")}
}

// Resolve arms a popup listener and a URL change watcher, calls submit, and
// returns whichever fires first within timeout. A popup wins when both are
// ready together. On timeout the URL is compared once more so a late
// same-tab change is still seen. All waiters have stopped, and any popup
// that lost the race is closed, by the time Resolve returns.
func (r *Resolver) Resolve(ctx context.Context, page Page, submit func(context.Context) error, timeout time.Duration) (NavigationOutcome, error) {
	preURL, err := page.URL(ctx)
	if err != nil {
		return NavigationOutcome{}, fmt.Errorf("failed to read url before submit: %w", err)
	}

	raceCtx, cancel := context.WithTimeout(ctx, timeout)
	popups := page.WaitPopup(raceCtx)
	urls := make(chan string, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if u, err := page.WaitURLChange(raceCtx, preURL); err == nil {
			urls <- u
		}
	}()

	var kept Page
	defer func() {
		cancel()
		wg.Wait()
		for p := range popups {
			if p != kept {
				r.closeQuietly(ctx, p)
			}
		}
	}()

	if err := submit(ctx); err != nil {
		return NavigationOutcome{}, fmt.Errorf("submit failed: %w", err)
	}

	popCh := popups
	for {
		select {
		case p, ok := <-popCh:
			if !ok {
				popCh = nil
				continue
			}
			kept = p
			u, _ := p.URL(ctx)
			return NavigationOutcome{Kind: NewTab, URL: u, Popup: p}, nil

		case u := <-urls:
			select {
			case p, ok := <-popCh:
				if ok {
					kept = p
					pu, _ := p.URL(ctx)
					return NavigationOutcome{Kind: NewTab, URL: pu, Popup: p}, nil
				}
			default:
			}
			return NavigationOutcome{Kind: SameTabNavigation, URL: u}, nil

		case <-raceCtx.Done():
			if err := ctx.Err(); err != nil {
				return NavigationOutcome{}, err
			}
			cur, err := page.URL(ctx)
			if err == nil && cur != preURL {
				return NavigationOutcome{Kind: SameTabNavigation, URL: cur}, nil
			}
			return NavigationOutcome{Kind: NoChange, URL: preURL}, nil
		}
	}
}

var errNoNavigation = errors.New("no navigation observed")

// ResolveWithRetry repeats Resolve while the outcome is NoChange, once per
// configured timeout, pausing between attempts.
func (r *Resolver) ResolveWithRetry(ctx context.Context, page Page, submit func(context.Context) error, policy RetryPolicy) (NavigationOutcome, error) {
	timeouts := policy.Timeouts
	if len(timeouts) == 0 {
		timeouts = DefaultRetryPolicy.Timeouts
	}

	var (
		out     NavigationOutcome
		attempt int
	)
	operation := func() error {
		timeout := timeouts[attempt]
		attempt++
		res, err := r.Resolve(ctx, page, submit, timeout)
		if err != nil {
			return backoff.Permanent(err)
		}
		out = res
		if out.Kind == NoChange {
			return errNoNavigation
		}
		return nil
	}
	notify := func(error, time.Duration) {
		r.logger.Info("No navigation observed, submitting again.", zap.Int("attempt", attempt+1), zap.Int("of", len(timeouts)))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Pause), uint64(len(timeouts)-1)), ctx)
	switch err := backoff.RetryNotify(operation, b, notify); {
	case err == nil:
		r.logger.Debug("Navigation resolved.", zap.Stringer("kind", out.Kind), zap.String("url", out.URL))
		return out, nil
	case errors.Is(err, errNoNavigation):
		return out, nil
	default:
		return NavigationOutcome{}, err
	}
}

func (r *Resolver) closeQuietly(ctx context.Context, p Page) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), popupCloseTimeout)
	defer cancel()
	if err := p.Close(closeCtx); err != nil {
		r.logger.Debug("Failed to close stray popup.", zap.Error(err))
	}
}
