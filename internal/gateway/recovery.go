package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Mode says how a leaf's submit left the browser.
type Mode int

const (
	// ModePopup: the payment page opened in a new tab.
	ModePopup Mode = iota
	// ModeSameTab: the primary tab navigated away or changed in place.
	ModeSameTab
)

func (m Mode) String() string {
	if m == ModePopup {
		return "popup"
	}
	return "same_tab"
}

// RecoveryOptions tunes Recovery.
type RecoveryOptions struct {
	NavigateRetries int
	NavigatePause   time.Duration
	PopupTimeout    time.Duration
	SettleDelay     time.Duration
	Stability       StabilityOptions
}

// RecoverOptions describes one recovery.
type RecoverOptions struct {
	// Origin is the deposit page URL the walk started from.
	Origin string
	// Popup is the tab to close in ModePopup.
	Popup Page
	// Recheck resubmits the form after restoring it.
	Recheck bool
	// Resubmit refills and submits the leaf's form on the primary page.
	Resubmit func(context.Context) error
}

// Recovery brings the primary page back to a leaf's menu state.
type Recovery struct {
	opts   RecoveryOptions
	logger *zap.Logger
}

func NewRecovery(opts RecoveryOptions, logger *zap.Logger) *Recovery {
	if opts.NavigateRetries <= 0 {
		opts.NavigateRetries = 2
	}
	if opts.PopupTimeout <= 0 {
		opts.PopupTimeout = 30 * time.Second
	}
	if opts.Stability == (StabilityOptions{}) {
		opts.Stability = DefaultStability
	}
	return &Recovery{opts: opts, logger: logger.Named("recovery")}
}

// Recover restores page for path. In ModePopup it closes the popup and,
// when rechecking, resubmits and returns the fresh popup. In ModeSameTab it
// reloads the origin, replays path and, when rechecking, resubmits and
// returns page. Failures wrap ErrRecoveryFailed. path is not modified.
func (r *Recovery) Recover(ctx context.Context, page Page, path []Selection, mode Mode, opts RecoverOptions) (Page, error) {
	var (
		out Page
		err error
	)
	switch mode {
	case ModePopup:
		out, err = r.recoverPopup(ctx, page, opts)
	default:
		out, err = r.recoverSameTab(ctx, page, path, opts)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrRecoveryFailed, mode, err)
	}
	return out, nil
}

func (r *Recovery) recoverPopup(ctx context.Context, page Page, opts RecoverOptions) (Page, error) {
	if opts.Popup != nil {
		if err := opts.Popup.Close(ctx); err != nil {
			r.logger.Warn("Failed to close payment popup.", zap.Error(err))
		}
	}
	if !opts.Recheck {
		return page, nil
	}
	if opts.Resubmit == nil {
		return nil, fmt.Errorf("recheck requested without a resubmit func")
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.opts.PopupTimeout)
	defer cancel()
	popups := page.WaitPopup(waitCtx)

	var got Page
	defer func() {
		cancel()
		for p := range popups {
			if p != got {
				_ = p.Close(context.WithoutCancel(ctx))
			}
		}
	}()

	if err := opts.Resubmit(ctx); err != nil {
		return nil, fmt.Errorf("resubmit failed: %w", err)
	}

	select {
	case p, ok := <-popups:
		if !ok {
			return nil, fmt.Errorf("no popup within %s", r.opts.PopupTimeout)
		}
		got = p
	case <-waitCtx.Done():
		return nil, fmt.Errorf("no popup within %s", r.opts.PopupTimeout)
	}

	r.logger.Info("Payment popup reopened, letting it settle.", zap.Duration("settle", r.opts.SettleDelay))
	if err := sleep(ctx, r.opts.SettleDelay); err != nil {
		_ = got.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return got, nil
}

func (r *Recovery) recoverSameTab(ctx context.Context, page Page, path []Selection, opts RecoverOptions) (Page, error) {
	if opts.Origin == "" {
		return nil, fmt.Errorf("no origin url to return to")
	}
	if err := r.navigate(ctx, page, opts.Origin); err != nil {
		return nil, err
	}
	if _, err := AwaitStable(ctx, page, r.opts.Stability, r.logger); err != nil {
		return nil, err
	}
	if err := Replay(ctx, page, path); err != nil {
		return nil, err
	}
	if !opts.Recheck {
		return page, nil
	}
	if opts.Resubmit == nil {
		return nil, fmt.Errorf("recheck requested without a resubmit func")
	}

	pre, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read url: %w", err)
	}
	if err := opts.Resubmit(ctx); err != nil {
		return nil, fmt.Errorf("resubmit failed: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.opts.PopupTimeout)
	defer cancel()
	if _, err := page.WaitURLChange(waitCtx, pre); err != nil {
		return nil, fmt.Errorf("page did not navigate after resubmit: %w", err)
	}
	return page, nil
}

func (r *Recovery) navigate(ctx context.Context, page Page, url string) error {
	attempt := 0
	operation := func() error {
		attempt++
		status, err := page.Navigate(ctx, url)
		if err == nil && status >= 200 && status < 400 {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = fmt.Errorf("unexpected status %d", status)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		r.logger.Warn("Failed to reload deposit page.", zap.Int("attempt", attempt), zap.Error(err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.NavigatePause), uint64(r.opts.NavigateRetries-1)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to reload %s after %d attempts: %w", url, attempt, err)
	}
	return nil
}

// ReplayError reports the step of a path that could not be selected again.
type ReplayError struct {
	Step  int
	Role  string
	Label string
	Err   error
}

func (e *ReplayError) Error() string { return e.Err.Error() }

func (e *ReplayError) Unwrap() error { return e.Err }

// Replay clicks every explicit selection of path in order. Each item is
// found again by index and its label checked; if the menu was reordered the
// item is looked up by label instead. A selection that cannot be made is
// returned as a *ReplayError.
func Replay(ctx context.Context, page Page, path []Selection) error {
	for i, sel := range path {
		if sel.Implicit {
			continue
		}
		idx, err := relocate(ctx, page, sel)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ReplayError{Step: i, Role: sel.Role, Label: sel.Label, Err: err}
		}
		if err := page.Click(ctx, sel.Target(idx)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ReplayError{Step: i, Role: sel.Role, Label: sel.Label, Err: fmt.Errorf("failed to click %s %q: %w", sel.Role, sel.Label, err)}
		}
		if err := sleep(ctx, sel.Settle); err != nil {
			return err
		}
	}
	return nil
}

func relocate(ctx context.Context, page Page, sel Selection) (int, error) {
	found, err := WaitPresent(ctx, page, sel.Items.At(sel.Index), sel.Wait)
	if err != nil {
		return 0, err
	}
	if found {
		label, err := sel.Reader.Read(ctx, page, sel.Items.At(sel.Index))
		if err == nil && label == sel.Label {
			return sel.Index, nil
		}
	}

	n, err := page.Count(ctx, sel.Items)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s items: %w", sel.Role, err)
	}
	for i := 0; i < n; i++ {
		label, err := sel.Reader.Read(ctx, page, sel.Items.At(i))
		if err == nil && label == sel.Label {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%s %q no longer in the menu", sel.Role, sel.Label)
}
