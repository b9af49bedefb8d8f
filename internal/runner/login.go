package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/gateway"
)

const (
	gotoAttempts       = 3
	defaultStepTimeout = 10 * time.Second
)

// ErrLogin means a required login step failed.
var ErrLogin = errors.New("login failed")

// Login runs the profile's login steps in order. Values and URLs are
// expanded from the environment so credentials stay out of the profile.
// Optional steps that fail are logged and skipped.
func Login(ctx context.Context, page gateway.Page, steps []config.LoginStep, logger *zap.Logger) error {
	for i, step := range steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("%s#%d", step.Action, i)
		}
		err := runStep(ctx, page, step, logger)
		if err == nil {
			logger.Debug("Login step done.", zap.String("step", name))
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if step.Optional {
			logger.Info("Optional login step skipped.", zap.String("step", name), zap.Error(err))
			continue
		}
		return fmt.Errorf("%w: step %q: %w", ErrLogin, name, err)
	}
	logger.Info("Logged in.", zap.Int("steps", len(steps)))
	return nil
}

func runStep(ctx context.Context, page gateway.Page, step config.LoginStep, logger *zap.Logger) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	loc := gateway.FromSelector(step.Selector)

	switch step.Action {
	case config.StepGoto:
		return gotoURL(ctx, page, os.ExpandEnv(step.URL), timeout, logger)

	case config.StepClick:
		if err := requireVisible(ctx, page, loc, timeout); err != nil {
			return err
		}
		return page.Click(ctx, loc)

	case config.StepFill:
		if err := requireVisible(ctx, page, loc, timeout); err != nil {
			return err
		}
		return page.Fill(ctx, loc, os.ExpandEnv(step.Value))

	case config.StepWait:
		return requireVisible(ctx, page, loc, timeout)

	case config.StepSleep:
		t := time.NewTimer(step.Duration)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}

	default:
		return fmt.Errorf("unknown login action %q", step.Action)
	}
}

func requireVisible(ctx context.Context, page gateway.Page, loc gateway.Locator, timeout time.Duration) error {
	ok, err := gateway.WaitVisible(ctx, page, loc, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s not visible within %s", loc, timeout)
	}
	return nil
}

// gotoURL loads url, retrying error statuses and failed loads.
func gotoURL(ctx context.Context, page gateway.Page, url string, timeout time.Duration, logger *zap.Logger) error {
	attempt := 0
	operation := func() error {
		attempt++
		navCtx, cancel := context.WithTimeout(ctx, timeout)
		status, err := page.Navigate(navCtx, url)
		cancel()
		if err == nil && status < 400 {
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
		logger.Warn("Login page load failed, retrying.", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, gotoAttempts-1), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to load %s after %d attempts: %w", url, attempt, err)
	}
	return nil
}
