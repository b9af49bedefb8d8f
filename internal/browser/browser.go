// internal/browser/browser.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/browser/stealth"
	"github.com/xkilldash9x/gatewatch/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Browser is one Chrome process. Every site run launches its own.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	pageOpts PageOptions
	persona  *stealth.Persona
	logger   *zap.Logger
}

// LaunchOption customizes Launch.
type LaunchOption func(*Browser)

// WithPersona applies p to every tab opened with NewPage.
func WithPersona(p stealth.Persona) LaunchOption {
	return func(b *Browser) { b.persona = &p }
}

// DefaultAllocatorOptions translates the browser config into chromedp
// allocator options.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		// Hardened hosts refuse the sandbox.
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", true),
	)

	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts,
			chromedp.IgnoreCertErrors,
			chromedp.Flag("allow-insecure-localhost", true),
		)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(arg, "--")
		if key, value, ok := strings.Cut(arg, "="); ok {
			opts = append(opts, chromedp.Flag(key, value))
			continue
		}
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// Launch starts Chrome. The browser lives until Close or until ctx ends.
func Launch(ctx context.Context, cfg config.BrowserConfig, netCfg config.NetworkConfig, logger *zap.Logger, opts ...LaunchOption) (*Browser, error) {
	logger = logger.Named("browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg)...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("chromedp error.", zap.String("detail", fmt.Sprintf(format, args...)))
		}),
	)

	// An empty Run starts the process and its first tab.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	logger.Info("Browser launched.", zap.Bool("headless", cfg.Headless))
	b := &Browser{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      cancel,
		pageOpts: PageOptions{
			ActionTimeout:     netCfg.ActionTimeout,
			NavigationTimeout: netCfg.NavigationTimeout,
			ScreenshotTimeout: netCfg.ScreenshotTimeout,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewPage opens a new tab.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	runCtx, runCancel := CombineContext(tabCtx, ctx)
	defer runCancel()

	tasks := chromedp.Tasks{network.Enable()}
	if b.persona != nil {
		tasks = append(tasks, stealth.Apply(*b.persona, b.logger))
	}
	if err := chromedp.Run(runCtx, tasks); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return newPage(tabCtx, cancel, b.pageOpts, b.logger), nil
}

// Close shuts the browser down, waiting briefly for a graceful exit.
func (b *Browser) Close() error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(b.ctx) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(shutdownGracePeriod):
		err = fmt.Errorf("browser did not exit within %s", shutdownGracePeriod)
	}
	b.cancel()
	b.allocCancel()

	if err != nil {
		b.logger.Warn("Browser shutdown was not clean.", zap.Error(err))
		return err
	}
	b.logger.Info("Browser closed.")
	return nil
}
