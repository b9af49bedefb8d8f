// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/browser"
	"github.com/xkilldash9x/gatewatch/internal/browser/stealth"
	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/gateway"
	"github.com/xkilldash9x/gatewatch/internal/network"
	"github.com/xkilldash9x/gatewatch/internal/notify"
	"github.com/xkilldash9x/gatewatch/internal/runner"
	"github.com/xkilldash9x/gatewatch/internal/sheet"
	"github.com/xkilldash9x/gatewatch/internal/store"
)

// InitializeNotifier builds the chat notifier. It returns nil when
// notifications are disabled. A dry run logs the messages instead of
// sending them, so it needs no credentials.
func InitializeNotifier(cfg config.NotifyConfig, dryRun bool, logger *zap.Logger) (*notify.Notifier, error) {
	if !cfg.Enabled {
		logger.Info("Notifications disabled.")
		return nil, nil
	}

	var sender notify.Sender
	if dryRun {
		logger.Info("Dry run: messages are logged, not sent.")
		sender = notify.NewLogSender(logger)
	} else {
		if err := cfg.RequireCredentials(); err != nil {
			return nil, err
		}
		netCfg := network.NewDefaultClientConfig()
		netCfg.RequestTimeout = cfg.Timeout
		netCfg.ProxyURL = cfg.ProxyURL
		netCfg.Logger = logger
		client, err := network.NewClient(netCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build telegram client: %w", err)
		}
		tg, err := notify.NewTelegramSender(cfg.Token, client, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telegram sender: %w", err)
		}
		sender = tg
	}
	return notify.NewNotifier(notify.NewDispatcher(sender, cfg, logger), logger), nil
}

// InitializeSheet returns the daily workbook writer, or nil when disabled.
func InitializeSheet(cfg config.SheetConfig, logger *zap.Logger) *sheet.Workbook {
	if !cfg.Enabled {
		logger.Info("Spreadsheet logging disabled.")
		return nil
	}
	return sheet.NewWorkbook(cfg, logger)
}

// InitializeHistory connects the run history store. Without a database URL
// history is disabled and all return values are nil.
func InitializeHistory(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*store.Store, func(), error) {
	if cfg.URL == "" {
		logger.Info("No database configured; run history is not recorded.")
		return nil, nil, nil
	}
	s, cleanup, err := store.Open(ctx, cfg.URL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize history store: %w", err)
	}
	logger.Debug("History store initialized.")
	return s, cleanup, nil
}

// RunnerOptions maps the configuration onto the site runner settings.
func RunnerOptions(cfg *config.Config) runner.Options {
	stability := gateway.DefaultStability
	stability.Quiet = cfg.Network.StableQuiet
	stability.Timeout = cfg.Network.StableTimeout

	return runner.Options{
		MaxAttempts:     cfg.Run.MaxAttempts,
		RetryPause:      cfg.Run.RetryPause,
		ScreenshotDir:   cfg.Run.ScreenshotDir,
		KeepScreenshots: cfg.Run.KeepScreenshots,
		MarkdownDir:     cfg.Report.MarkdownDir,
		Location:        cfg.Run.Location(),
		Walker: gateway.WalkerOptions{
			OptionPause: cfg.Run.OptionPause,
			MaxRechecks: cfg.Recovery.MaxRechecks,
			Stability:   stability,
			Recovery: gateway.RecoveryOptions{
				NavigateRetries: cfg.Recovery.NavigateRetries,
				NavigatePause:   cfg.Recovery.NavigatePause,
				PopupTimeout:    cfg.Recovery.PopupTimeout,
				SettleDelay:     cfg.Recovery.SettleDelay,
				Stability:       stability,
			},
		},
	}
}

// chromeLauncher starts one Chrome process per run attempt.
type chromeLauncher struct {
	browser  config.BrowserConfig
	network  config.NetworkConfig
	timezone string
	logger   *zap.Logger
}

func (l chromeLauncher) Launch(ctx context.Context) (runner.Browser, error) {
	var opts []browser.LaunchOption
	if l.browser.Stealth {
		opts = append(opts, browser.WithPersona(stealth.NewPersona(l.browser, l.timezone)))
	}
	b, err := browser.Launch(ctx, l.browser, l.network, l.logger, opts...)
	if err != nil {
		return nil, err
	}
	return chromeBrowser{b}, nil
}

// chromeBrowser narrows *browser.Browser to the runner's view of it.
type chromeBrowser struct {
	b *browser.Browser
}

func (c chromeBrowser) NewPage(ctx context.Context) (gateway.Page, error) {
	return c.b.NewPage(ctx)
}

func (c chromeBrowser) Close() error { return c.b.Close() }
