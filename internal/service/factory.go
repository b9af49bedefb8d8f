// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/orchestrator"
	"github.com/xkilldash9x/gatewatch/internal/runner"
)

// Options are per invocation switches that are not part of the config file.
type Options struct {
	// DryRun logs chat messages instead of sending them.
	DryRun bool
}

// ComponentFactory creates the components for a run. Commands depend on
// the interface so tests can substitute fakes.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the browser launcher, publishers, runner and orchestrator.
// Partially created components are shut down if a later step fails.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown(logger)
		}
	}()

	deps := runner.Deps{
		Launch: chromeLauncher{browser: cfg.Browser, network: cfg.Network, timezone: cfg.Run.Timezone, logger: logger}.Launch,
	}

	// 1. Notifications
	notifier, err := InitializeNotifier(cfg.Notify, opts.DryRun, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	if notifier != nil {
		deps.Notifier = notifier
	}

	// 2. Spreadsheet
	if wb := InitializeSheet(cfg.Sheet, logger); wb != nil {
		deps.Sheet = wb
	}

	// 3. History
	history, cleanup, err := InitializeHistory(ctx, cfg.Database, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.onShutdown(cleanup)
	if history != nil {
		components.History = history
		deps.History = history
	}

	// 4. Runner and orchestrator
	components.Runner = runner.New(RunnerOptions(cfg), deps, logger)
	orch, err := orchestrator.New(components.Runner, cfg.Run.Concurrency, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
		return nil, initializationErr
	}
	components.Orchestrator = orch

	logger.Info("All run components initialized.",
		zap.Bool("notify", deps.Notifier != nil),
		zap.Bool("sheet", deps.Sheet != nil),
		zap.Bool("history", deps.History != nil),
		zap.Bool("dry_run", opts.DryRun),
	)
	return components, nil
}
