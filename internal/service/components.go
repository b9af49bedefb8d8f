// File: internal/service/components.go
package service

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/orchestrator"
	"github.com/xkilldash9x/gatewatch/internal/runner"
	"github.com/xkilldash9x/gatewatch/internal/store"
)

// Components holds everything a run command needs and owns the lifecycle
// of the resources behind it.
type Components struct {
	Runner       *runner.Runner
	Orchestrator *orchestrator.Orchestrator

	// History is nil when no database is configured.
	History *store.Store

	cleanups []func()
}

func (c *Components) onShutdown(f func()) {
	if f != nil {
		c.cleanups = append(c.cleanups, f)
	}
}

// Shutdown releases resources in reverse order of creation. It is safe to
// call on partially built components.
func (c *Components) Shutdown(logger *zap.Logger) {
	logger.Debug("Beginning components shutdown sequence.")
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
	c.cleanups = nil
	logger.Debug("All components shut down.")
}
