// File: internal/orchestrator/orchestrator.go
// Description: Runs a batch of site checks. The per site flow is injected
// through SiteRunner, keeping the batch logic decoupled and testable.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/runner"
)

// ErrUnknownSite is returned by Select for a name with no profile.
var ErrUnknownSite = errors.New("unknown site")

// SiteRunner executes one complete site run.
type SiteRunner interface {
	Run(ctx context.Context, site *config.SiteProfile) (runner.Outcome, error)
}

// Orchestrator runs sites with bounded concurrency. A failing site never
// stops the others.
type Orchestrator struct {
	runner      SiteRunner
	concurrency int
	logger      *zap.Logger
}

// New creates an Orchestrator. Concurrency below one is treated as one.
func New(r SiteRunner, concurrency int, logger *zap.Logger) (*Orchestrator, error) {
	if r == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{runner: r, concurrency: concurrency, logger: logger.Named("orchestrator")}, nil
}

// Batch is the result of a batch run, in the order the sites were given.
type Batch struct {
	Outcomes []runner.Outcome
	Errors   []error
}

// Failed counts the sites whose run returned an error.
func (b Batch) Failed() int {
	n := 0
	for _, err := range b.Errors {
		if err != nil {
			n++
		}
	}
	return n
}

// Err joins every site error, or returns nil when all sites completed.
func (b Batch) Err() error {
	return errors.Join(b.Errors...)
}

// Run executes every site and waits for all of them. The returned error is
// the joined per site errors.
func (o *Orchestrator) Run(ctx context.Context, sites []*config.SiteProfile) (Batch, error) {
	batch := Batch{
		Outcomes: make([]runner.Outcome, len(sites)),
		Errors:   make([]error, len(sites)),
	}
	o.logger.Info("Starting batch.", zap.Int("sites", len(sites)), zap.Int("concurrency", o.concurrency))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, site := range sites {
		i, site := i, site
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				batch.Outcomes[i] = runner.Outcome{Site: site.Name}
				batch.Errors[i] = err
				return nil
			}
			out, err := o.runner.Run(ctx, site)
			batch.Outcomes[i] = out
			if err != nil {
				batch.Errors[i] = fmt.Errorf("site %s: %w", site.Name, err)
				o.logger.Error("Site run failed.", zap.String("site", site.Name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("Batch finished.", zap.Int("sites", len(sites)), zap.Int("failed", batch.Failed()))
	return batch, batch.Err()
}

// Select picks profiles by name, case insensitively. With all set every
// profile is returned in load order.
func Select(profiles []*config.SiteProfile, names []string, all bool) ([]*config.SiteProfile, error) {
	if all {
		return profiles, nil
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no sites given; name at least one site or pass --all")
	}
	byName := make(map[string]*config.SiteProfile, len(profiles))
	for _, p := range profiles {
		byName[strings.ToLower(p.Name)] = p
	}
	out := make([]*config.SiteProfile, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		key := strings.ToLower(n)
		p, ok := byName[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSite, n)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out, nil
}
