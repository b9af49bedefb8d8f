package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/gateway"
	"github.com/xkilldash9x/gatewatch/internal/results"
	"github.com/xkilldash9x/gatewatch/internal/store"
)

// ErrRunIncomplete means every attempt of a site run failed.
var ErrRunIncomplete = errors.New("site run incomplete")

// Browser is a launched browser owned by one run attempt.
type Browser interface {
	NewPage(ctx context.Context) (gateway.Page, error)
	Close() error
}

// LaunchFunc starts a fresh browser.
type LaunchFunc func(ctx context.Context) (Browser, error)

// Notifier sends a run's messages.
type Notifier interface {
	Publish(ctx context.Context, site *config.SiteProfile, sum results.Summary, at time.Time) error
	Alert(ctx context.Context, site *config.SiteProfile, attempts int) error
}

// SheetWriter appends a run to the daily spreadsheet.
type SheetWriter interface {
	Append(ctx context.Context, sheet string, at time.Time, sum results.Summary) error
}

// HistoryWriter stores a run.
type HistoryWriter interface {
	SaveRun(ctx context.Context, run store.RunMeta, sum results.Summary) error
}

// Options are the run wide settings.
type Options struct {
	MaxAttempts     int
	RetryPause      time.Duration
	ScreenshotDir   string
	KeepScreenshots bool
	MarkdownDir     string
	Location        *time.Location
	Walker          gateway.WalkerOptions
}

// Deps are the collaborators of a runner. Nil publishers are skipped.
type Deps struct {
	Launch   LaunchFunc
	Notifier Notifier
	Sheet    SheetWriter
	History  HistoryWriter
}

// Outcome is what a site run produced.
type Outcome struct {
	RunID    string
	Site     string
	Attempts int
	Complete bool
	Started  time.Time
	Finished time.Time
	Summary  results.Summary
}

// Runner executes complete site runs: launch, login, walk, publish.
type Runner struct {
	opts   Options
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
	walk   walkFunc
}

type walkFunc func(ctx context.Context, site *config.SiteProfile, page gateway.Page, opts gateway.WalkerOptions, logger *zap.Logger) (*results.Report, error)

func walkSite(ctx context.Context, site *config.SiteProfile, page gateway.Page, opts gateway.WalkerOptions, logger *zap.Logger) (*results.Report, error) {
	walker, err := gateway.NewWalker(site, opts, logger)
	if err != nil {
		return nil, err
	}
	return walker.Walk(ctx, page)
}

func New(opts Options, deps Deps, logger *zap.Logger) *Runner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Runner{
		opts:   opts,
		deps:   deps,
		logger: logger.Named("runner"),
		now:    time.Now,
		newID:  uuid.NewString,
		walk:   walkSite,
	}
}

func (r *Runner) stamp() time.Time { return r.now().In(r.opts.Location) }

// Run executes one site, retrying the whole flow with a fresh browser up
// to MaxAttempts times. When every attempt fails it sends the incomplete
// run alert and returns ErrRunIncomplete.
func (r *Runner) Run(ctx context.Context, site *config.SiteProfile) (Outcome, error) {
	out := Outcome{RunID: r.newID(), Site: site.Name, Started: r.stamp()}
	logger := r.logger.With(zap.String("site", site.Name), zap.String("run_id", out.RunID))
	shots := filepath.Join(r.opts.ScreenshotDir, site.Name, out.RunID)

	var report *results.Report
	operation := func() error {
		out.Attempts++
		rep, err := r.attempt(ctx, site, shots, logger.With(zap.Int("attempt", out.Attempts)))
		if err == nil {
			report = rep
			return nil
		}
		r.clearScreenshots(shots, logger)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		logger.Warn("Site run attempt failed.", zap.Int("attempt", out.Attempts), zap.Error(err))
		return err
	}
	notify := func(error, time.Duration) {
		logger.Info("Retrying site run from the beginning.", zap.Int("attempt", out.Attempts+1), zap.Int("of", r.opts.MaxAttempts))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.opts.RetryPause), uint64(r.opts.MaxAttempts-1)), ctx)
	lastErr := backoff.RetryNotify(operation, b, notify)
	if lastErr == nil {
		out.Complete = true
		out.Summary = report.Summarize()
		out = r.finish(out)
		logger.Info("Site run complete.",
			zap.Int("succeeded", len(out.Summary.Succeeded)),
			zap.Int("failed", len(out.Summary.Failed)),
			zap.Int("unknown", len(out.Summary.Unknown)),
			zap.Int("not_reached", len(out.Summary.NotReached)),
		)
		r.publish(ctx, site, out, logger)
		r.clearScreenshots(shots, logger)
		return out, nil
	}
	if ctx.Err() != nil {
		return r.finish(out), ctx.Err()
	}

	out = r.finish(out)
	logger.Error("Reached max attempts, giving up on site.", zap.Int("attempts", out.Attempts), zap.Error(lastErr))
	if r.deps.Notifier != nil {
		_ = r.deps.Notifier.Alert(ctx, site, out.Attempts)
	}
	r.saveHistory(ctx, site, out, logger)
	return out, fmt.Errorf("%w: %s after %d attempts: %w", ErrRunIncomplete, site.Name, out.Attempts, lastErr)
}

func (r *Runner) finish(out Outcome) Outcome {
	out.Finished = r.stamp()
	return out
}

// attempt runs the flow once on a fresh browser.
func (r *Runner) attempt(ctx context.Context, site *config.SiteProfile, shots string, logger *zap.Logger) (*results.Report, error) {
	b, err := r.deps.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Debug("Browser close reported an error.", zap.Error(err))
		}
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if err := Login(ctx, page, site.Login, logger); err != nil {
		return nil, err
	}

	if site.DepositURL != "" {
		if err := gotoURL(ctx, page, site.DepositURL, defaultDepositTimeout, logger); err != nil {
			return nil, fmt.Errorf("failed to open deposit page: %w", err)
		}
	}
	if _, err := gateway.AwaitStable(ctx, page, r.opts.Walker.Stability, logger); err != nil {
		return nil, err
	}

	wopts := r.opts.Walker
	wopts.ScreenshotDir = shots
	wopts.Location = r.opts.Location
	if wopts.Now == nil {
		wopts.Now = r.now
	}
	return r.walk(ctx, site, page, wopts, logger)
}

const defaultDepositTimeout = 60 * time.Second

func (r *Runner) clearScreenshots(dir string, logger *zap.Logger) {
	if r.opts.KeepScreenshots {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("Failed to clear screenshots.", zap.String("dir", dir), zap.Error(err))
	}
}
