package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/results"
	"github.com/xkilldash9x/gatewatch/internal/store"
)

// publish hands a completed run to every configured sink. A failing sink
// is logged and does not stop the others.
func (r *Runner) publish(ctx context.Context, site *config.SiteProfile, out Outcome, logger *zap.Logger) {
	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.Publish(ctx, site, out.Summary, out.Finished); err != nil {
			logger.Error("Failed to publish messages.", zap.Error(err))
		}
	}
	if r.deps.Sheet != nil {
		if err := r.deps.Sheet.Append(ctx, site.Sheet, out.Finished, out.Summary); err != nil {
			logger.Error("Failed to append spreadsheet row.", zap.Error(err))
		}
	}
	r.saveHistory(ctx, site, out, logger)
	if r.opts.MarkdownDir != "" {
		path, err := r.writeMarkdown(site, out)
		if err != nil {
			logger.Error("Failed to write markdown report.", zap.Error(err))
		} else {
			logger.Info("Markdown report written.", zap.String("path", path))
		}
	}
}

func (r *Runner) saveHistory(ctx context.Context, site *config.SiteProfile, out Outcome, logger *zap.Logger) {
	if r.deps.History == nil {
		return
	}
	meta := store.RunMeta{
		ID:         out.RunID,
		Site:       site.Name,
		Team:       site.Team,
		StartedAt:  out.Started,
		FinishedAt: out.Finished,
		Attempts:   out.Attempts,
		Complete:   out.Complete,
	}
	if err := r.deps.History.SaveRun(ctx, meta, out.Summary); err != nil {
		logger.Error("Failed to save run history.", zap.Error(err))
	}
}

func (r *Runner) writeMarkdown(site *config.SiteProfile, out Outcome) (string, error) {
	if err := os.MkdirAll(r.opts.MarkdownDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(r.opts.MarkdownDir, fmt.Sprintf("%s_%s.md", site.Name, out.Finished.Format("20060102-150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	info := results.RunInfo{
		Site:     site.Name,
		Team:     site.Team,
		URL:      site.URL,
		RunID:    out.RunID,
		Started:  out.Started,
		Finished: out.Finished,
		Attempt:  out.Attempts,
	}
	if err := results.WriteMarkdown(f, info, out.Summary); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return path, nil
}
