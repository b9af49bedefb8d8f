// internal/notify/notifier.go
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/results"
)

// Notifier turns a site's run outcome into chat messages.
type Notifier struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewNotifier(d *Dispatcher, logger *zap.Logger) *Notifier {
	return &Notifier{dispatcher: d, logger: logger.Named("notifier")}
}

// Publish sends one photo per failed or unknown record, then the summary.
// A record without a screenshot on disk is sent as text. Individual send
// failures are logged and returned together; the remaining messages are
// still attempted.
func (n *Notifier) Publish(ctx context.Context, site *config.SiteProfile, sum results.Summary, at time.Time) error {
	logger := n.logger.With(zap.String("site", site.Name))
	var errs []error

	for _, rec := range sum.Problems() {
		caption := Caption(site, rec)
		var err error
		if rec.ScreenshotPath != "" && fileExists(rec.ScreenshotPath) {
			err = n.dispatcher.Photo(ctx, rec.ScreenshotPath, caption, ModeMarkdownV2)
		} else {
			logger.Warn("Screenshot missing, sending caption only.", zap.String("combination", rec.Combination.Key()))
			err = n.dispatcher.Text(ctx, caption, ModeMarkdownV2)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("Failed to send record.", zap.String("combination", rec.Combination.Key()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", rec.Combination.Key(), err))
			continue
		}
		logger.Info("Record sent.", zap.String("combination", rec.Combination.Key()), zap.Stringer("verdict", rec.Result.Verdict))
	}

	if err := n.dispatcher.Text(ctx, Summary(site, sum, at), ModeMarkdownV2); err != nil {
		logger.Error("Failed to send summary.", zap.Error(err))
		errs = append(errs, fmt.Errorf("summary: %w", err))
	} else {
		logger.Info("Summary sent.", zap.Int("succeeded", len(sum.Succeeded)), zap.Int("failed", len(sum.Failed)), zap.Int("unknown", len(sum.Unknown)))
	}
	return errors.Join(errs...)
}

// Alert reports a site run that could not complete.
func (n *Notifier) Alert(ctx context.Context, site *config.SiteProfile, attempts int) error {
	team := site.Team
	if team == "" {
		team = site.Name
	}
	if err := n.dispatcher.Text(ctx, IncompleteAlert(team, attempts), ModeMarkdown); err != nil {
		n.logger.Error("Failed to send incomplete run alert.", zap.String("site", site.Name), zap.Error(err))
		return err
	}
	n.logger.Info("Incomplete run alert sent.", zap.String("site", site.Name))
	return nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
