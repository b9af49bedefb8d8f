package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/gateway"
	"github.com/xkilldash9x/gatewatch/internal/results"
)

var fixedNow = time.Date(2025, 12, 17, 12, 52, 23, 0, time.UTC)

func testSite() *config.SiteProfile {
	return &config.SiteProfile{
		Name:       "a8m",
		Team:       "A8M",
		URL:        "https://shop.example/en-my",
		DepositURL: "https://shop.example/en-my/deposit",
		Sheet:      "AW8M",
		Login: []config.LoginStep{
			{Name: "open", Action: config.StepGoto, URL: "https://shop.example/en-my", Timeout: time.Second},
		},
	}
}

func goodReport(t *testing.T, opts gateway.WalkerOptions) *results.Report {
	t.Helper()
	require.NoError(t, os.MkdirAll(opts.ScreenshotDir, 0o755))
	shot := filepath.Join(opts.ScreenshotDir, "A8M_Online-Banking_FPX_--.png")
	require.NoError(t, os.WriteFile(shot, []byte("png"), 0o644))

	r := results.NewReport()
	r.Record(results.Record{
		Combination: results.Combination{Option: "Quick Pay", Method: "OnePay", Channel: "-"},
		Result:      results.NewSuccess("qr"),
		Timestamp:   opts.Now(),
	})
	r.Record(results.Record{
		Combination:    results.Combination{Option: "Online Banking", Method: "FPX", Channel: "-"},
		Result:         results.NewFailure("toast"),
		Timestamp:      opts.Now(),
		ScreenshotPath: shot,
	})
	return r
}

type harness struct {
	runner   *Runner
	launcher *launcher
	sinks    *recorder
	dir      string
	walks    atomic.Int32
}

// newHarness builds a runner whose walk fails the first failures times.
func newHarness(t *testing.T, failures int, walkErr error) *harness {
	h := &harness{
		launcher: &launcher{newPage: func() gateway.Page { return newStubPage() }},
		sinks:    &recorder{},
		dir:      t.TempDir(),
	}
	loc := time.FixedZone("ICT", 7*3600)
	h.runner = New(Options{
		MaxAttempts:   3,
		RetryPause:    time.Millisecond,
		ScreenshotDir: filepath.Join(h.dir, "shots"),
		MarkdownDir:   filepath.Join(h.dir, "reports"),
		Location:      loc,
		Walker: gateway.WalkerOptions{
			Stability: gateway.StabilityOptions{Quiet: 5 * time.Millisecond, Timeout: 50 * time.Millisecond, Interval: time.Millisecond},
		},
	}, Deps{
		Launch:   h.launcher.Launch,
		Notifier: h.sinks,
		Sheet:    h.sinks,
		History:  h.sinks,
	}, zaptest.NewLogger(t))
	h.runner.now = func() time.Time { return fixedNow }
	h.runner.newID = func() string { return "run-1" }
	h.runner.walk = func(ctx context.Context, site *config.SiteProfile, page gateway.Page, opts gateway.WalkerOptions, logger *zap.Logger) (*results.Report, error) {
		n := h.walks.Add(1)
		assert.Equal(t, loc, opts.Location)
		assert.Equal(t, filepath.Join(h.dir, "shots", "a8m", "run-1"), opts.ScreenshotDir)
		if int(n) <= failures {
			return results.NewReport(), walkErr
		}
		return goodReport(t, opts), nil
	}
	return h
}

func TestRunnerRun(t *testing.T) {
	t.Run("complete on first attempt", func(t *testing.T) {
		h := newHarness(t, 0, nil)
		out, err := h.runner.Run(context.Background(), testSite())
		require.NoError(t, err)

		assert.True(t, out.Complete)
		assert.Equal(t, 1, out.Attempts)
		assert.Equal(t, "run-1", out.RunID)
		assert.Len(t, out.Summary.Succeeded, 1)
		assert.Len(t, out.Summary.Failed, 1)
		assert.Equal(t, "ICT", out.Finished.Location().String())

		assert.Len(t, h.launcher.browsers, 1)
		assert.True(t, h.launcher.allClosed())
		page := h.launcher.browsers[0].page.(*stubPage)
		assert.Equal(t, []string{"https://shop.example/en-my", "https://shop.example/en-my/deposit"}, page.navigated)

		require.Len(t, h.sinks.publish, 1)
		assert.Equal(t, "a8m", h.sinks.publish[0].Site)
		assert.Equal(t, []string{"AW8M"}, h.sinks.sheets)
		require.Len(t, h.sinks.history, 1)
		assert.True(t, h.sinks.history[0].Complete)
		assert.Empty(t, h.sinks.alerts)

		assert.NoDirExists(t, filepath.Join(h.dir, "shots", "a8m", "run-1"), "screenshots are cleared after publishing")
		report := filepath.Join(h.dir, "reports", "a8m_20251217-195223.md")
		require.FileExists(t, report)
		body, err := os.ReadFile(report)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(body), "a8m"))
	})

	t.Run("retries with a fresh browser", func(t *testing.T) {
		h := newHarness(t, 2, gateway.ErrMenuNotFound)
		out, err := h.runner.Run(context.Background(), testSite())
		require.NoError(t, err)

		assert.True(t, out.Complete)
		assert.Equal(t, 3, out.Attempts)
		assert.Len(t, h.launcher.browsers, 3)
		assert.True(t, h.launcher.allClosed())
		assert.Len(t, h.sinks.publish, 1)
	})

	t.Run("all attempts fail", func(t *testing.T) {
		h := newHarness(t, 3, gateway.ErrRecoveryFailed)
		out, err := h.runner.Run(context.Background(), testSite())

		assert.ErrorIs(t, err, ErrRunIncomplete)
		assert.ErrorIs(t, err, gateway.ErrRecoveryFailed)
		assert.False(t, out.Complete)
		assert.Equal(t, 3, out.Attempts)
		assert.Equal(t, []int{3}, h.sinks.alerts)
		assert.Empty(t, h.sinks.publish)
		assert.Empty(t, h.sinks.sheets)
		require.Len(t, h.sinks.history, 1)
		assert.False(t, h.sinks.history[0].Complete)
	})

	t.Run("login failure is retried", func(t *testing.T) {
		h := newHarness(t, 0, nil)
		h.launcher.newPage = func() gateway.Page {
			p := newStubPage()
			p.statuses = []int{500, 500, 500}
			return p
		}
		_, err := h.runner.Run(context.Background(), testSite())
		assert.ErrorIs(t, err, ErrRunIncomplete)
		assert.ErrorIs(t, err, ErrLogin)
		assert.Zero(t, h.walks.Load())
		assert.Len(t, h.launcher.browsers, 3)
	})

	t.Run("launch failure", func(t *testing.T) {
		h := newHarness(t, 0, nil)
		h.launcher.err = errors.New("chrome not found")
		_, err := h.runner.Run(context.Background(), testSite())
		assert.ErrorIs(t, err, ErrRunIncomplete)
		assert.ErrorContains(t, err, "chrome not found")
	})

	t.Run("cancellation stops without alert", func(t *testing.T) {
		h := newHarness(t, 0, nil)
		ctx, cancel := context.WithCancel(context.Background())
		h.runner.walk = func(ctx context.Context, _ *config.SiteProfile, _ gateway.Page, _ gateway.WalkerOptions, _ *zap.Logger) (*results.Report, error) {
			cancel()
			return results.NewReport(), ctx.Err()
		}
		_, err := h.runner.Run(ctx, testSite())
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrRunIncomplete)
		assert.Empty(t, h.sinks.alerts)
		assert.True(t, h.launcher.allClosed())
	})

	t.Run("sink failures do not fail the run", func(t *testing.T) {
		h := newHarness(t, 0, nil)
		h.sinks.failSink = true
		out, err := h.runner.Run(context.Background(), testSite())
		require.NoError(t, err)
		assert.True(t, out.Complete)
		assert.Len(t, h.sinks.history, 1)
	})

	t.Run("screenshots kept on request", func(t *testing.T) {
		h := newHarness(t, 0, nil)
		h.runner.opts.KeepScreenshots = true
		_, err := h.runner.Run(context.Background(), testSite())
		require.NoError(t, err)
		assert.DirExists(t, filepath.Join(h.dir, "shots", "a8m", "run-1"))
	})
}
