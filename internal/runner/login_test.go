package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/gatewatch/internal/config"
)

func sel(css string) config.Selector { return config.Selector{CSS: css} }

func TestLogin(t *testing.T) {
	t.Setenv("A8M_USER", "tester")
	t.Setenv("A8M_PASS", "s3cret")

	steps := []config.LoginStep{
		{Name: "open", Action: config.StepGoto, URL: "https://shop.example/en-my", Timeout: time.Second},
		{Name: "close ad", Action: config.StepClick, Selector: sel("button.ad-close"), Timeout: 20 * time.Millisecond, Optional: true},
		{Name: "show form", Action: config.StepClick, Selector: sel("a.login"), Timeout: 20 * time.Millisecond},
		{Name: "user", Action: config.StepFill, Selector: sel("input#user"), Value: "${A8M_USER}", Timeout: 20 * time.Millisecond},
		{Name: "pass", Action: config.StepFill, Selector: sel("input#pass"), Value: "$A8M_PASS", Timeout: 20 * time.Millisecond},
		{Name: "submit", Action: config.StepClick, Selector: sel("button.submit"), Timeout: 20 * time.Millisecond},
		{Name: "pause", Action: config.StepSleep, Duration: time.Millisecond},
		{Name: "logged in", Action: config.StepWait, Selector: sel("div.balance"), Timeout: 20 * time.Millisecond},
	}

	t.Run("runs every step", func(t *testing.T) {
		page := newStubPage("a.login", "input#user", "input#pass", "button.submit", "div.balance")
		require.NoError(t, Login(context.Background(), page, steps, zaptest.NewLogger(t)))

		assert.Equal(t, []string{"https://shop.example/en-my"}, page.navigated)
		assert.Equal(t, []string{"a.login", "button.submit"}, page.clicks, "the missing optional ad is skipped")
		assert.Equal(t, map[string]string{"input#user": "tester", "input#pass": "s3cret"}, page.fills)
	})

	t.Run("required element missing", func(t *testing.T) {
		page := newStubPage("a.login", "input#user", "input#pass", "button.submit")
		err := Login(context.Background(), page, steps, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, ErrLogin)
		assert.ErrorContains(t, err, `step "logged in"`)
		assert.ErrorContains(t, err, "not visible")
	})

	t.Run("goto retries error statuses", func(t *testing.T) {
		page := newStubPage()
		page.statuses = []int{502, 503, 200}
		require.NoError(t, Login(context.Background(), page, steps[:1], zaptest.NewLogger(t)))
		assert.Len(t, page.navigated, 3)
	})

	t.Run("goto gives up", func(t *testing.T) {
		page := newStubPage()
		page.navErr = errors.New("net::ERR_CONNECTION_RESET")
		err := Login(context.Background(), page, steps[:1], zaptest.NewLogger(t))
		assert.ErrorIs(t, err, ErrLogin)
		assert.ErrorContains(t, err, "after 3 attempts")
		assert.Len(t, page.navigated, gotoAttempts)
	})

	t.Run("unknown action", func(t *testing.T) {
		err := Login(context.Background(), newStubPage(), []config.LoginStep{{Action: "hover"}}, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, ErrLogin)
		assert.ErrorContains(t, err, `step "hover#0"`)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Login(ctx, newStubPage(), []config.LoginStep{{Action: config.StepSleep, Duration: time.Hour}}, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrLogin)
	})
}
