package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatewatch/internal/store"
)

type fakeHistory struct {
	rows  []store.HistoryRow
	err   error
	site  string
	limit int
}

func (f *fakeHistory) RecentResults(_ context.Context, site string, limit int) ([]store.HistoryRow, error) {
	f.site, f.limit = site, limit
	return f.rows, f.err
}

func withHistory(t *testing.T, h *fakeHistory, openErr error) *bool {
	t.Helper()
	closed := new(bool)
	orig := openHistory
	t.Cleanup(func() { openHistory = orig })
	openHistory = func(context.Context, string, *zap.Logger) (historyReader, func(), error) {
		if openErr != nil {
			return nil, nil, openErr
		}
		return h, func() { *closed = true }, nil
	}
	return closed
}

func TestHistoryCmd(t *testing.T) {
	t.Run("prints rows in the run timezone", func(t *testing.T) {
		env := newTestEnv(t, "run:\n  timezone: UTC\n", "a8m")
		h := &fakeHistory{rows: []store.HistoryRow{
			{Site: "a8m", Option: "Online-Banking", Method: "FPX", Channel: "-", Verdict: "failed", Reason: "toast",
				ObservedAt: time.Date(2025, 12, 17, 5, 52, 23, 0, time.UTC)},
			{Site: "a8m", Option: "Quick-Pay", Method: "OnePay", Channel: "-", Bank: "Maybank", Verdict: "success",
				ObservedAt: time.Date(2025, 12, 17, 5, 50, 0, 0, time.UTC)},
		}}
		closed := withHistory(t, h, nil)

		out, err := env.execute(t, &fakeFactory{}, "history", "--site", "a8m", "--limit", "10")
		require.NoError(t, err)
		assert.Equal(t, "a8m", h.site)
		assert.Equal(t, 10, h.limit)
		assert.True(t, *closed)
		for _, want := range []string{"2025-12-17 05:52:23", "Online-Banking", "toast", "Maybank", "success"} {
			assert.Contains(t, out, want)
		}
	})

	t.Run("no rows", func(t *testing.T) {
		env := newTestEnv(t, "", "a8m")
		withHistory(t, &fakeHistory{}, nil)
		out, err := env.execute(t, &fakeFactory{}, "history", "--site", "a8m")
		require.NoError(t, err)
		assert.Contains(t, out, "No results recorded for a8m")
	})

	t.Run("site is required", func(t *testing.T) {
		env := newTestEnv(t, "", "a8m")
		withHistory(t, &fakeHistory{}, nil)
		_, err := env.execute(t, &fakeFactory{}, "history")
		assert.ErrorContains(t, err, `required flag(s) "site" not set`)
	})

	t.Run("database unavailable", func(t *testing.T) {
		env := newTestEnv(t, "", "a8m")
		boom := errors.New("database URL is not configured")
		withHistory(t, nil, boom)
		_, err := env.execute(t, &fakeFactory{}, "history", "--site", "a8m")
		assert.ErrorIs(t, err, boom)
	})
}
