package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

const depositURL = "https://site.example/deposit"

func TestResolve(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := NewResolver(zaptest.NewLogger(t))

	t.Run("popup opens", func(t *testing.T) {
		page := newFakePage(depositURL, nil)
		popup := newFakePage("https://gw.example/qr", nil)

		out, err := r.Resolve(context.Background(), page, func(context.Context) error {
			page.openPopup(popup)
			return nil
		}, time.Second)
		require.NoError(t, err)

		assert.Equal(t, NewTab, out.Kind)
		assert.Equal(t, "https://gw.example/qr", out.URL)
		assert.Same(t, popup, out.Popup)
		assert.False(t, popup.isClosed(), "winning popup belongs to the caller")
		assert.Zero(t, page.waiterCount())
	})

	t.Run("same tab navigation", func(t *testing.T) {
		page := newFakePage(depositURL, nil)
		out, err := r.Resolve(context.Background(), page, func(context.Context) error {
			go func() {
				time.Sleep(10 * time.Millisecond)
				page.setURL("https://gw.example/checkout")
			}()
			return nil
		}, time.Second)
		require.NoError(t, err)

		assert.Equal(t, SameTabNavigation, out.Kind)
		assert.Equal(t, "https://gw.example/checkout", out.URL)
		assert.Nil(t, out.Popup)
		assert.Zero(t, page.waiterCount())
	})

	t.Run("popup wins when both are ready", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			page := newFakePage(depositURL, nil)
			popup := newFakePage("https://gw.example/qr", nil)
			out, err := r.Resolve(context.Background(), page, func(context.Context) error {
				page.setURL("https://site.example/deposit#pending")
				page.openPopup(popup)
				return nil
			}, time.Second)
			require.NoError(t, err)
			require.Equal(t, NewTab, out.Kind)
			require.Same(t, popup, out.Popup)
		}
	})

	t.Run("nothing happens", func(t *testing.T) {
		page := newFakePage(depositURL, nil)
		start := time.Now()
		out, err := r.Resolve(context.Background(), page, func(context.Context) error { return nil }, 30*time.Millisecond)
		require.NoError(t, err)

		assert.Equal(t, NoChange, out.Kind)
		assert.Equal(t, depositURL, out.URL)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
		assert.Zero(t, page.waiterCount())
	})

	t.Run("submit error", func(t *testing.T) {
		page := newFakePage(depositURL, nil)
		boom := errors.New("button detached")
		_, err := r.Resolve(context.Background(), page, func(context.Context) error { return boom }, time.Second)
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "submit failed")
		assert.Zero(t, page.waiterCount())
	})

	t.Run("caller cancellation", func(t *testing.T) {
		page := newFakePage(depositURL, nil)
		ctx, cancel := context.WithCancel(context.Background())
		_, err := r.Resolve(ctx, page, func(context.Context) error {
			cancel()
			return nil
		}, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, page.waiterCount())
	})
}

func TestResolveWithRetry(t *testing.T) {
	defer goleak.VerifyNone(t)
	r := NewResolver(zaptest.NewLogger(t))
	policy := RetryPolicy{Timeouts: []time.Duration{30 * time.Millisecond, 30 * time.Millisecond}, Pause: 5 * time.Millisecond}

	t.Run("second submit navigates", func(t *testing.T) {
		page := newFakePage(depositURL, nil)
		submits := 0
		out, err := r.ResolveWithRetry(context.Background(), page, func(context.Context) error {
			submits++
			if submits == 2 {
				page.setURL("https://gw.example/checkout")
			}
			return nil
		}, policy)
		require.NoError(t, err)
		assert.Equal(t, SameTabNavigation, out.Kind)
		assert.Equal(t, 2, submits)
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		page := newFakePage(depositURL, nil)
		submits := 0
		out, err := r.ResolveWithRetry(context.Background(), page, func(context.Context) error {
			submits++
			return nil
		}, policy)
		require.NoError(t, err)
		assert.Equal(t, NoChange, out.Kind)
		assert.Equal(t, 2, submits)
	})

	t.Run("first success stops retrying", func(t *testing.T) {
		page := newFakePage(depositURL, nil)
		popup := newFakePage("https://gw.example/qr", nil)
		submits := 0
		out, err := r.ResolveWithRetry(context.Background(), page, func(context.Context) error {
			submits++
			page.openPopup(popup)
			return nil
		}, policy)
		require.NoError(t, err)
		assert.Equal(t, NewTab, out.Kind)
		assert.Equal(t, 1, submits)
	})

	t.Run("cancelled during the pause", func(t *testing.T) {
		page := newFakePage(depositURL, nil)
		submits := 0
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
		defer cancel()
		_, err := r.ResolveWithRetry(ctx, page, func(context.Context) error {
			submits++
			return nil
		}, RetryPolicy{Timeouts: []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}, Pause: time.Hour})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, submits)
	})
}

func TestNavKindString(t *testing.T) {
	assert.Equal(t, "no_change", NoChange.String())
	assert.Equal(t, "same_tab", SameTabNavigation.String())
	assert.Equal(t, "new_tab", NewTab.String())
}
