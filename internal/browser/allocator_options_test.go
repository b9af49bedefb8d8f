package browser

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/gatewatch/internal/browser/stealth"
	"github.com/xkilldash9x/gatewatch/internal/config"
)

func TestDefaultAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions) + 3

	t.Run("headless defaults", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{Headless: true})
		assert.Len(t, opts, base)
	})

	t.Run("headed", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{Headless: false})
		assert.Len(t, opts, base+1)
	})

	t.Run("tls and gpu", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{Headless: true, DisableGPU: true, IgnoreTLSErrors: true})
		assert.Len(t, opts, base+3)
	})

	t.Run("viewport needs both sides", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{Headless: true, Viewport: map[string]int{"width": 1280}})
		assert.Len(t, opts, base)

		opts = DefaultAllocatorOptions(config.BrowserConfig{Headless: true, Viewport: map[string]int{"width": 1280, "height": 720}})
		assert.Len(t, opts, base+1)
	})

	t.Run("extra args", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{
			Headless: true,
			ExecPath: "/usr/bin/chromium",
			Args:     []string{"--lang=en-US", "mute-audio"},
		})
		assert.Len(t, opts, base+3)
	})

	t.Run("does not alias the chromedp defaults", func(t *testing.T) {
		before := len(chromedp.DefaultExecAllocatorOptions)
		_ = DefaultAllocatorOptions(config.BrowserConfig{Args: []string{"a", "b", "c"}})
		assert.Len(t, chromedp.DefaultExecAllocatorOptions, before)
	})
}

func TestWithPersona(t *testing.T) {
	p := stealth.NewPersona(config.BrowserConfig{Languages: []string{"th-TH"}}, "Asia/Bangkok")
	b := &Browser{}
	WithPersona(p)(b)

	require.NotNil(t, b.persona)
	assert.Equal(t, p, *b.persona)
}
