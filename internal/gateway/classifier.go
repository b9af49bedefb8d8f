package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/xkilldash9x/gatewatch/internal/config"
	"github.com/xkilldash9x/gatewatch/internal/results"
	"go.uber.org/zap"
)

// Classifier maps what a page shows after a submit to a verdict. It only
// reads the page, so classifying an unchanged page twice gives the same
// result.
type Classifier struct {
	profile config.ClassifyProfile
	logger  *zap.Logger
}

// NewClassifier creates a classifier driven by a site's classify profile.
func NewClassifier(profile config.ClassifyProfile, logger *zap.Logger) *Classifier {
	if profile.ToastAttempts <= 0 {
		profile.ToastAttempts = 20
	}
	if profile.ToastInterval <= 0 {
		profile.ToastInterval = 100 * time.Millisecond
	}
	return &Classifier{profile: profile, logger: logger.Named("classifier")}
}

// Classify runs the detectors in priority order: error toast, hard error
// page, payment widget, confirmation dialog, manual bank form. navigated
// decides the fallback when none of them fire.
func (c *Classifier) Classify(ctx context.Context, page Page, navigated bool) results.Result {
	if text, ok := c.toast(ctx, page); ok {
		c.logger.Info("Error toast detected.", zap.String("toast", text))
		return results.NewFailure(text)
	}
	if marker, ok := c.hardError(ctx, page); ok {
		c.logger.Info("Error page detected.", zap.String("marker", marker))
		return results.NewFailure(marker)
	}
	if detail, ok := c.paymentWidget(ctx, page); ok {
		c.logger.Info("Payment widget detected.", zap.String("detail", detail))
		return results.NewSuccess(detail)
	}
	if c.confirmation(ctx, page) {
		c.logger.Info("Confirmation dialog detected.")
		return results.NewSuccess("confirmation shown")
	}
	if label, ok := c.manualBank(ctx, page); ok {
		c.logger.Info("Manual bank transfer form detected.", zap.String("label", label))
		return results.NewNotGateway("manual bank transfer")
	}

	if ctx.Err() != nil {
		return results.NewUnknown("classification interrupted")
	}
	if navigated {
		return results.NewSuccess("payment page loaded")
	}
	return results.NewUnknown("unidentified reason")
}

func (c *Classifier) toast(ctx context.Context, page Page) (string, bool) {
	if c.profile.Toast.IsZero() {
		return "", false
	}
	loc := FromSelector(c.profile.Toast)
	policy := PollPolicy{Attempts: c.profile.ToastAttempts, Interval: c.profile.ToastInterval}

	p, err := Poll(ctx, policy, func(ctx context.Context) (Probe, error) {
		visible, err := page.Visible(ctx, loc)
		if err != nil || !visible {
			return Probe{}, err
		}
		text, err := page.Text(ctx, loc)
		if err != nil {
			return Probe{}, err
		}
		text = strings.TrimSpace(text)
		return Probe{Found: text != "", Text: text}, nil
	})
	if err != nil {
		c.logger.Debug("Toast probe ended without a match.", zap.Error(err))
	}
	return p.Text, p.Found
}

func (c *Classifier) hardError(ctx context.Context, page Page) (string, bool) {
	if !c.profile.ErrorSelector.IsZero() {
		loc := FromSelector(c.profile.ErrorSelector)
		if n, err := page.Count(ctx, loc); err == nil && n > 0 {
			text, _ := page.Text(ctx, loc)
			if m, ok := c.matchMarker(text); ok {
				return m, true
			}
			return firstLine(text, "error page"), true
		}
	}

	for _, doc := range c.documents(ctx, page) {
		text, err := page.Text(ctx, Locator{CSS: "body", Frame: doc})
		if err != nil {
			// Cross-origin frames cannot be read.
			continue
		}
		if m, ok := c.matchMarker(text); ok {
			return m, true
		}
	}
	return "", false
}

func (c *Classifier) paymentWidget(ctx context.Context, page Page) (string, bool) {
	frames, err := page.FrameCount(ctx)
	if err != nil {
		frames = 0
	}

	// Frames first; a QR code is usually rendered by the gateway's iframe.
	for f := 1; f <= frames; f++ {
		for _, css := range c.profile.QRSelectors {
			if n, err := page.Count(ctx, Locator{CSS: css, Frame: f}); err == nil && n > 0 {
				return "qr code in frame", true
			}
		}
	}
	for _, css := range c.profile.QRSelectors {
		if n, err := page.Count(ctx, Locator{CSS: css}); err == nil && n > 0 {
			return "qr code", true
		}
	}

	want := strings.Fields(c.profile.IframeSandbox)
	if len(want) == 0 {
		return "", false
	}
	for i := 0; i < frames; i++ {
		sandbox, ok, err := page.Attribute(ctx, Locator{CSS: "iframe", Nth: i}, "sandbox")
		if err != nil || !ok {
			continue
		}
		if containsAllTokens(sandbox, want) {
			return "sandboxed payment iframe", true
		}
	}
	return "", false
}

func (c *Classifier) confirmation(ctx context.Context, page Page) bool {
	if c.profile.Confirmation.IsZero() {
		return false
	}
	ok, _ := WaitVisible(ctx, page, FromSelector(c.profile.Confirmation), c.profile.ConfirmationWait)
	return ok
}

func (c *Classifier) manualBank(ctx context.Context, page Page) (string, bool) {
	if c.profile.ManualBankLabel.IsZero() || len(c.profile.ManualBankTexts) == 0 {
		return "", false
	}
	loc := FromSelector(c.profile.ManualBankLabel)
	n, err := page.Count(ctx, loc)
	if err != nil {
		return "", false
	}
	for i := 0; i < n; i++ {
		text, err := page.Text(ctx, loc.At(i))
		if err != nil {
			continue
		}
		for _, want := range c.profile.ManualBankTexts {
			if strings.Contains(text, want) {
				return want, true
			}
		}
	}
	return "", false
}

// documents lists the top document plus every iframe index.
func (c *Classifier) documents(ctx context.Context, page Page) []int {
	docs := []int{0}
	frames, err := page.FrameCount(ctx)
	if err != nil {
		return docs
	}
	for f := 1; f <= frames; f++ {
		docs = append(docs, f)
	}
	return docs
}

func (c *Classifier) matchMarker(text string) (string, bool) {
	for _, m := range c.profile.ErrorMarkers {
		if m != "" && strings.Contains(text, m) {
			return m, true
		}
	}
	return "", false
}

func containsAllTokens(attr string, want []string) bool {
	have := make(map[string]bool)
	for _, tok := range strings.Fields(attr) {
		have[tok] = true
	}
	for _, tok := range want {
		if !have[tok] {
			return false
		}
	}
	return true
}

func firstLine(text, fallback string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	if text == "" {
		return fallback
	}
	return text
}
