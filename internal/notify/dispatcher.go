// internal/notify/dispatcher.go
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/gatewatch/internal/config"
)

// Dispatcher sends messages to one chat, spacing them with a rate limiter
// and retrying timeouts with a constant backoff.
type Dispatcher struct {
	sender  Sender
	chatID  string
	limiter *rate.Limiter
	logger  *zap.Logger

	attempts     int
	photoBackoff time.Duration
	textBackoff  time.Duration
}

// NewDispatcher builds a dispatcher from the notify config. A zero rate
// disables the limiter.
func NewDispatcher(sender Sender, cfg config.NotifyConfig, logger *zap.Logger) *Dispatcher {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Dispatcher{
		sender:       sender,
		chatID:       cfg.ChatID,
		limiter:      rate.NewLimiter(limit, 1),
		logger:       logger.Named("dispatcher"),
		attempts:     attempts,
		photoBackoff: cfg.PhotoBackoff,
		textBackoff:  cfg.TextBackoff,
	}
}

// Photo sends a screenshot with a caption.
func (d *Dispatcher) Photo(ctx context.Context, path, caption string, mode ParseMode) error {
	return d.withRetry(ctx, "photo", d.photoBackoff, func(ctx context.Context) error {
		return d.sender.SendPhoto(ctx, d.chatID, path, caption, mode)
	})
}

// Text sends a text message.
func (d *Dispatcher) Text(ctx context.Context, text string, mode ParseMode) error {
	return d.withRetry(ctx, "text", d.textBackoff, func(ctx context.Context) error {
		return d.sender.SendText(ctx, d.chatID, text, mode)
	})
}

func (d *Dispatcher) withRetry(ctx context.Context, kind string, pause time.Duration, send func(context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		if err := d.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter wait interrupted: %w", err))
		}
		err := send(ctx)
		if err == nil {
			d.logger.Debug("Message sent.", zap.String("kind", kind), zap.Int("attempt", attempt))
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !IsTimeout(err) {
			return backoff.Permanent(fmt.Errorf("failed to send %s: %w", kind, err))
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		d.logger.Warn("Telegram timeout, retrying.",
			zap.String("kind", kind),
			zap.Int("attempt", attempt),
			zap.Int("of", d.attempts),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(pause), uint64(d.attempts-1)), ctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err != nil && ctx.Err() == nil && IsTimeout(err) {
		return fmt.Errorf("failed to send %s after %d attempts: %w", kind, attempt, err)
	}
	return err
}
