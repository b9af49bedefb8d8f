// internal/notify/sender.go
package notify

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
)

// ParseMode is the Telegram formatting mode of a message.
type ParseMode string

const (
	ModeMarkdownV2 ParseMode = "MarkdownV2"
	ModeMarkdown   ParseMode = "Markdown"
	ModePlain      ParseMode = ""
)

// Sender delivers messages to a chat.
type Sender interface {
	SendPhoto(ctx context.Context, chatID, path, caption string, mode ParseMode) error
	SendText(ctx context.Context, chatID, text string, mode ParseMode) error
}

// IsTimeout reports whether err is a network or deadline timeout. Only
// timeouts are worth retrying; Telegram rejects malformed messages the same
// way every time.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// LogSender writes messages to the log instead of sending them. It backs
// dry runs and installs without a bot.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("notify.log")}
}

func (s *LogSender) SendPhoto(_ context.Context, chatID, path, caption string, mode ParseMode) error {
	s.logger.Info("Photo message (not sent).",
		zap.String("chat_id", chatID),
		zap.String("photo", path),
		zap.String("mode", string(mode)),
		zap.String("caption", caption),
	)
	return nil
}

func (s *LogSender) SendText(_ context.Context, chatID, text string, mode ParseMode) error {
	s.logger.Info("Text message (not sent).",
		zap.String("chat_id", chatID),
		zap.String("mode", string(mode)),
		zap.String("text", text),
	)
	return nil
}
