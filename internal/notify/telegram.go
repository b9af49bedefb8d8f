// internal/notify/telegram.go
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramSender sends through the Telegram Bot API.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	logger *zap.Logger
}

// NewTelegramSender authenticates the bot token. The client's timeout
// bounds every request, uploads included.
func NewTelegramSender(token string, client *http.Client, logger *zap.Logger) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate telegram bot: %w", err)
	}
	logger = logger.Named("telegram")
	logger.Info("Telegram bot authorized.", zap.String("bot", bot.Self.UserName))
	return &TelegramSender{bot: bot, logger: logger}, nil
}

func (s *TelegramSender) SendPhoto(ctx context.Context, chatID, path, caption string, mode ParseMode) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewPhoto(id, tgbotapi.FilePath(path))
	msg.Caption = caption
	msg.ParseMode = string(mode)
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send photo %s: %w", path, err)
	}
	return nil
}

func (s *TelegramSender) SendText(ctx context.Context, chatID, text string, mode ParseMode) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = string(mode)
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chat id %q is not numeric: %w", chatID, err)
	}
	return id, nil
}
