package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"news_monitor/internal/domain"
)

// TelegramTransport delivers notifications through the Telegram Bot API.
// It classifies API failures into the delivery error taxonomy so the
// dispatcher can distinguish retryable from permanent ones.
type TelegramTransport struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

func NewTelegramTransport(token string, logger *slog.Logger) (*TelegramTransport, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &TelegramTransport{
		bot:    bot,
		logger: logger,
	}, nil
}

// Send delivers one message to one chat.
func (t *TelegramTransport) Send(ctx context.Context, subscriberID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(subscriberID, text)
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return classifySendError(err)
	}
	return nil
}

func classifySendError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return fmt.Errorf("%w: retry after %ds", domain.ErrRateLimited, apiErr.RetryAfter)
		case apiErr.Code == 403 || strings.Contains(apiErr.Message, "bot was blocked"):
			return fmt.Errorf("%w: %s", domain.ErrBlockedByUser, apiErr.Message)
		case strings.Contains(apiErr.Message, "chat not found"):
			return fmt.Errorf("%w: %s", domain.ErrInvalidChat, apiErr.Message)
		}
	}
	return fmt.Errorf("send message: %w", err)
}
