package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/model"
)

// TelegramSender delivers alerts to Telegram chats. Rule recipients are chat
// ids or @channel usernames.
type TelegramSender struct {
	logger *zap.Logger
	bot    *bot.Bot
}

// NewTelegramSender creates a sender backed by a bot token. serverURL
// overrides the Bot API endpoint when non-empty.
func NewTelegramSender(logger *zap.Logger, token, serverURL string) (*TelegramSender, error) {
	opts := []bot.Option{bot.WithSkipGetMe()}
	if serverURL != "" {
		opts = append(opts, bot.WithServerURL(serverURL))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramSender{
		logger: logger.Named("telegram"),
		bot:    b,
	}, nil
}

// Channel implements Sender
func (s *TelegramSender) Channel() model.Channel {
	return model.ChannelTelegram
}

// Send implements Sender
func (s *TelegramSender) Send(ctx context.Context, msg *Message) error {
	if len(msg.Settings.Recipients) == 0 {
		return errors.New("no telegram chats configured")
	}

	text := msg.Subject + "\n\n" + msg.Body
	var errs []error
	for _, chat := range msg.Settings.Recipients {
		_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID(chat),
			Text:   text,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("telegram chat %s: %w", chat, err))
		}
	}
	return errors.Join(errs...)
}

func chatID(recipient string) interface{} {
	if id, err := strconv.ParseInt(recipient, 10, 64); err == nil {
		return id
	}
	return recipient
}
