package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramEndpoint delivers messages to a single Telegram chat.
type TelegramEndpoint struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

var _ Endpoint = (*TelegramEndpoint)(nil)

// NewTelegramEndpoint wraps an authenticated bot for one destination chat.
func NewTelegramEndpoint(bot *tgbotapi.BotAPI, chatID int64) *TelegramEndpoint {
	return &TelegramEndpoint{bot: bot, chatID: chatID}
}

// Name identifies the endpoint by its chat id.
func (t *TelegramEndpoint) Name() string {
	return fmt.Sprintf("telegram:%d", t.chatID)
}

// Send delivers the message, splitting it into multiple Telegram messages
// when it exceeds the size cap. The chunks share the message's parse mode.
func (t *TelegramEndpoint) Send(ctx context.Context, msg Message) error {
	for _, chunk := range SplitText(msg.Text, MaxMessageRunes) {
		tgMsg := tgbotapi.NewMessage(t.chatID, chunk)
		if msg.Markdown {
			tgMsg.ParseMode = tgbotapi.ModeMarkdownV2
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := t.bot.Send(tgMsg); err != nil {
			return fmt.Errorf("telegram send to %d: %w",
				t.chatID, err)
		}
	}

	return nil
}
