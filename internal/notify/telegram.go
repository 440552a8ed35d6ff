package notify

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// telegramSender is a send-only Telegram client. The bot never polls for
// updates; operator commands come in through the CLI, not chat.
type telegramSender struct {
	bot  *tele.Bot
	chat tele.ChatID
}

func NewTelegram(token string, chatID int64) (Sender, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b, chat: tele.ChatID(chatID)}, nil
}

func (t *telegramSender) Send(ctx context.Context, text string) error {
	// telebot's API calls carry their own timeout; ctx only gates entry.
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text)
	return err
}
