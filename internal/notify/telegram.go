package notify

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier дублирует код в привязанный чат; без chat id канал пропускается.
type TelegramNotifier struct {
	bot telegramSender
}

func NewTelegramNotifier(botToken string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramNotifier{bot: bot}, nil
}

func (t *TelegramNotifier) SendResetCode(_ context.Context, to Recipient, code string, expiresAt time.Time) error {
	if t == nil || t.bot == nil || to.TelegramChatID == 0 {
		return ErrNotApplicable
	}
	text := fmt.Sprintf(
		"PigeonFarm: код сброса пароля <b>%s</b>\nДействует до %s UTC, одноразовый.",
		code, expiresAt.UTC().Format("15:04"),
	)
	msg := tgbotapi.NewMessage(to.TelegramChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	return nil
}

// SendText: обычный ответ в чат (служебные сообщения бота).
func (t *TelegramNotifier) SendText(chatID int64, text string) error {
	if t == nil || t.bot == nil || chatID == 0 {
		return ErrNotApplicable
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	return nil
}
