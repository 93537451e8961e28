// Package notify доставляет коды сброса пароля пользователю вне основного канала.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotApplicable: канал не подходит получателю (например, telegram не привязан).
var ErrNotApplicable = errors.New("channel not applicable to recipient")

// ErrNoChannel: ни один канал не подошёл получателю.
var ErrNoChannel = errors.New("no delivery channel for recipient")

type Recipient struct {
	Email          string
	Username       string
	TelegramChatID int64
}

type Notifier interface {
	SendResetCode(ctx context.Context, to Recipient, code string, expiresAt time.Time) error
}

type Channel struct {
	Name     string
	Notifier Notifier
}

// MultiNotifier отправляет во все каналы; успех, если доставил хотя бы один.
type MultiNotifier struct {
	channels  []Channel
	log       *zap.Logger
	OnFailure func(channel string, err error)
}

func NewMultiNotifier(log *zap.Logger, channels ...Channel) *MultiNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &MultiNotifier{channels: channels, log: log}
}

func (m *MultiNotifier) SendResetCode(ctx context.Context, to Recipient, code string, expiresAt time.Time) error {
	var (
		errs      []error
		delivered int
	)
	for _, ch := range m.channels {
		err := ch.Notifier.SendResetCode(ctx, to, code, expiresAt)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrNotApplicable):
			m.log.Debug("[notify] channel skipped", zap.String("channel", ch.Name))
		default:
			m.log.Warn("[notify] channel failed", zap.String("channel", ch.Name), zap.Error(err))
			if m.OnFailure != nil {
				m.OnFailure(ch.Name, err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
		}
	}
	if delivered > 0 {
		return nil
	}
	if len(errs) == 0 {
		return ErrNoChannel
	}
	return errors.Join(errs...)
}
