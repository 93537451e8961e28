package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) SendResetCode(context.Context, Recipient, string, time.Time) error {
	s.calls++
	return s.err
}

var expires = time.Date(2026, 10, 15, 12, 10, 0, 0, time.UTC)

func TestMultiNotifier_OneChannelEnough(t *testing.T) {
	failing := &stubNotifier{err: errors.New("smtp down")}
	ok := &stubNotifier{}
	var failed []string

	m := NewMultiNotifier(nil, Channel{"email", failing}, Channel{"telegram", ok})
	m.OnFailure = func(ch string, _ error) { failed = append(failed, ch) }

	require.NoError(t, m.SendResetCode(context.Background(), Recipient{Email: "a@b.c"}, "1234", expires))
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, []string{"email"}, failed)
}

func TestMultiNotifier_AllFailed(t *testing.T) {
	smtpErr := errors.New("smtp down")
	m := NewMultiNotifier(nil,
		Channel{"email", &stubNotifier{err: smtpErr}},
		Channel{"telegram", &stubNotifier{err: ErrNotApplicable}},
	)
	err := m.SendResetCode(context.Background(), Recipient{Email: "a@b.c"}, "1234", expires)
	require.Error(t, err)
	assert.ErrorIs(t, err, smtpErr)
}

func TestMultiNotifier_NothingApplicable(t *testing.T) {
	m := NewMultiNotifier(nil, Channel{"telegram", &stubNotifier{err: ErrNotApplicable}})
	err := m.SendResetCode(context.Background(), Recipient{}, "1234", expires)
	assert.ErrorIs(t, err, ErrNoChannel)
}

type recordingDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *recordingDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func TestEmailNotifier_SendsCode(t *testing.T) {
	d := &recordingDialer{}
	n := newEmailNotifier(d, "noreply@pigeonfarm.local", false, nil)

	err := n.SendResetCode(context.Background(), Recipient{Email: "user@example.com", Username: "ivan"}, "0421", expires)
	require.NoError(t, err)
	require.Len(t, d.sent, 1)

	assert.Equal(t, []string{"user@example.com"}, d.sent[0].GetHeader("To"))
	var buf bytes.Buffer
	_, err = d.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "0421")
}

func TestEmailNotifier_DryRunAndErrors(t *testing.T) {
	d := &recordingDialer{err: errors.New("dial tcp: refused")}

	dry := newEmailNotifier(d, "noreply@pigeonfarm.local", true, nil)
	require.NoError(t, dry.SendResetCode(context.Background(), Recipient{Email: "user@example.com"}, "1111", expires))
	assert.Empty(t, d.sent)

	live := newEmailNotifier(d, "noreply@pigeonfarm.local", false, nil)
	err := live.SendResetCode(context.Background(), Recipient{Email: "user@example.com"}, "1111", expires)
	assert.ErrorContains(t, err, "refused")

	assert.ErrorIs(t, live.SendResetCode(context.Background(), Recipient{}, "1111", expires), ErrNotApplicable)
}

type recordingBot struct {
	sent []tgbotapi.Chattable
}

func (b *recordingBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramNotifier(t *testing.T) {
	bot := &recordingBot{}
	n := &TelegramNotifier{bot: bot}

	assert.ErrorIs(t, n.SendResetCode(context.Background(), Recipient{Email: "a@b.c"}, "1234", expires), ErrNotApplicable)
	assert.Empty(t, bot.sent)

	require.NoError(t, n.SendResetCode(context.Background(), Recipient{TelegramChatID: 42}, "1234", expires))
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "1234")
}

func TestTelegramNotifier_SendText(t *testing.T) {
	bot := &recordingBot{}
	n := &TelegramNotifier{bot: bot}

	assert.ErrorIs(t, n.SendText(0, "hi"), ErrNotApplicable)
	require.NoError(t, n.SendText(7, "<b>hi</b>"))
	require.Len(t, bot.sent, 1)
	msg := bot.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)

	var nilNotifier *TelegramNotifier
	assert.ErrorIs(t, nilNotifier.SendText(7, "hi"), ErrNotApplicable)
}
