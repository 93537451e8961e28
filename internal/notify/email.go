package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailNotifier struct {
	dialer mailDialer
	from   string
	dryRun bool
	log    *zap.Logger
}

func NewEmailNotifier(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail string, dryRun bool, log *zap.Logger) *EmailNotifier {
	return newEmailNotifier(gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword), fromEmail, dryRun, log)
}

func newEmailNotifier(dialer mailDialer, from string, dryRun bool, log *zap.Logger) *EmailNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailNotifier{dialer: dialer, from: from, dryRun: dryRun, log: log}
}

func (s *EmailNotifier) SendResetCode(_ context.Context, to Recipient, code string, expiresAt time.Time) error {
	if to.Email == "" {
		return ErrNotApplicable
	}
	m := s.buildResetMessage(to, code, expiresAt)

	if s.dryRun {
		s.log.Info("[notify][email][dry-run] reset code not sent", zap.String("to", to.Email))
		return nil
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send password reset email: %w", err)
	}
	return nil
}

func (s *EmailNotifier) buildResetMessage(to Recipient, code string, expiresAt time.Time) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to.Email)
	m.SetHeader("Subject", "PigeonFarm password reset code")

	name := to.Username
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf(`
		<h3>Hello %s,</h3>
		<p>We received a request to reset the password for your PigeonFarm account.</p>
		<p>Your reset code is: <strong>%s</strong></p>
		<p>The code expires at %s (UTC) and can be used once.</p>
		<p>If you did not request this change, you can ignore this email.</p>
	`, html.EscapeString(name), html.EscapeString(code), expiresAt.UTC().Format("2006-01-02 15:04"))
	m.SetBody("text/html", body)
	return m
}
