package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"pigeonfarm/internal/models"
	"pigeonfarm/internal/repositories"
	"pigeonfarm/internal/utils"
)

const linkCodeLen = 32

type TelegramLinkService interface {
	RequestLink(ctx context.Context, userID int) (*models.TelegramLink, error)
	ConfirmLink(ctx context.Context, rawCode string, chatID int64) (userID int, err error)
}

type telegramLinkService struct {
	links repositories.TelegramLinkRepository
	gen   utils.CodeGenerator
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

func NewTelegramLinkService(links repositories.TelegramLinkRepository, ttl time.Duration, log *zap.Logger) TelegramLinkService {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &telegramLinkService{
		links: links,
		gen:   utils.HexCodeGenerator{Bytes: linkCodeLen / 2},
		ttl:   ttl,
		log:   log,
		now:   time.Now,
	}
}

func (s *telegramLinkService) RequestLink(ctx context.Context, userID int) (*models.TelegramLink, error) {
	now := s.now()
	link, err := s.links.Create(ctx, userID, s.gen.Generate(), now, now.Add(s.ttl))
	if err != nil {
		return nil, storageError("create telegram link", err)
	}
	s.log.Info("[telegram][link] code issued", zap.Int("user_id", userID), zap.Time("expires_at", link.ExpiresAt))
	return link, nil
}

func (s *telegramLinkService) ConfirmLink(ctx context.Context, rawCode string, chatID int64) (int, error) {
	code, ok := normalizeLinkCode(rawCode)
	if !ok || chatID == 0 {
		return 0, ErrInvalidOrExpiredCode
	}
	userID, err := s.links.BindChat(ctx, code, chatID, s.now())
	if err != nil {
		if errors.Is(err, repositories.ErrTelegramLinkUnavailable) {
			return 0, ErrInvalidOrExpiredCode
		}
		return 0, storageError("bind telegram chat", err)
	}
	s.log.Info("[telegram][link] chat bound", zap.Int("user_id", userID))
	return userID, nil
}

// normalizeLinkCode терпит кавычки, пробелы и регистр при копировании кода из письма или кабинета.
func normalizeLinkCode(s string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if unicode.Is(unicode.Hex_Digit, r) {
			b.WriteRune(r)
		}
	}
	code := b.String()
	if len(code) != linkCodeLen {
		return "", false
	}
	return code, true
}
