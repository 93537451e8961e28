package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pigeonfarm/internal/logger"
	"pigeonfarm/internal/metrics"
	"pigeonfarm/internal/models"
	"pigeonfarm/internal/notify"
	"pigeonfarm/internal/repositories"
	"pigeonfarm/internal/throttle"
	"pigeonfarm/internal/utils"
)

// ResetPolicy собирается один раз при старте и дальше не меняется.
type ResetPolicy struct {
	CodeLength               int
	CodeTTL                  time.Duration
	InvalidatePriorOnReissue bool

	// AsyncDelivery: код отправляется после ответа, время ответа не зависит от SMTP.
	AsyncDelivery bool
	Password      PasswordPolicy
}

const deliveryTimeout = 30 * time.Second

func DefaultResetPolicy() ResetPolicy {
	return ResetPolicy{
		CodeLength:    utils.DefaultCodeDigits,
		CodeTTL:       10 * time.Minute,
		AsyncDelivery: true,
		Password: PasswordPolicy{
			MinLength:     8,
			RequireLetter: true,
			RequireDigit:  true,
		},
	}
}

// ResetTicket: то, что можно сказать о выданном коде, не раскрывая его.
type ResetTicket struct {
	Email     string
	ExpiresAt time.Time
}

type ResetStatus struct {
	HasActiveCode bool
	ExpiresAt     *time.Time
}

type PasswordResetService interface {
	RequestReset(ctx context.Context, email string) (*ResetTicket, error)
	VerifyCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	GetResetStatus(ctx context.Context, email string) (ResetStatus, error)
}

type PasswordResetDeps struct {
	Users     repositories.UserRepository
	Codes     repositories.PasswordResetRepository
	Auth      AuthService
	Generator utils.CodeGenerator
	Notifier  notify.Notifier

	// RequestLimiter считает запросы кода, AttemptLimiter: проверки кода.
	RequestLimiter throttle.Limiter
	AttemptLimiter throttle.Limiter

	Metrics *metrics.ResetMetrics
	Log     *zap.Logger
	Now     func() time.Time
}

type passwordResetService struct {
	policy   ResetPolicy
	users    repositories.UserRepository
	codes    repositories.PasswordResetRepository
	auth     AuthService
	gen      utils.CodeGenerator
	notifier notify.Notifier
	requests throttle.Limiter
	attempts throttle.Limiter
	metrics  *metrics.ResetMetrics
	log      *zap.Logger
	now      func() time.Time
	inflight sync.WaitGroup
}

func NewPasswordResetService(policy ResetPolicy, deps PasswordResetDeps) PasswordResetService {
	def := DefaultResetPolicy()
	if policy.CodeLength <= 0 {
		policy.CodeLength = def.CodeLength
	}
	if policy.CodeTTL <= 0 {
		policy.CodeTTL = def.CodeTTL
	}
	if policy.Password.MinLength <= 0 {
		policy.Password = def.Password
	}

	s := &passwordResetService{
		policy:   policy,
		users:    deps.Users,
		codes:    deps.Codes,
		auth:     deps.Auth,
		gen:      deps.Generator,
		notifier: deps.Notifier,
		requests: deps.RequestLimiter,
		attempts: deps.AttemptLimiter,
		metrics:  deps.Metrics,
		log:      deps.Log,
		now:      deps.Now,
	}
	if s.gen == nil {
		s.gen = utils.NewNumericCodeGenerator(policy.CodeLength)
	}
	if s.notifier == nil {
		s.notifier = notify.NewMultiNotifier(s.log)
	}
	if s.requests == nil {
		s.requests = throttle.Unlimited{}
	}
	if s.attempts == nil {
		s.attempts = throttle.Unlimited{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewResetMetrics(nil)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *passwordResetService) validCodeFormat(code string) bool {
	if len(code) != s.policy.CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// allow: при недоступном бэкенде лимитера пропускаем запрос и пишем предупреждение.
func (s *passwordResetService) allow(ctx context.Context, l throttle.Limiter, key string) bool {
	ok, err := l.Allow(ctx, key)
	if err != nil {
		s.log.Warn("[password-reset] throttle backend error, allowing", zap.Error(err))
		return true
	}
	return ok
}

func (s *passwordResetService) RequestReset(ctx context.Context, email string) (*ResetTicket, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}

	// лимит до поиска аккаунта: ответ не должен зависеть от его существования
	if !s.allow(ctx, s.requests, "reset:request:"+email) {
		s.metrics.Requests.WithLabelValues(metrics.OutcomeRateLimited).Inc()
		return nil, ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		s.metrics.Requests.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, storageError("lookup account", err)
	}
	if user == nil {
		s.log.Info("[password-reset][request] account not found", logger.Email(email))
		s.metrics.Requests.WithLabelValues(metrics.OutcomeUnknownEmail).Inc()
		return nil, ErrAccountNotFound
	}

	now := s.now()
	if s.policy.InvalidatePriorOnReissue {
		n, err := s.codes.InvalidateActive(ctx, email, now)
		if err != nil {
			s.metrics.Requests.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, storageError("invalidate prior codes", err)
		}
		if n > 0 {
			s.log.Debug("[password-reset][request] prior codes invalidated", zap.Int64("count", n), zap.Int("user_id", user.ID))
		}
	}

	code := s.gen.Generate()
	rc, err := s.codes.Create(ctx, email, code, now, now.Add(s.policy.CodeTTL))
	if err != nil {
		s.metrics.Requests.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, storageError("issue code", err)
	}
	ticket := &ResetTicket{Email: email, ExpiresAt: rc.ExpiresAt}

	if s.policy.AsyncDelivery {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
			defer cancel()
			_ = s.deliver(dctx, user, rc, code)
		}()
		return ticket, nil
	}
	if err := s.deliver(ctx, user, rc, code); err != nil {
		return ticket, err
	}
	return ticket, nil
}

func (s *passwordResetService) deliver(ctx context.Context, user *models.User, rc *models.ResetCode, code string) error {
	to := notify.Recipient{Email: user.Email, Username: user.Username, TelegramChatID: user.TelegramChatID}
	if err := s.notifier.SendResetCode(ctx, to, code, rc.ExpiresAt); err != nil {
		// код остаётся действительным: его можно переотправить вручную
		s.log.Error("[password-reset][request] delivery failed",
			zap.Int64("reset_id", rc.ID), zap.Int("user_id", user.ID), zap.Error(err))
		s.metrics.Requests.WithLabelValues(metrics.OutcomeDeliveryFail).Inc()
		return fmt.Errorf("%w: %w", ErrDeliveryFailure, err)
	}

	s.log.Info("[password-reset][request] code issued",
		zap.Int64("reset_id", rc.ID), zap.Int("user_id", user.ID), zap.Time("expires_at", rc.ExpiresAt))
	s.metrics.Requests.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return nil
}

// Wait ждёт фоновые отправки кодов (graceful shutdown).
func (s *passwordResetService) Wait() {
	s.inflight.Wait()
}

// VerifyCode только проверяет код и не гасит его; права он не даёт.
func (s *passwordResetService) VerifyCode(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)

	if !s.allow(ctx, s.attempts, "reset:attempt:"+email) {
		s.metrics.Verifications.WithLabelValues(metrics.OutcomeRateLimited).Inc()
		return ErrRateLimited
	}

	if _, err := s.findValid(ctx, email, code); err != nil {
		s.observe(s.metrics.Verifications, err)
		return err
	}
	s.metrics.Verifications.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return nil
}

func (s *passwordResetService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)

	// политика пароля: до любых обращений к хранилищу
	if err := s.policy.Password.Check(newPassword); err != nil {
		s.metrics.Completions.WithLabelValues(metrics.OutcomeWeakPassword).Inc()
		return err
	}

	if !s.allow(ctx, s.attempts, "reset:attempt:"+email) {
		s.metrics.Completions.WithLabelValues(metrics.OutcomeRateLimited).Inc()
		return ErrRateLimited
	}

	// предыдущему verify не доверяем: между ними ничего не сохранялось
	rc, err := s.findValid(ctx, email, code)
	if err != nil {
		s.observe(s.metrics.Completions, err)
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		s.metrics.Completions.WithLabelValues(metrics.OutcomeError).Inc()
		return storageError("lookup account", err)
	}
	if user == nil {
		// аккаунт удалён после выдачи кода
		s.log.Warn("[password-reset][confirm] code for missing account", zap.Int64("reset_id", rc.ID))
		s.metrics.Completions.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return ErrInvalidOrExpiredCode
	}

	hash, err := s.auth.HashPassword(newPassword)
	if err != nil {
		s.metrics.Completions.WithLabelValues(metrics.OutcomeError).Inc()
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.codes.ConsumeWithPassword(ctx, rc.ID, user.ID, hash, s.now()); err != nil {
		if errors.Is(err, repositories.ErrResetCodeUnavailable) {
			s.metrics.Completions.WithLabelValues(metrics.OutcomeInvalid).Inc()
			return ErrInvalidOrExpiredCode
		}
		s.metrics.Completions.WithLabelValues(metrics.OutcomeError).Inc()
		return storageError("consume code", err)
	}

	s.log.Info("[password-reset][confirm] password changed", zap.Int("user_id", user.ID), zap.Int64("reset_id", rc.ID))
	s.metrics.Completions.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return nil
}

func (s *passwordResetService) GetResetStatus(ctx context.Context, email string) (ResetStatus, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return ResetStatus{}, nil
	}
	rc, err := s.codes.LatestActive(ctx, email, s.now())
	if err != nil {
		return ResetStatus{}, storageError("reset status", err)
	}
	if rc == nil {
		return ResetStatus{}, nil
	}
	exp := rc.ExpiresAt
	return ResetStatus{HasActiveCode: true, ExpiresAt: &exp}, nil
}

// findValid сводит все причины отказа (нет кода, чужой email, истёк, использован) к одной ошибке.
func (s *passwordResetService) findValid(ctx context.Context, email, code string) (*models.ResetCode, error) {
	if !validEmail(email) || !s.validCodeFormat(code) {
		return nil, ErrInvalidOrExpiredCode
	}
	rc, err := s.codes.FindValid(ctx, email, code, s.now())
	if err != nil {
		return nil, storageError("find code", err)
	}
	if rc == nil {
		return nil, ErrInvalidOrExpiredCode
	}
	return rc, nil
}

func (s *passwordResetService) observe(counter *prometheus.CounterVec, err error) {
	outcome := metrics.OutcomeError
	if errors.Is(err, ErrInvalidOrExpiredCode) {
		outcome = metrics.OutcomeInvalid
	}
	counter.WithLabelValues(outcome).Inc()
}
