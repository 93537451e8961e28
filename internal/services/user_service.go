package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"pigeonfarm/internal/logger"
	"pigeonfarm/internal/models"
	"pigeonfarm/internal/repositories"
)

type UserService interface {
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
}

type userService struct {
	repo repositories.UserRepository
	auth AuthService
	log  *zap.Logger
}

func NewUserService(repo repositories.UserRepository, auth AuthService, log *zap.Logger) UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &userService{repo: repo, auth: auth, log: log}
}

// Authenticate не различает "нет такого email" и "неверный пароль".
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, storageError("authenticate", err)
	}
	if user == nil {
		s.log.Info("[auth][login] unknown email", logger.Email(email))
		return nil, ErrInvalidCredentials
	}
	if !s.auth.CheckPassword(strings.TrimSpace(user.PasswordHash), password) {
		s.log.Info("[auth][login] password mismatch", zap.Int("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *userService) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storageError("get user", err)
	}
	if user == nil {
		return nil, ErrAccountNotFound
	}
	return user, nil
}
