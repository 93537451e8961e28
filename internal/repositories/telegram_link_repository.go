package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pigeonfarm/internal/models"
)

// ErrTelegramLinkUnavailable: кода нет, он истёк или уже использован.
var ErrTelegramLinkUnavailable = errors.New("telegram link code unavailable")

type TelegramLinkRepository interface {
	Create(ctx context.Context, userID int, code string, createdAt, expiresAt time.Time) (*models.TelegramLink, error)
	// BindChat гасит код и записывает chat id пользователю в одной транзакции.
	BindChat(ctx context.Context, code string, chatID int64, now time.Time) (userID int, err error)
}

type telegramLinkRepository struct{ db *sql.DB }

func NewTelegramLinkRepository(db *sql.DB) TelegramLinkRepository {
	return &telegramLinkRepository{db: db}
}

func (r *telegramLinkRepository) Create(ctx context.Context, userID int, code string, createdAt, expiresAt time.Time) (*models.TelegramLink, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO telegram_links (user_id, code, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, code, created_at, expires_at, used
	`, userID, code, createdAt, expiresAt)

	var l models.TelegramLink
	if err := row.Scan(&l.ID, &l.UserID, &l.Code, &l.CreatedAt, &l.ExpiresAt, &l.Used); err != nil {
		return nil, fmt.Errorf("telegram_link create: %w", err)
	}
	return &l, nil
}

func (r *telegramLinkRepository) BindChat(ctx context.Context, code string, chatID int64, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("telegram_link bind begin: %w", err)
	}
	defer tx.Rollback()

	var l models.TelegramLink
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, code, created_at, expires_at, used
		FROM telegram_links
		WHERE code = $1
		FOR UPDATE
	`, code).Scan(&l.ID, &l.UserID, &l.Code, &l.CreatedAt, &l.ExpiresAt, &l.Used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrTelegramLinkUnavailable
		}
		return 0, fmt.Errorf("telegram_link bind lock: %w", err)
	}
	if l.Used || now.After(l.ExpiresAt) {
		return 0, ErrTelegramLinkUnavailable
	}

	if _, err := tx.ExecContext(ctx, `UPDATE telegram_links SET used = TRUE WHERE id = $1`, l.ID); err != nil {
		return 0, fmt.Errorf("telegram_link bind mark used: %w", err)
	}
	// у чата только один владелец, отвязываем чат от прежнего владельца
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET telegram_chat_id = NULL WHERE telegram_chat_id = $1 AND id <> $2
	`, chatID, l.UserID); err != nil {
		return 0, fmt.Errorf("telegram_link bind unlink previous: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET telegram_chat_id = $1 WHERE id = $2`, chatID, l.UserID); err != nil {
		return 0, fmt.Errorf("telegram_link bind update user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("telegram_link bind commit: %w", err)
	}
	return l.UserID, nil
}
