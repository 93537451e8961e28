package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pigeonfarm/internal/models"
)

// ErrResetCodeUnavailable: строка кода уже использована или истекла к моменту блокировки.
var ErrResetCodeUnavailable = errors.New("reset code unavailable")

type PasswordResetRepository interface {
	Create(ctx context.Context, email, code string, createdAt, expiresAt time.Time) (*models.ResetCode, error)
	FindValid(ctx context.Context, email, code string, now time.Time) (*models.ResetCode, error)
	MarkUsed(ctx context.Context, id int64) error
	LatestActive(ctx context.Context, email string, now time.Time) (*models.ResetCode, error)
	InvalidateActive(ctx context.Context, email string, now time.Time) (int64, error)
	ConsumeWithPassword(ctx context.Context, id int64, userID int, passwordHash string, now time.Time) error
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

type passwordResetRepository struct {
	DB *sql.DB
}

func NewPasswordResetRepository(db *sql.DB) PasswordResetRepository {
	return &passwordResetRepository{DB: db}
}

const resetCodeColumns = `id, email, code, created_at, expires_at, used, used_at`

func scanResetCode(row interface{ Scan(...any) error }) (*models.ResetCode, error) {
	rc := &models.ResetCode{}
	var usedAt sql.NullTime
	if err := row.Scan(&rc.ID, &rc.Email, &rc.Code, &rc.CreatedAt, &rc.ExpiresAt, &rc.Used, &usedAt); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		rc.UsedAt = &t
	}
	return rc, nil
}

func (r *passwordResetRepository) Create(ctx context.Context, email, code string, createdAt, expiresAt time.Time) (*models.ResetCode, error) {
	const q = `
		INSERT INTO password_reset_codes (email, code, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id
	`
	rc := &models.ResetCode{Email: email, Code: code, CreatedAt: createdAt, ExpiresAt: expiresAt}
	if err := r.DB.QueryRowContext(ctx, q, email, code, createdAt, expiresAt).Scan(&rc.ID); err != nil {
		return nil, fmt.Errorf("password_reset create: %w", err)
	}
	return rc, nil
}

// FindValid: при дублях кода берём самый свежий. Промах => nil, nil.
func (r *passwordResetRepository) FindValid(ctx context.Context, email, code string, now time.Time) (*models.ResetCode, error) {
	q := `
		SELECT ` + resetCodeColumns + `
		FROM password_reset_codes
		WHERE email = $1 AND code = $2 AND used = FALSE AND expires_at >= $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	rc, err := scanResetCode(r.DB.QueryRowContext(ctx, q, email, code, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("password_reset find valid: %w", err)
	}
	return rc, nil
}

// MarkUsed идемпотентен: повторный вызов не трогает used_at и не возвращает ошибку.
func (r *passwordResetRepository) MarkUsed(ctx context.Context, id int64) error {
	const q = `
		UPDATE password_reset_codes
		SET used = TRUE, used_at = COALESCE(used_at, NOW())
		WHERE id = $1
	`
	if _, err := r.DB.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("password_reset mark used: %w", err)
	}
	return nil
}

func (r *passwordResetRepository) LatestActive(ctx context.Context, email string, now time.Time) (*models.ResetCode, error) {
	q := `
		SELECT ` + resetCodeColumns + `
		FROM password_reset_codes
		WHERE email = $1 AND used = FALSE AND expires_at >= $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	rc, err := scanResetCode(r.DB.QueryRowContext(ctx, q, email, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("password_reset latest active: %w", err)
	}
	return rc, nil
}

func (r *passwordResetRepository) InvalidateActive(ctx context.Context, email string, now time.Time) (int64, error) {
	const q = `
		UPDATE password_reset_codes
		SET used = TRUE, used_at = $2
		WHERE email = $1 AND used = FALSE AND expires_at >= $2
	`
	res, err := r.DB.ExecContext(ctx, q, email, now)
	if err != nil {
		return 0, fmt.Errorf("password_reset invalidate active: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ConsumeWithPassword: смена пароля и погашение кода в одной транзакции.
// Строка кода блокируется FOR UPDATE, поэтому из двух параллельных confirm проходит один.
func (r *passwordResetRepository) ConsumeWithPassword(ctx context.Context, id int64, userID int, passwordHash string, now time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("password_reset consume begin: %w", err)
	}
	defer tx.Rollback()

	rc, err := scanResetCode(tx.QueryRowContext(ctx, `
		SELECT `+resetCodeColumns+`
		FROM password_reset_codes
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrResetCodeUnavailable
		}
		return fmt.Errorf("password_reset consume lock: %w", err)
	}
	if !rc.IsValidAt(now) {
		return ErrResetCodeUnavailable
	}

	res, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("password_reset consume update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("password_reset consume update password: %w", sql.ErrNoRows)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE password_reset_codes SET used = TRUE, used_at = $2 WHERE id = $1
	`, id, now); err != nil {
		return fmt.Errorf("password_reset consume mark used: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("password_reset consume commit: %w", err)
	}
	return nil
}

// DeleteStale удаляет коды, истёкшие или погашенные раньше cutoff.
func (r *passwordResetRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	const q = `
		DELETE FROM password_reset_codes
		WHERE expires_at < $1 OR (used = TRUE AND used_at < $1)
	`
	res, err := r.DB.ExecContext(ctx, q, before)
	if err != nil {
		return 0, fmt.Errorf("password_reset delete stale: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
