package models

import "time"

// ResetCode: один выданный одноразовый код сброса пароля.
// На один email может быть несколько живых строк; текущей считается самая свежая.
type ResetCode struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	Code      string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// IsValidAt: не использован и now <= expires_at.
func (rc *ResetCode) IsValidAt(now time.Time) bool {
	return rc != nil && !rc.Used && !now.After(rc.ExpiresAt)
}

type PasswordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

type VerifyResetCodeRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

type ConfirmPasswordResetRequest struct {
	Email       string `json:"email" binding:"required"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}
