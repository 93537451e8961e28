package models

import "time"

// TelegramLink: одноразовый код, которым пользователь привязывает чат с ботом к аккаунту.
type TelegramLink struct {
	ID        int       `json:"-"`
	UserID    int       `json:"-"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"-"`
}
