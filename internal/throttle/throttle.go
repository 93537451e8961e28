// Package throttle ограничивает частоту операций по ключу (email, IP).
package throttle

import (
	"context"
	"time"
)

type Limiter interface {
	// Allow учитывает одно событие по key и сообщает, укладывается ли оно в лимит.
	Allow(ctx context.Context, key string) (bool, error)
}

// Policy: не более Limit событий за Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// Unlimited пропускает всё.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
