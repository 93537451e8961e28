package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter держит token bucket в памяти процесса. Limit токенов, пополнение по одному каждые Window/Limit.
type MemoryLimiter struct {
	policy Policy
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*memoryEntry
	lastSweep time.Time
}

func NewMemoryLimiter(policy Policy) *MemoryLimiter {
	return NewMemoryLimiterWithClock(policy, time.Now)
}

func NewMemoryLimiterWithClock(policy Policy, now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		policy:  policy,
		now:     now,
		entries: make(map[string]*memoryEntry),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if !l.policy.enabled() {
		return true, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	e, ok := l.entries[key]
	if !ok {
		every := rate.Every(l.policy.Window / time.Duration(l.policy.Limit))
		e = &memoryEntry{limiter: rate.NewLimiter(every, l.policy.Limit)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// sweep выбрасывает ключи, не встречавшиеся дольше окна: их корзины уже полные.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.policy.Window {
		return
	}
	l.lastSweep = now
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.policy.Window {
			delete(l.entries, k)
		}
	}
}

func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
