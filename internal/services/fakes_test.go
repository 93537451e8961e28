package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pigeonfarm/internal/models"
	"pigeonfarm/internal/notify"
	"pigeonfarm/internal/repositories"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memUsers struct {
	mu     sync.Mutex
	byID   map[int]*models.User
	getErr error
}

func newMemUsers(users ...*models.User) *memUsers {
	m := &memUsers{byID: map[int]*models.User{}}
	for _, u := range users {
		cp := *u
		m.byID[u.ID] = &cp
	}
	return m
}

func (m *memUsers) GetByID(_ context.Context, id int) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) hash(id int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].PasswordHash
}

// memLedger повторяет семантику PostgreSQL-репозитория; ConsumeWithPassword атомарен под мьютексом.
type memLedger struct {
	mu     sync.Mutex
	rows   []*models.ResetCode
	nextID int64
	users  *memUsers

	createErr  error
	consumeErr error
	calls      int
}

var _ repositories.PasswordResetRepository = (*memLedger)(nil)

func newMemLedger(users *memUsers) *memLedger {
	return &memLedger{users: users}
}

func (l *memLedger) Create(_ context.Context, email, code string, createdAt, expiresAt time.Time) (*models.ResetCode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.createErr != nil {
		return nil, l.createErr
	}
	l.nextID++
	rc := &models.ResetCode{ID: l.nextID, Email: email, Code: code, CreatedAt: createdAt, ExpiresAt: expiresAt}
	l.rows = append(l.rows, rc)
	cp := *rc
	return &cp, nil
}

func (l *memLedger) live(email string, now time.Time) []*models.ResetCode {
	var out []*models.ResetCode
	for _, rc := range l.rows {
		if rc.Email == email && rc.IsValidAt(now) {
			out = append(out, rc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (l *memLedger) FindValid(_ context.Context, email, code string, now time.Time) (*models.ResetCode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	for _, rc := range l.live(email, now) {
		if rc.Code == code {
			cp := *rc
			return &cp, nil
		}
	}
	return nil, nil
}

func (l *memLedger) MarkUsed(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	for _, rc := range l.rows {
		if rc.ID == id && !rc.Used {
			now := time.Now()
			rc.Used, rc.UsedAt = true, &now
		}
	}
	return nil
}

func (l *memLedger) LatestActive(_ context.Context, email string, now time.Time) (*models.ResetCode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if live := l.live(email, now); len(live) > 0 {
		cp := *live[0]
		return &cp, nil
	}
	return nil, nil
}

func (l *memLedger) InvalidateActive(_ context.Context, email string, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	var n int64
	for _, rc := range l.live(email, now) {
		t := now
		rc.Used, rc.UsedAt = true, &t
		n++
	}
	return n, nil
}

func (l *memLedger) ConsumeWithPassword(_ context.Context, id int64, userID int, passwordHash string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.consumeErr != nil {
		return l.consumeErr
	}
	var row *models.ResetCode
	for _, rc := range l.rows {
		if rc.ID == id {
			row = rc
		}
	}
	if row == nil || !row.IsValidAt(now) {
		return repositories.ErrResetCodeUnavailable
	}

	l.users.mu.Lock()
	u, ok := l.users.byID[userID]
	if !ok {
		l.users.mu.Unlock()
		return errors.New("user vanished")
	}
	u.PasswordHash = passwordHash
	l.users.mu.Unlock()

	t := now
	row.Used, row.UsedAt = true, &t
	return nil
}

func (l *memLedger) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kept []*models.ResetCode
	var n int64
	for _, rc := range l.rows {
		if rc.ExpiresAt.Before(before) || (rc.Used && rc.UsedAt != nil && rc.UsedAt.Before(before)) {
			n++
			continue
		}
		kept = append(kept, rc)
	}
	l.rows = kept
	return n, nil
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

func (l *memLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type sentCode struct {
	to   notify.Recipient
	code string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (n *captureNotifier) SendResetCode(_ context.Context, to notify.Recipient, code string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentCode{to: to, code: code})
	return n.err
}

func (n *captureNotifier) last() sentCode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// seqGenerator выдаёт коды по очереди, затем повторяет последний.
type seqGenerator struct {
	mu    sync.Mutex
	codes []string
}

func (g *seqGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.codes[0]
	if len(g.codes) > 1 {
		g.codes = g.codes[1:]
	}
	return c
}
