package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pigeonfarm/internal/db"
)

// Интеграционные тесты идут только при заданном PIGEONFARM_TEST_DSN.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PIGEONFARM_TEST_DSN")
	if dsn == "" {
		t.Skip("PIGEONFARM_TEST_DSN not set")
	}
	ctx := context.Background()
	database, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx, database))
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func seedUser(t *testing.T, database *sql.DB) (int, string) {
	t.Helper()
	email := fmt.Sprintf("it-%d@example.com", time.Now().UnixNano())
	var id int
	err := database.QueryRow(
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		"it", email, "old-hash",
	).Scan(&id)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = database.Exec(`DELETE FROM password_reset_codes WHERE email = $1`, email)
		_, _ = database.Exec(`DELETE FROM users WHERE id = $1`, id)
	})
	return id, email
}

func TestPasswordResetRepository_Lifecycle(t *testing.T) {
	database := openTestDB(t)
	_, email := seedUser(t, database)
	repo := NewPasswordResetRepository(database)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rc, err := repo.Create(ctx, email, "1234", now, now.Add(10*time.Minute))
	require.NoError(t, err)
	require.NotZero(t, rc.ID)

	got, err := repo.FindValid(ctx, email, "1234", now.Add(10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got, "expiry is inclusive")
	assert.Equal(t, rc.ID, got.ID)

	got, err = repo.FindValid(ctx, email, "1234", now.Add(10*time.Minute+time.Microsecond))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.FindValid(ctx, "other@example.com", "1234", now)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.MarkUsed(ctx, rc.ID))
	require.NoError(t, repo.MarkUsed(ctx, rc.ID))
	got, err = repo.FindValid(ctx, email, "1234", now)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPasswordResetRepository_NewestDuplicateWins(t *testing.T) {
	database := openTestDB(t)
	_, email := seedUser(t, database)
	repo := NewPasswordResetRepository(database)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := repo.Create(ctx, email, "5555", now, now.Add(5*time.Minute))
	require.NoError(t, err)
	newer, err := repo.Create(ctx, email, "5555", now.Add(time.Second), now.Add(10*time.Minute))
	require.NoError(t, err)

	got, err := repo.FindValid(ctx, email, "5555", now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)

	latest, err := repo.LatestActive(ctx, email, now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newer.ID, latest.ID)

	n, err := repo.InvalidateActive(ctx, email, now.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	latest, err = repo.LatestActive(ctx, email, now.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestPasswordResetRepository_ConsumeWithPassword(t *testing.T) {
	database := openTestDB(t)
	userID, email := seedUser(t, database)
	repo := NewPasswordResetRepository(database)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rc, err := repo.Create(ctx, email, "9876", now, now.Add(10*time.Minute))
	require.NoError(t, err)

	// несуществующий пользователь: транзакция откатывается, код жив
	err = repo.ConsumeWithPassword(ctx, rc.ID, -1, "new-hash", now)
	require.Error(t, err)
	got, err := repo.FindValid(ctx, email, "9876", now)
	require.NoError(t, err)
	require.NotNil(t, got)

	const workers = 5
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.ConsumeWithPassword(ctx, rc.ID, userID, "new-hash", now); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrResetCodeUnavailable)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	var hash string
	require.NoError(t, database.QueryRow(`SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&hash))
	assert.Equal(t, "new-hash", hash)

	err = repo.ConsumeWithPassword(ctx, rc.ID, userID, "newer-hash", now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrResetCodeUnavailable)
}

func TestPasswordResetRepository_DeleteStale(t *testing.T) {
	database := openTestDB(t)
	_, email := seedUser(t, database)
	repo := NewPasswordResetRepository(database)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	old, err := repo.Create(ctx, email, "1111", now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)
	live, err := repo.Create(ctx, email, "2222", now, now.Add(10*time.Minute))
	require.NoError(t, err)

	_, err = repo.DeleteStale(ctx, now)
	require.NoError(t, err)

	var ids []int64
	rows, err := database.Query(`SELECT id FROM password_reset_codes WHERE email = $1`, email)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	assert.NotContains(t, ids, old.ID)
	assert.Contains(t, ids, live.ID)
}

func TestUserRepository_GetByEmailCaseInsensitive(t *testing.T) {
	database := openTestDB(t)
	id, email := seedUser(t, database)
	repo := NewUserRepository(database)
	ctx := context.Background()

	u, err := repo.GetByEmail(ctx, "IT"+email[2:])
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, id, u.ID)

	u, err = repo.GetByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, email, u.Email)
}
