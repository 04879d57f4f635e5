package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/textpulse/internal/cache"
	"github.com/kiranshivaraju/textpulse/internal/store"
	"github.com/kiranshivaraju/textpulse/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("textpulse_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemoryStore() (*store.CacheStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	mc := cache.NewMemoryCacheWithClock(clock.Now)
	return store.NewCacheStore(mc).WithClock(clock.Now), clock
}

func toCompleted(analysis string) store.UpdateFunc {
	return func(cur models.JobRecord) (models.JobRecord, bool) {
		if cur.Status != models.JobStatusPending {
			return cur, false
		}
		return models.CompletedRecord(analysis), true
	}
}

func toCancelled(cur models.JobRecord) (models.JobRecord, bool) {
	if cur.Status != models.JobStatusPending {
		return cur, false
	}
	return models.CancelledRecord(), true
}

// --- CacheStore ---

func TestCacheStore_PutGet(t *testing.T) {
	s, clock := newMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", models.PendingRecord(), time.Hour))

	rec, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, rec.Status)
	assert.Equal(t, clock.Now().Add(time.Hour), rec.ExpiresAt)
}

func TestCacheStore_GetNotFound(t *testing.T) {
	s, _ := newMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCacheStore_TTLBoundary(t *testing.T) {
	s, clock := newMemoryStore()
	ctx := context.Background()
	ttl := time.Hour

	require.NoError(t, s.Put(ctx, "a", models.PendingRecord(), ttl))

	clock.Advance(ttl - time.Second)
	_, err := s.Get(ctx, "a")
	require.NoError(t, err, "record should be readable just before TTL")

	clock.Advance(2 * time.Second)
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, store.ErrNotFound, "record should be gone just after TTL")
}

func TestCacheStore_PutResetsTTL(t *testing.T) {
	s, clock := newMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", models.PendingRecord(), time.Hour))
	clock.Advance(50 * time.Minute)
	require.NoError(t, s.Put(ctx, "a", models.ErrorRecord("failed to enqueue job"), time.Hour))
	clock.Advance(50 * time.Minute)

	rec, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, rec.Status)
}

func TestCacheStore_UpdateWritesFromPending(t *testing.T) {
	s, _ := newMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", models.PendingRecord(), time.Hour))

	rec, err := s.Update(ctx, "a", time.Hour, toCompleted("See: ..."))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, rec.Status)
	assert.Equal(t, "See: ...", rec.Analysis)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, *rec, *got)
}

func TestCacheStore_UpdateSkipReturnsCurrent(t *testing.T) {
	s, _ := newMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", models.CancelledRecord(), time.Hour))

	rec, err := s.Update(ctx, "a", time.Hour, toCompleted("late result"))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, rec.Status)
	assert.Empty(t, rec.Analysis)
}

func TestCacheStore_UpdateNotFound(t *testing.T) {
	s, _ := newMemoryStore()
	_, err := s.Update(context.Background(), "missing", time.Hour, toCancelled)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCacheStore_UpdateRejectsTerminalRewrite(t *testing.T) {
	s, _ := newMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", models.CompletedRecord("done"), time.Hour))

	_, err := s.Update(ctx, "a", time.Hour, func(models.JobRecord) (models.JobRecord, bool) {
		return models.CancelledRecord(), true
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	rec, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, rec.Status)
}

func TestCacheStore_ConcurrentTerminalWritesOneWins(t *testing.T) {
	s, _ := newMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", models.PendingRecord(), time.Hour))

	var wg sync.WaitGroup
	results := make([]*models.JobRecord, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = s.Update(ctx, "a", time.Hour, toCompleted("x"))
	}()
	go func() {
		defer wg.Done()
		results[1], _ = s.Update(ctx, "a", time.Hour, toCancelled)
	}()
	wg.Wait()

	final, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, final.IsTerminal())
	// Both callers observe the same final record.
	assert.Equal(t, final.Status, results[0].Status)
	assert.Equal(t, final.Status, results[1].Status)
}

// --- Reaper ---

type countingExpirer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingExpirer) DeleteExpired(context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return 1, e.err
}

func (e *countingExpirer) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func TestReaper_RunsUntilCancelled(t *testing.T) {
	exp := &countingExpirer{}
	r := store.NewReaper(exp, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return exp.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestReaper_KeepsGoingAfterError(t *testing.T) {
	exp := &countingExpirer{err: errors.New("db down")}
	r := store.NewReaper(exp, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	assert.Eventually(t, func() bool { return exp.Calls() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestReaper_SweepsMemoryCache(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	mc := cache.NewMemoryCacheWithClock(clock.Now)
	s := store.NewCacheStore(mc).WithClock(clock.Now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Put(ctx, uuid.NewString(), models.PendingRecord(), time.Hour))
	}
	_, err := mc.IncrWithExpiry(ctx, "ratelimit:status:10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 101, mc.Len())

	clock.Advance(48 * time.Hour)
	go store.NewReaper(mc, 5*time.Millisecond).Run(ctx)

	assert.Eventually(t, func() bool { return mc.Len() == 0 }, time.Second, 5*time.Millisecond)
}

// --- PostgresStore ---

func TestPostgres_PutGetUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Put(ctx, id, models.PendingRecord(), time.Hour))

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, rec.Status)
	assert.WithinDuration(t, time.Now().Add(time.Hour), rec.ExpiresAt, time.Minute)

	rec, err = s.Update(ctx, id, time.Hour, toCompleted("Se: ..."))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, rec.Status)

	rec, err = s.Update(ctx, id, time.Hour, toCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, rec.Status, "completed must not be overwritten")
	assert.Equal(t, "Se: ...", rec.Analysis)
}

func TestPostgres_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Update(context.Background(), uuid.NewString(), time.Hour, toCancelled)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgres_ExpiredRowsHiddenAndReaped(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, s.Put(ctx, id, models.PendingRecord(), time.Second))
	time.Sleep(1500 * time.Millisecond)

	_, err := s.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgres_ConcurrentTerminalWritesOneWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, s.Put(ctx, id, models.PendingRecord(), time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn := store.UpdateFunc(toCancelled)
			if i%2 == 0 {
				fn = toCompleted("x")
			}
			_, err := s.Update(ctx, id, time.Hour, fn)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.IsTerminal())
}
