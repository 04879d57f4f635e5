package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
// Expired rows are filtered on read and removed by a Reaper.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Put(ctx context.Context, id string, rec models.JobRecord, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl).UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_records (id, status, analysis, message, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   analysis = EXCLUDED.analysis,
		   message = EXCLUDED.message,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = now()`,
		id, rec.Status, rec.Analysis, rec.Message, expiresAt)
	if err != nil {
		return fmt.Errorf("put job record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	var r models.JobRecord
	err := s.pool.QueryRow(ctx,
		`SELECT status, analysis, message, expires_at
		 FROM job_records WHERE id = $1 AND expires_at > $2`, id, s.now().UTC(),
	).Scan(&r.Status, &r.Analysis, &r.Message, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job record: %w", err)
	}
	return &r, nil
}

// Update locks the row with SELECT ... FOR UPDATE so that a worker
// completion and a cancellation for the same job serialize.
func (s *PostgresStore) Update(ctx context.Context, id string, ttl time.Duration, fn UpdateFunc) (*models.JobRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var current models.JobRecord
	err = tx.QueryRow(ctx,
		`SELECT status, analysis, message, expires_at
		 FROM job_records WHERE id = $1 AND expires_at > $2 FOR UPDATE`, id, s.now().UTC(),
	).Scan(&current.Status, &current.Analysis, &current.Message, &current.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job record: %w", err)
	}

	next, write := fn(current)
	if !write {
		return &current, nil
	}
	if err := checkTransition(current.Status, next.Status); err != nil {
		return nil, err
	}

	next.ExpiresAt = s.now().Add(ttl).UTC()
	_, err = tx.Exec(ctx,
		`UPDATE job_records
		 SET status = $2, analysis = $3, message = $4, expires_at = $5, updated_at = now()
		 WHERE id = $1`,
		id, next.Status, next.Analysis, next.Message, next.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("update job record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return &next, nil
}

// DeleteExpired removes rows whose TTL has passed and returns how many.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM job_records WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired job records: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Store = (*PostgresStore)(nil)
