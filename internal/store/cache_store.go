package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/textpulse/internal/cache"
	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// CacheStore keeps JobRecords as JSON values in a cache.Cache, relying on the
// cache's own key expiry for TTL.
type CacheStore struct {
	cache cache.Cache
	now   func() time.Time
}

func NewCacheStore(c cache.Cache) *CacheStore {
	return &CacheStore{cache: c, now: time.Now}
}

// WithClock overrides the clock used to stamp ExpiresAt. It should match the
// clock of the underlying cache.
func (s *CacheStore) WithClock(now func() time.Time) *CacheStore {
	s.now = now
	return s
}

func (s *CacheStore) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

func (s *CacheStore) Put(ctx context.Context, id string, rec models.JobRecord, ttl time.Duration) error {
	rec.ExpiresAt = s.now().Add(ttl).UTC()
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	if err := s.cache.Set(ctx, cache.JobKey(id), b, ttl); err != nil {
		return fmt.Errorf("put job record: %w", err)
	}
	return nil
}

func (s *CacheStore) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	b, found, err := s.cache.Get(ctx, cache.JobKey(id))
	if err != nil {
		return nil, fmt.Errorf("get job record: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	var rec models.JobRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	return &rec, nil
}

func (s *CacheStore) Update(ctx context.Context, id string, ttl time.Duration, fn UpdateFunc) (*models.JobRecord, error) {
	var result models.JobRecord
	_, err := s.cache.Update(ctx, cache.JobKey(id), ttl, func(cur []byte, found bool) ([]byte, bool, error) {
		if !found {
			return nil, false, ErrNotFound
		}
		var current models.JobRecord
		if err := json.Unmarshal(cur, &current); err != nil {
			return nil, false, fmt.Errorf("decode job record: %w", err)
		}

		next, write := fn(current)
		if !write {
			result = current
			return nil, false, nil
		}
		if err := checkTransition(current.Status, next.Status); err != nil {
			return nil, false, err
		}

		next.ExpiresAt = s.now().Add(ttl).UTC()
		b, err := json.Marshal(next)
		if err != nil {
			return nil, false, fmt.Errorf("encode job record: %w", err)
		}
		result = next
		return b, true, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

var _ Store = (*CacheStore)(nil)
