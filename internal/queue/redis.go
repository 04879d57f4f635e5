package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/textpulse/internal/cache"
	"github.com/kiranshivaraju/textpulse/pkg/models"
	"github.com/redis/go-redis/v9"
)

const defaultPollTimeout = time.Second

// RedisQueue keeps job IDs in a Redis list and each job body under its own key.
// BLPOP and LREM on the list are atomic, so a job is either claimed by one
// worker or removed by one canceller, never both.
type RedisQueue struct {
	client      *redis.Client
	payloadTTL  time.Duration
	pollTimeout time.Duration
	closed      atomic.Bool
}

// NewRedisQueue creates a queue on client. payloadTTL bounds how long an
// unclaimed job body is kept and should match the job TTL.
func NewRedisQueue(client *redis.Client, payloadTTL time.Duration) *RedisQueue {
	return &RedisQueue{client: client, payloadTTL: payloadTTL, pollTimeout: defaultPollTimeout}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job models.Job) (string, error) {
	if q.closed.Load() {
		return "", ErrClosed
	}
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, cache.QueuePayloadKey(job.ID), b, q.payloadTTL)
		pipe.RPush(ctx, cache.QueueKey, job.ID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, cache.QueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return int(n), nil
}

// DequeueNext polls with BLPOP so that ctx cancellation and Close are noticed
// within one poll interval.
func (q *RedisQueue) DequeueNext(ctx context.Context) (models.Job, error) {
	for {
		if q.closed.Load() {
			return models.Job{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return models.Job{}, err
		}

		res, err := q.client.BLPop(ctx, q.pollTimeout, cache.QueueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return models.Job{}, ctx.Err()
			}
			return models.Job{}, fmt.Errorf("dequeue job: %w", err)
		}

		// res is [key, value].
		id := res[1]
		// The ID is already claimed; finish reading its payload even during shutdown.
		b, err := q.client.GetDel(context.WithoutCancel(ctx), cache.QueuePayloadKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			slog.Warn("queued job payload expired", "job_id", id)
			continue
		}
		if err != nil {
			return models.Job{}, fmt.Errorf("load job payload: %w", err)
		}

		var job models.Job
		if err := json.Unmarshal(b, &job); err != nil {
			slog.Error("discarding undecodable job payload", "job_id", id, "error", err)
			continue
		}
		return job, nil
	}
}

func (q *RedisQueue) Remove(ctx context.Context, token string) (bool, error) {
	n, err := q.client.LRem(ctx, cache.QueueKey, 1, token).Result()
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := q.client.Del(ctx, cache.QueuePayloadKey(token)).Err(); err != nil {
		slog.Warn("deleting removed job payload", "job_id", token, "error", err)
	}
	return true, nil
}

// Close stops consumers. The Redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

var _ Queue = (*RedisQueue)(nil)
