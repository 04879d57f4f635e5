// Package queue holds submitted jobs until a worker claims them.
//
// Jobs leave the queue in the order they were enqueued. Each job is handed to
// exactly one consumer, and a job that has been handed out can no longer be
// removed.
package queue

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// ErrClosed is returned by DequeueNext once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO of jobs waiting for a worker.
// Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue appends job and returns a token for Remove. It never waits for
	// a consumer.
	Enqueue(ctx context.Context, job models.Job) (string, error)
	// Size counts jobs not yet claimed by a worker.
	Size(ctx context.Context) (int, error)
	// DequeueNext blocks until a job is available, ctx ends, or the queue closes.
	DequeueNext(ctx context.Context) (models.Job, error)
	// Remove drops a queued job. It reports false if the job was already
	// claimed or never existed.
	Remove(ctx context.Context, token string) (bool, error)
	Close() error
}
