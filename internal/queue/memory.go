package queue

import (
	"container/list"
	"context"
	"sync"

	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// MemoryQueue is an in-process Queue. Its contents are lost on restart.
type MemoryQueue struct {
	mu     sync.Mutex
	items  *list.List
	index  map[string]*list.Element
	wake   chan struct{}
	closed bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items: list.New(),
		index: make(map[string]*list.Element),
		wake:  make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job models.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}
	q.index[job.ID] = q.items.PushBack(job)
	q.broadcastLocked()
	return job.ID, nil
}

func (q *MemoryQueue) Size(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len(), nil
}

func (q *MemoryQueue) DequeueNext(ctx context.Context) (models.Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return models.Job{}, ErrClosed
		}
		if front := q.items.Front(); front != nil {
			job := q.items.Remove(front).(models.Job)
			delete(q.index, job.ID)
			q.mu.Unlock()
			return job, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.Job{}, ctx.Err()
		case <-wake:
		}
	}
}

func (q *MemoryQueue) Remove(_ context.Context, token string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.index[token]
	if !ok {
		return false, nil
	}
	q.items.Remove(el)
	delete(q.index, token)
	return true, nil
}

// Close wakes every blocked consumer. Queued jobs are discarded.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.broadcastLocked()
	}
	return nil
}

// broadcastLocked wakes all waiters by closing the current wake channel.
func (q *MemoryQueue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

var _ Queue = (*MemoryQueue)(nil)
