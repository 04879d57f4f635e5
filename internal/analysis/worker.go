package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/textpulse/internal/ai"
	"github.com/kiranshivaraju/textpulse/internal/queue"
	"github.com/kiranshivaraju/textpulse/internal/store"
	"github.com/kiranshivaraju/textpulse/pkg/models"
)

const dequeueBackoff = time.Second

// Pool runs a fixed number of workers that take jobs off the queue, call the
// provider and record the outcome. Workers talk to the rest of the system
// only through store writes.
type Pool struct {
	queue    queue.Queue
	store    store.Store
	provider models.AIProvider
	ttl      time.Duration

	workers  int
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type PoolOption func(*Pool)

func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithInferenceTimeout bounds each provider call.
func WithInferenceTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithPoolRecorder(r Recorder) PoolOption {
	return func(p *Pool) {
		if r != nil {
			p.recorder = r
		}
	}
}

func NewPool(q queue.Queue, st store.Store, provider models.AIProvider, ttl time.Duration, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:    q,
		store:    st,
		provider: provider,
		ttl:      ttl,
		workers:  1,
		timeout:  60 * time.Second,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.run(ctx, i+1)
		}
	})
}

// Shutdown stops dequeuing and waits for in-flight jobs to be recorded, or
// for ctx to end, whichever comes first.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("worker shutdown interrupted by context")
		return ctx.Err()
	case <-done:
		p.logger.Info("workers drained, shutdown complete")
		return nil
	}
}

func (p *Pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()
	p.logger.Info("worker started", "worker_id", workerID)
	defer p.logger.Info("worker stopped", "worker_id", workerID)

	for {
		job, err := p.queue.DequeueNext(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			p.logger.Error("dequeue failed", "worker_id", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}

		// A job already claimed is finished even if shutdown has begun.
		p.process(context.WithoutCancel(ctx), workerID, job)
	}
}

func (p *Pool) process(ctx context.Context, workerID int, job models.Job) {
	log := p.logger.With("worker_id", workerID, "job_id", job.ID, "model", job.Model)

	rec, err := p.store.Get(ctx, job.ID)
	if errors.Is(err, store.ErrNotFound) {
		p.recorder.JobSkipped()
		log.Info("skipping job, record expired")
		return
	}
	if err != nil {
		log.Error("reading job record", "error", err)
		p.failUnread(ctx, log, job.ID)
		return
	}
	if rec.Status != models.JobStatusPending {
		p.recorder.JobSkipped()
		log.Info("skipping job", "status", rec.Status)
		return
	}

	start := time.Now()
	done := p.recorder.JobStarted(job.Model)
	analysis, err := p.analyze(ctx, job)
	done()

	next := models.CompletedRecord(analysis)
	if err != nil {
		var pErr *ProviderError
		if errors.As(err, &pErr) {
			next = models.ErrorRecord(pErr.Message())
		} else {
			next = models.ErrorRecord(err.Error())
		}
		log.Warn("analysis failed", "error", err)
	}

	wrote := false
	final, err := p.store.Update(ctx, job.ID, p.ttl, func(cur models.JobRecord) (models.JobRecord, bool) {
		// fn may run more than once if the store retries.
		wrote = cur.Status == models.JobStatusPending
		if !wrote {
			return cur, false
		}
		return next, true
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn("job record expired before result was written")
	case err != nil:
		log.Error("writing job result", "error", err)
	case !wrote:
		p.recorder.JobSkipped()
		log.Info("discarding result, job no longer pending", "status", final.Status)
	default:
		p.recorder.JobFinished(final.Status)
		log.Info("job finished", "status", final.Status, "duration_ms", time.Since(start).Milliseconds())
	}
}

// failUnread makes a best-effort attempt to error out a job whose record
// could not be read, so pollers do not wait on a pending record nobody holds.
func (p *Pool) failUnread(ctx context.Context, log *slog.Logger, id string) {
	wrote := false
	_, err := p.store.Update(ctx, id, p.ttl, func(cur models.JobRecord) (models.JobRecord, bool) {
		wrote = cur.Status == models.JobStatusPending
		if !wrote {
			return cur, false
		}
		return models.ErrorRecord(recordUnreadable), true
	})
	if err == nil && wrote {
		p.recorder.JobFinished(models.JobStatusError)
		return
	}
	if err != nil {
		log.Error("dropping job, record could not be marked failed", "error", err)
	}
	p.recorder.JobSkipped()
}

// analyze calls the provider under the inference timeout. Panics and empty
// answers come back as *ProviderError like any other failure.
func (p *Pool) analyze(ctx context.Context, job models.Job) (out string, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			out, err = "", &ProviderError{Err: fmt.Errorf("%w: %v", errPanic, r)}
		}
	}()

	out, err = p.provider.Analyze(ctx, models.AnalysisRequest{JobID: job.ID, Text: job.Text, Model: job.Model})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ai.ErrInferenceTimeout) {
			err = fmt.Errorf("%w: %w", ai.ErrInferenceTimeout, err)
		}
		return "", &ProviderError{Err: err}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", &ProviderError{Err: fmt.Errorf("%w: empty analysis", ai.ErrInvalidResponse)}
	}
	return out, nil
}
