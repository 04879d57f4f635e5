// Package analysis runs the text-analysis job lifecycle: submission with a
// wait estimate, background execution by a worker pool, status lookups and
// cancellation.
//
// Every transition out of pending goes through store.Store.Update, so a
// worker completion and a cancellation for the same job can never both
// land. Whichever commits first wins and the other is discarded.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/textpulse/internal/queue"
	"github.com/kiranshivaraju/textpulse/internal/store"
	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// NoteAlreadyCompleted accompanies a cancel request that arrived too late.
const NoteAlreadyCompleted = "Job already completed"

// Recorder receives lifecycle events. *metrics.Collector satisfies it.
type Recorder interface {
	JobSubmitted(model string)
	JobRejected(field string)
	JobFinished(status string)
	JobSkipped()
	JobStarted(model string) func()
}

type nopRecorder struct{}

func (nopRecorder) JobSubmitted(string)      {}
func (nopRecorder) JobRejected(string)       {}
func (nopRecorder) JobFinished(string)       {}
func (nopRecorder) JobSkipped()              {}
func (nopRecorder) JobStarted(string) func() { return func() {} }

// Submission is the result of an accepted job.
type Submission struct {
	ID            string
	EstimatedWait float64
}

// CancelResult is the record after a cancel request plus an optional
// informational message. The message is never stored.
type CancelResult struct {
	Record  models.JobRecord
	Message string
}

// Service is the synchronous face of the job lifecycle used by the API.
type Service struct {
	store     store.Store
	queue     queue.Queue
	validator *Validator
	ttl       time.Duration

	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithIDGenerator replaces uuid.NewString for job IDs.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(st store.Store, q queue.Queue, v *Validator, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		store:     st,
		queue:     q,
		validator: v,
		ttl:       ttl,
		logger:    slog.Default(),
		recorder:  nopRecorder{},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Submit validates the request, records the job as pending and enqueues it.
// The wait estimate uses the queue depth observed just before enqueueing.
func (s *Service) Submit(ctx context.Context, text, model string) (*Submission, error) {
	clean, cost, err := s.validator.Validate(text, model)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			s.recorder.JobRejected(vErr.Field)
		}
		return nil, err
	}

	id := s.newID()
	if err := s.store.Put(ctx, id, models.PendingRecord(), s.ttl); err != nil {
		return nil, fmt.Errorf("%w: writing pending record: %w", ErrInfrastructure, err)
	}

	depth, err := s.queue.Size(ctx)
	if err != nil {
		s.failPending(ctx, id)
		return nil, fmt.Errorf("%w: reading queue depth: %w", ErrInfrastructure, err)
	}

	job := models.Job{ID: id, Text: clean, Model: model, CreatedAt: s.now().UTC()}
	if _, err := s.queue.Enqueue(ctx, job); err != nil {
		s.failPending(ctx, id)
		return nil, fmt.Errorf("%w: enqueueing job: %w", ErrInfrastructure, err)
	}

	wait := Estimate(depth, cost)
	s.recorder.JobSubmitted(model)
	s.logger.Info("job submitted", "job_id", id, "model", model, "queue_depth", depth, "estimated_wait_s", wait)
	return &Submission{ID: id, EstimatedWait: wait}, nil
}

// failPending replaces a pending record whose job never reached the queue, so
// no poller waits on a job nobody will run.
func (s *Service) failPending(ctx context.Context, id string) {
	if err := s.store.Put(ctx, id, models.ErrorRecord(failedToEnqueue), s.ttl); err != nil {
		s.logger.Error("marking unqueued job failed", "job_id", id, "error", err)
	}
}

func (s *Service) Status(ctx context.Context, id string) (*models.JobRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeError("reading job record", err)
	}
	return rec, nil
}

// Cancel stops a pending job. Terminal jobs are returned unchanged; a
// completed job carries NoteAlreadyCompleted and a failed job its failure
// message. Cancelling twice is harmless.
func (s *Service) Cancel(ctx context.Context, id string) (*CancelResult, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeError("reading job record", err)
	}
	if rec.IsTerminal() {
		return cancelResult(*rec), nil
	}

	// Tokens are job IDs for every queue implementation.
	removed, err := s.queue.Remove(ctx, id)
	if err != nil {
		s.logger.Warn("removing cancelled job from queue", "job_id", id, "error", err)
	}

	wrote := false
	final, err := s.store.Update(ctx, id, s.ttl, func(cur models.JobRecord) (models.JobRecord, bool) {
		// fn may run more than once if the store retries.
		wrote = cur.Status == models.JobStatusPending
		if !wrote {
			return cur, false
		}
		return models.CancelledRecord(), true
	})
	if err != nil {
		return nil, s.storeError("cancelling job", err)
	}

	if wrote {
		s.recorder.JobFinished(models.JobStatusCancelled)
		s.logger.Info("job cancelled", "job_id", id, "removed_from_queue", removed)
	}
	return cancelResult(*final), nil
}

func cancelResult(rec models.JobRecord) *CancelResult {
	res := &CancelResult{Record: rec}
	switch rec.Status {
	case models.JobStatusCompleted:
		res.Message = NoteAlreadyCompleted
	case models.JobStatusError:
		res.Message = rec.Message
	}
	return res
}

func (s *Service) storeError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrInfrastructure, op, err)
}
