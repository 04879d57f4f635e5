package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/textpulse/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrInvalidTransition = errors.New("invalid job status transition")

// UpdateFunc inspects the current record and returns the replacement.
// Returning write=false leaves the stored record untouched.
type UpdateFunc func(current models.JobRecord) (next models.JobRecord, write bool)

// Store persists JobRecords keyed by job ID. Records expire ttl after their
// last write; expired records are indistinguishable from absent ones.
type Store interface {
	Ping(ctx context.Context) error

	// Put creates or replaces the whole record and restarts its TTL.
	Put(ctx context.Context, id string, rec models.JobRecord, ttl time.Duration) error
	// Get returns ErrNotFound if the record is absent or expired.
	Get(ctx context.Context, id string) (*models.JobRecord, error)
	// Update atomically reads the record and applies fn. It returns the record
	// as stored once the call completes, whether or not fn chose to write.
	Update(ctx context.Context, id string, ttl time.Duration, fn UpdateFunc) (*models.JobRecord, error)
}

var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusCompleted, models.JobStatusCancelled, models.JobStatusError},
}

// checkTransition rejects any write that would move a record out of a
// terminal state.
func checkTransition(from, to string) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
