package analysis

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/textpulse/internal/ai"
)

var (
	// ErrNotFound means the job ID is unknown or its record has expired.
	ErrNotFound = errors.New("job not found")
	// ErrInfrastructure wraps store and queue failures. Callers surface it as
	// a failed request; the job's state is unknown.
	ErrInfrastructure = errors.New("job infrastructure unavailable")
)

// ValidationError rejects a submission before any job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ProviderError is a failed analysis attempt. It is never returned to an HTTP
// caller; the worker records it as the job's error status.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("analysis provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// errPanic marks a provider call that panicked.
var errPanic = errors.New("provider panicked")

// Message is the text stored on the job record for the poller to read.
func (e *ProviderError) Message() string {
	switch {
	case errors.Is(e.Err, ai.ErrInferenceTimeout):
		return "Analysis timed out"
	case errors.Is(e.Err, ai.ErrInvalidResponse):
		return "Invalid response from provider"
	case errors.Is(e.Err, ai.ErrProviderUnavailable):
		return "Analysis provider unavailable"
	case errors.Is(e.Err, ai.ErrRequestRejected):
		return "Analysis request rejected by provider"
	case errors.Is(e.Err, errPanic):
		return "Analysis failed"
	default:
		return e.Err.Error()
	}
}

// failedToEnqueue is recorded when a pending record was written but the job
// never reached the queue.
const failedToEnqueue = "failed to enqueue job"

// recordUnreadable is recorded when a dequeued job's record could not be read.
const recordUnreadable = "Job state unavailable"
