package models

import (
	"time"
)

const (
	JobStatusPending   = "pending"
	JobStatusCompleted = "completed"
	JobStatusCancelled = "cancelled"
	JobStatusError     = "error"
)

// IsTerminalStatus reports whether status is one of the final job states.
// A record in a terminal state is never rewritten.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusCancelled, JobStatusError:
		return true
	default:
		return false
	}
}

// Job is one submitted text-analysis request. The API returns the job ID on
// POST /api/analysis; the client polls GET /api/analysis/{id} until the record
// reaches a terminal status. Jobs are immutable after submission.
type Job struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// JobRecord is the stored status of a Job, keyed by Job.ID.
// Analysis is set only when completed; Message only when error.
type JobRecord struct {
	Status    string    `json:"status"`
	Analysis  string    `json:"analysis,omitempty"`
	Message   string    `json:"message,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PendingRecord returns the initial record written at submission.
func PendingRecord() JobRecord {
	return JobRecord{Status: JobStatusPending}
}

// CompletedRecord returns a terminal record carrying the analysis text.
func CompletedRecord(analysis string) JobRecord {
	return JobRecord{Status: JobStatusCompleted, Analysis: analysis}
}

// CancelledRecord returns a terminal cancelled record.
func CancelledRecord() JobRecord {
	return JobRecord{Status: JobStatusCancelled}
}

// ErrorRecord returns a terminal record carrying a failure message.
func ErrorRecord(message string) JobRecord {
	return JobRecord{Status: JobStatusError, Message: message}
}

// IsTerminal reports whether the record is in a final state.
func (r JobRecord) IsTerminal() bool {
	return IsTerminalStatus(r.Status)
}
