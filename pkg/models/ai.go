// Package models contains shared data models used across the textpulse codebase.
package models

import (
	"context"
)

// AIProvider is the core interface that all AI integrations must implement.
// Callers depend on this interface, never on a concrete provider.
type AIProvider interface {
	// Analyze runs the configured analysis prompt over req.Text with req.Model
	// and returns the provider's free-form answer.
	Analyze(ctx context.Context, req AnalysisRequest) (string, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}

// AnalysisRequest is the input to an AI analysis operation.
type AnalysisRequest struct {
	JobID string
	Text  string
	Model string
}
