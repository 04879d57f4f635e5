package mock

import (
	"context"

	"github.com/kiranshivaraju/textpulse/internal/ai"
	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// CannedAnalysis is the answer NewMockProvider returns for every request.
const CannedAnalysis = "See:\n- Mock awareness point\nThink:\n- Mock consideration point\n" +
	"Do:\n- Mock conversion point\nCare:\n- Mock loyalty point"

// MockProvider satisfies models.AIProvider for testing.
type MockProvider struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, req models.AnalysisRequest) (string, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return "", nil
}

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (string, error) {
			return CannedAnalysis, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.AnalysisRequest) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
	}
}

// NewGatedProvider returns a MockProvider whose calls signal on started and
// then block until release is closed. Tests use it to hold a job mid-flight.
func NewGatedProvider(started chan<- string, release <-chan struct{}) *MockProvider {
	return &MockProvider{
		Name_: "mock-gated",
		AnalyzeFunc: func(_ context.Context, req models.AnalysisRequest) (string, error) {
			started <- req.JobID
			<-release
			return CannedAnalysis, nil
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
