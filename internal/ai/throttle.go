package ai

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/textpulse/pkg/models"
	"golang.org/x/time/rate"
)

// Throttled wraps a provider so that outbound calls never exceed a fixed rate.
// Workers block in Analyze until a token is available or ctx ends.
type Throttled struct {
	next    models.AIProvider
	limiter *rate.Limiter
}

// NewThrottled returns p unchanged when rps <= 0.
func NewThrottled(p models.AIProvider, rps float64) models.AIProvider {
	if rps <= 0 {
		return p
	}
	return &Throttled{next: p, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (t *Throttled) Name() string { return t.next.Name() }

func (t *Throttled) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: waiting for provider slot: %v", ErrInferenceTimeout, err)
	}
	return t.next.Analyze(ctx, req)
}

var _ models.AIProvider = (*Throttled)(nil)
