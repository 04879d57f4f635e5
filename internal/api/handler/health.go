package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/textpulse/internal/api/response"
)

const healthTimeout = 2 * time.Second

// Pinger is any backend the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthCheck names one backend to probe.
type HealthCheck struct {
	Name   string
	Pinger Pinger
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/health.
// Any failed check turns the response into 503 with status "degraded".
func NewHealthHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		body := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		for _, c := range checks {
			if err := c.Pinger.Ping(ctx); err != nil {
				body.Checks[c.Name] = err.Error()
				body.Status = "degraded"
				continue
			}
			body.Checks[c.Name] = "ok"
		}

		if body.Status != "ok" {
			response.Status(w, http.StatusServiceUnavailable, body)
			return
		}
		response.JSON(w, body)
	}
}
