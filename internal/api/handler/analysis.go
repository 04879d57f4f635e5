package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/textpulse/internal/analysis"
	"github.com/kiranshivaraju/textpulse/internal/api/response"
	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// AnalysisService defines the job operations the handlers depend on.
type AnalysisService interface {
	Submit(ctx context.Context, text, model string) (*analysis.Submission, error)
	Status(ctx context.Context, id string) (*models.JobRecord, error)
	Cancel(ctx context.Context, id string) (*analysis.CancelResult, error)
}

type submitRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type submitResponse struct {
	ID                   string  `json:"id"`
	EstimatedWait        string  `json:"estimated_wait"`
	EstimatedWaitSeconds float64 `json:"estimated_wait_seconds"`
}

type statusResponse struct {
	Status   string `json:"status"`
	Analysis string `json:"analysis,omitempty"`
	Message  string `json:"message,omitempty"`
}

type cancelResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/analysis.
func NewSubmitHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := decodeBody(w, r, submitSchema, &req); err != nil {
			writeBodyError(w, err)
			return
		}

		sub, err := svc.Submit(r.Context(), req.Text, req.Model)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.Accepted(w, submitResponse{
			ID:                   sub.ID,
			EstimatedWait:        analysis.FormatWait(sub.EstimatedWait),
			EstimatedWaitSeconds: sub.EstimatedWait,
		})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/analysis/{id}.
func NewStatusHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Status(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, statusResponse{
			Status:   rec.Status,
			Analysis: rec.Analysis,
			Message:  rec.Message,
		})
	}
}

// NewCancelHandler returns an http.HandlerFunc for DELETE /api/analysis/{id}.
func NewCancelHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Cancel(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, cancelResponse{Status: res.Record.Status, Message: res.Message})
	}
}

func writeBodyError(w http.ResponseWriter, err error) {
	var sErr *schemaError
	switch {
	case errors.As(err, &sErr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"Request body must contain string fields text and model", sErr.Problems)
	case errors.Is(err, errMalformedBody):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
	default:
		slog.Error("decoding request body", "error", err)
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", nil)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	var vErr *analysis.ValidationError
	switch {
	case errors.As(err, &vErr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", vErr.Message,
			map[string]string{"field": vErr.Field})
	case errors.Is(err, analysis.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.Is(err, analysis.ErrInfrastructure):
		slog.Error("job infrastructure failure", "error", err)
		response.Error(w, http.StatusServiceUnavailable, "INFRASTRUCTURE_ERROR",
			"The job service is temporarily unavailable", nil)
	default:
		slog.Error("unexpected service error", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
