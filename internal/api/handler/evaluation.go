package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/visionbench/internal/api/response"
	"github.com/kiranshivaraju/visionbench/internal/evaluation"
	"github.com/kiranshivaraju/visionbench/internal/store"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

const (
	defaultResultsLimit = 50
	maxResultsLimit     = 500
)

// Evaluations is the part of the evaluation service the handlers depend on.
type Evaluations interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Evaluation, error)
	Progress(ctx context.Context, id uuid.UUID) (*models.EvaluationProgress, error)
	Estimate(ctx context.Context, id uuid.UUID) (*models.CostEstimate, error)
	Start(ctx context.Context, id uuid.UUID) (*models.Evaluation, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Results(ctx context.Context, id uuid.UUID, filter models.ResultFilter, skip, limit int) ([]*models.EvaluationResult, int, error)
}

// EvaluationHandlers serves the /api/v1/evaluations routes.
type EvaluationHandlers struct {
	svc Evaluations
}

func NewEvaluationHandlers(svc Evaluations) *EvaluationHandlers {
	return &EvaluationHandlers{svc: svc}
}

// Get handles GET /api/v1/evaluations/{evaluationID}.
func (h *EvaluationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "evaluationID")
	if !ok {
		return
	}
	ev, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeEvaluationError(w, err)
		return
	}
	response.JSON(w, ev)
}

// Progress handles GET /api/v1/evaluations/{evaluationID}/progress.
func (h *EvaluationHandlers) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "evaluationID")
	if !ok {
		return
	}
	p, err := h.svc.Progress(r.Context(), id)
	if err != nil {
		writeEvaluationError(w, err)
		return
	}
	response.JSON(w, p)
}

// Estimate handles GET /api/v1/evaluations/{evaluationID}/estimate.
func (h *EvaluationHandlers) Estimate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "evaluationID")
	if !ok {
		return
	}
	est, err := h.svc.Estimate(r.Context(), id)
	if err != nil {
		writeEvaluationError(w, err)
		return
	}
	response.JSON(w, est)
}

// Start handles POST /api/v1/evaluations/{evaluationID}/start. The run continues
// in the background; clients poll the evaluation or its progress.
func (h *EvaluationHandlers) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "evaluationID")
	if !ok {
		return
	}
	ev, err := h.svc.Start(r.Context(), id)
	if err != nil {
		writeEvaluationError(w, err)
		return
	}
	response.Accepted(w, ev)
}

// Cancel handles POST /api/v1/evaluations/{evaluationID}/cancel.
func (h *EvaluationHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "evaluationID")
	if !ok {
		return
	}
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		writeEvaluationError(w, err)
		return
	}
	ev, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeEvaluationError(w, err)
		return
	}
	response.Accepted(w, ev)
}

// Results handles GET /api/v1/evaluations/{evaluationID}/results.
func (h *EvaluationHandlers) Results(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "evaluationID")
	if !ok {
		return
	}

	q := r.URL.Query()
	skip, err := intParam(q.Get("skip"), 0)
	if err != nil || skip < 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "skip must be a non-negative integer", nil)
		return
	}
	limit, err := intParam(q.Get("limit"), defaultResultsLimit)
	if err != nil || limit < 1 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
		return
	}
	limit = min(limit, maxResultsLimit)

	results, total, err := h.svc.Results(r.Context(), id, models.ResultFilter(q.Get("filter")), skip, limit)
	if err != nil {
		writeEvaluationError(w, err)
		return
	}

	if results == nil {
		results = []*models.EvaluationResult{}
	}
	response.Collection(w, results, response.Paged(skip, limit, len(results), total))
}

func writeEvaluationError(w http.ResponseWriter, err error) {
	var verr *evaluation.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, verr.Code, verr.Err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Evaluation not found", nil)
	case errors.Is(err, evaluation.ErrNotPending):
		response.Error(w, http.StatusConflict, "NOT_PENDING", err.Error(), nil)
	case errors.Is(err, evaluation.ErrAlreadyDone):
		response.Error(w, http.StatusConflict, "ALREADY_FINISHED", err.Error(), nil)
	case errors.Is(err, evaluation.ErrNotOwned):
		response.Error(w, http.StatusConflict, "NOT_OWNED", err.Error(), nil)
	default:
		slog.Error("evaluation request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
