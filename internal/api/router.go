package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/visionbench/internal/api/middleware"
	"github.com/kiranshivaraju/visionbench/internal/api/response"
	"github.com/kiranshivaraju/visionbench/internal/apikey"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Metrics   *mw.Metrics

	HealthHandler http.HandlerFunc

	GetEvaluation      http.HandlerFunc
	EvaluationProgress http.HandlerFunc
	EstimateEvaluation http.HandlerFunc
	StartEvaluation    http.HandlerFunc
	CancelEvaluation   http.HandlerFunc
	EvaluationResults  http.HandlerFunc

	CreateImport http.HandlerFunc
	GetImport    http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Instrument)
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/evaluations/{evaluationID}", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.GetEvaluation))
			r.Get("/progress", orNotImplemented(deps.EvaluationProgress))
			r.Get("/estimate", orNotImplemented(deps.EstimateEvaluation))
			r.Get("/results", orNotImplemented(deps.EvaluationResults))

			r.With(deps.Auth.RequireScope(apikey.ScopeWrite)).
				Post("/start", orNotImplemented(deps.StartEvaluation))
			r.With(deps.Auth.RequireScope(apikey.ScopeWrite)).
				Post("/cancel", orNotImplemented(deps.CancelEvaluation))
		})

		r.With(deps.Auth.RequireScope(apikey.ScopeWrite)).
			Post("/api/v1/datasets/{datasetID}/imports", orNotImplemented(deps.CreateImport))
		r.Get("/api/v1/imports/{jobID}", orNotImplemented(deps.GetImport))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(apikey.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
