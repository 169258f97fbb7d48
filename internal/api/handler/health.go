package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/visionbench/internal/api/response"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports database and cache connectivity. Any failing probe turns the
// response into a 503.
func Health(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		if err := db.Ping(ctx); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(ctx); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
