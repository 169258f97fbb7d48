package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kiranshivaraju/visionbench/internal/api/response"
)

// Recovery turns a handler panic into a 500 error envelope. If the handler
// already started its response, the connection is left to the server.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("panic recovered",
				"panic", rec,
				"stack", string(debug.Stack()),
				"method", r.Method,
				"route", routePattern(r),
				"request_id", chimw.GetReqID(r.Context()),
			)
			if ww.Status() != 0 {
				return
			}
			response.Error(ww, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(ww, r)
	})
}
