package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/smartmess/billing-engine/logging"
)

// =============================================================================
// MIDDLEWARE
// =============================================================================

type ctxKey int

const actorKey ctxKey = iota

// ActorHeader carries the caller's user id. Authentication happens upstream.
const ActorHeader = "X-Actor-ID"

// actorFromHeader stores X-Actor-ID in the request context. Requests
// without one act as "system".
func actorFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(ActorHeader)
		if actor == "" {
			actor = "system"
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorID(r *http.Request) string {
	if a, ok := r.Context().Value(actorKey).(string); ok {
		return a
	}
	return "system"
}

// requestLogger logs one line per request through the structured logger.
func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			details := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
				"actor_id":    r.Header.Get(ActorHeader),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn("HTTP", "Request completed with server error", details)
				return
			}
			logger.Info("HTTP", "Request completed", details)
		})
	}
}

// RequireActiveSubscription answers 403 when the mess in the {messId} URL
// parameter may not use module.
func (h *Handler) RequireActiveSubscription(module string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			messID := chi.URLParam(r, "messId")
			ok, err := h.Gate.CanAccessModule(r.Context(), messID, module)
			if err != nil {
				h.writeServiceError(w, r, err)
				return
			}
			if !ok {
				writeError(w, http.StatusForbidden, "Platform subscription inactive. Purchase credits to continue.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
