/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging through zap
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the owner/member apps
  5. Actor:      X-Actor-ID into the request context

ROUTE GROUPS:
  /api/messes, /api/mess/{messId}/*   Messes, plans, off-days
  /api/memberships, /api/payment-requests/*
  /api/leaves/*
  /api/credit-management/*            Platform credits (never gated)
  /api/billing/*
  /api/scenarios/*                    Demo data (dev only)

SUBSCRIPTION GATE:
  Writes under /api/mess/{messId} pass RequireActiveSubscription, so a mess
  whose trial and credits have both lapsed gets 403 until it pays.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Gated module names.
const (
	ModuleOffDays = "off-days"
	ModulePlans   = "meal-plans"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))
	r.Use(actorFromHeader)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		writeOK(w, map[string]string{"status": "ok"}, "")
	})

	r.Route("/api", func(r chi.Router) {
		// Mess routes
		r.Post("/messes", h.CreateMess)
		r.Get("/messes/{messId}", h.GetMess)

		r.Route("/mess/{messId}", func(r chi.Router) {
			r.Route("/plans", func(r chi.Router) {
				r.Get("/", h.ListPlans)
				r.With(h.RequireActiveSubscription(ModulePlans)).Post("/", h.CreatePlan)
			})

			r.Route("/off-days", func(r chi.Router) {
				r.Get("/", h.ListOffDays)
				r.Get("/{id}", h.GetOffDay)
				r.Get("/{id}/audit", h.OffDayAudit)

				r.Group(func(r chi.Router) {
					r.Use(h.RequireActiveSubscription(ModuleOffDays))
					r.Post("/", h.CreateOffDay)
					r.Put("/{id}", h.UpdateOffDay)
					r.Delete("/{id}", h.CancelOffDay)
					r.Post("/{id}/resume", h.ResumeOffDay)
				})
			})

			r.Get("/off-day-settings", h.GetOffDaySettings)
			r.Post("/off-day-settings", h.SaveOffDaySettings)
		})

		// Membership routes
		r.Route("/memberships", func(r chi.Router) {
			r.Post("/", h.JoinMess)
			r.Get("/{id}", h.GetMembership)
			r.Get("/{id}/billing", h.MembershipBilling)
		})

		r.Route("/payment-requests/{membershipId}", func(r chi.Router) {
			r.Post("/submit", h.SubmitPaymentRequest)
			r.Post("/approve", h.ApprovePaymentRequest)
			r.Post("/reject", h.RejectPaymentRequest)
		})

		// Leave routes
		r.Route("/leaves", func(r chi.Router) {
			r.Post("/", h.CreateLeave)
			r.Post("/{id}/approve", h.ApproveLeave)
			r.Post("/{id}/reject", h.RejectLeave)
			r.Post("/{id}/cancel", h.CancelLeave)
		})

		// Credit routes
		r.Route("/credit-management", func(r chi.Router) {
			r.Get("/settings", h.GetPlatformSettings)
			r.Put("/settings", h.SavePlatformSettings)

			r.Route("/{messId}", func(r chi.Router) {
				r.Get("/", h.GetCredits)
				r.Get("/status", h.GetSubscriptionStatus)
				r.Get("/transactions", h.CreditTransactions)
				r.Post("/purchase", h.PurchaseCredits)
				r.Post("/adjust", h.AdjustCredits)
				r.Post("/trial", h.ActivateTrial)
			})
		})

		// Billing routes
		r.Route("/billing", func(r chi.Router) {
			r.Post("/", h.CreateBilling)
			r.Get("/{id}", h.GetBilling)
			r.Post("/{id}/adjustments", h.AddBillingAdjustment)
			r.Post("/{id}/pay", h.PayBilling)
			r.Post("/{id}/refund", h.RefundBilling)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
