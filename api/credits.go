package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smartmess/billing-engine/credits"
	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// CREDIT MANAGEMENT HANDLERS
// =============================================================================

// GetCredits returns the mess's credit record, creating an empty one on
// first access.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	c, err := h.Credits.GetOrCreate(r.Context(), chi.URLParam(r, "messId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, c, "")
}

func (h *Handler) GetSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.Gate.CheckStatus(r.Context(), chi.URLParam(r, "messId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, s, "")
}

func (h *Handler) CreditTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Credits.Transactions(r.Context(), chi.URLParam(r, "messId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if txs == nil {
		txs = []generic.Transaction{}
	}
	writeOK(w, txs, "")
}

func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	var req PurchaseCreditsRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Credits.Purchase(r.Context(), credits.PurchaseInput{
		MessID:         chi.URLParam(r, "messId"),
		Amount:         req.Amount,
		PlanID:         req.PlanID,
		ActorID:        actorID(r),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, c, "Credits purchased")
}

func (h *Handler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	var req AdjustCreditsRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Credits.Adjust(r.Context(), credits.AdjustInput{
		MessID:      chi.URLParam(r, "messId"),
		Amount:      req.Amount,
		Description: req.Description,
		ActorID:     actorID(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, c, "Credits adjusted")
}

// ActivateTrial starts the one free trial a mess gets.
func (h *Handler) ActivateTrial(w http.ResponseWriter, r *http.Request) {
	c, err := h.Credits.ActivateTrial(r.Context(), chi.URLParam(r, "messId"), actorID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, c, "Trial activated")
}

// =============================================================================
// PLATFORM SETTINGS
// =============================================================================

func (h *Handler) GetPlatformSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Credits.Settings(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, s, "")
}

func (h *Handler) SavePlatformSettings(w http.ResponseWriter, r *http.Request) {
	var req PlatformSettingsRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Credits.SaveSettings(r.Context(), mess.PlatformSettings{
		TrialEnabled:      req.TrialEnabled,
		TrialDurationDays: req.TrialDurationDays,
		CreditsPerMember:  req.CreditsPerMember,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, s, "Platform settings saved")
}
