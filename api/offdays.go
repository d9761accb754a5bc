package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/meals"
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// OFF DAY HANDLERS
// =============================================================================

// ListOffDays supports ?status=active|cancelled and ?from=/&to= dates.
func (h *Handler) ListOffDays(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := mess.OffDayFilter{
		MessID: chi.URLParam(r, "messId"),
		Status: mess.OffDayStatus(q.Get("status")),
	}
	var err error
	if s := q.Get("from"); s != "" {
		if filter.From, err = generic.ParseDate(s); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}
	if s := q.Get("to"); s != "" {
		if filter.To, err = generic.ParseDate(s); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	offDays, err := h.OffDays.ListOffDays(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if offDays == nil {
		offDays = []mess.OffDay{}
	}
	writeOK(w, offDays, "")
}

func (h *Handler) CreateOffDay(w http.ResponseWriter, r *http.Request) {
	var req CreateOffDayRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.OffDays.CreateOffDay(r.Context(), meals.CreateOffDayInput{
		MessID:                chi.URLParam(r, "messId"),
		ActorID:               actorID(r),
		Date:                  req.Date,
		StartDate:             req.StartDate,
		EndDate:               req.EndDate,
		Reason:                req.Reason,
		MealTypes:             req.MealTypes,
		StartDateMealTypes:    req.StartDateMealTypes,
		EndDateMealTypes:      req.EndDateMealTypes,
		BillingDeduction:      req.BillingDeduction,
		SubscriptionExtension: req.SubscriptionExtension,
		ExtensionDays:         req.ExtensionDays,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, o, "Off day created")
}

// OffDayDetailDTO is an off-day with the per-membership extension it applied.
type OffDayDetailDTO struct {
	mess.OffDay
	Applications []mess.OffDayApplication `json:"applications"`
}

func (h *Handler) GetOffDay(w http.ResponseWriter, r *http.Request) {
	o, err := h.OffDays.GetOffDay(r.Context(), chi.URLParam(r, "messId"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apps, err := h.OffDays.Applications(r.Context(), o.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if apps == nil {
		apps = []mess.OffDayApplication{}
	}
	writeOK(w, OffDayDetailDTO{OffDay: *o, Applications: apps}, "")
}

func (h *Handler) UpdateOffDay(w http.ResponseWriter, r *http.Request) {
	var req UpdateOffDayRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.OffDays.UpdateOffDay(r.Context(), chi.URLParam(r, "messId"), chi.URLParam(r, "id"), meals.UpdateOffDayInput{
		ActorID:               actorID(r),
		Date:                  req.Date,
		EndDate:               req.EndDate,
		Reason:                req.Reason,
		MealTypes:             req.MealTypes,
		StartDateMealTypes:    req.StartDateMealTypes,
		EndDateMealTypes:      req.EndDateMealTypes,
		BillingDeduction:      req.BillingDeduction,
		SubscriptionExtension: req.SubscriptionExtension,
		ExtensionDays:         req.ExtensionDays,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, o, "Off day updated")
}

// CancelOffDay soft-deletes the off-day and reverses its extensions.
func (h *Handler) CancelOffDay(w http.ResponseWriter, r *http.Request) {
	o, err := h.OffDays.CancelOffDay(r.Context(), chi.URLParam(r, "messId"), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, o, "Off day cancelled")
}

func (h *Handler) OffDayAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.OffDays.AuditTrail(r.Context(), chi.URLParam(r, "messId"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []generic.AuditEntry{}
	}
	writeOK(w, entries, "")
}

// ResumeOffDay finishes an extension saga left half-way.
func (h *Handler) ResumeOffDay(w http.ResponseWriter, r *http.Request) {
	o, err := h.OffDays.Resume(r.Context(), chi.URLParam(r, "messId"), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, o, "Off day extension resumed")
}

// =============================================================================
// OFF DAY SETTINGS
// =============================================================================

func (h *Handler) GetOffDaySettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.OffDays.Settings(r.Context(), chi.URLParam(r, "messId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, s, "")
}

func (h *Handler) SaveOffDaySettings(w http.ResponseWriter, r *http.Request) {
	var req OffDaySettingsRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.OffDays.SaveSettings(r.Context(), mess.OffDaySettings{
		MessID:                       chi.URLParam(r, "messId"),
		DefaultSubscriptionExtension: req.DefaultSubscriptionExtension,
		DefaultExtensionDays:         req.DefaultExtensionDays,
		DefaultBillingDeduction:      req.DefaultBillingDeduction,
		AnnounceOffDays:              req.AnnounceOffDays,
	}, actorID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, s, "Off day settings saved")
}
