package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smartmess/billing-engine/billing"
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// BillingDTO is a bill with its derived final amount and payment history.
type BillingDTO struct {
	mess.Billing
	FinalAmount  string                    `json:"finalAmount"`
	Transactions []mess.PaymentTransaction `json:"transactions"`
}

func (h *Handler) toBillingDTO(r *http.Request, b *mess.Billing) (BillingDTO, error) {
	txns, err := h.Bills.Transactions(r.Context(), b.ID)
	if err != nil {
		return BillingDTO{}, err
	}
	if txns == nil {
		txns = []mess.PaymentTransaction{}
	}
	return BillingDTO{Billing: *b, FinalAmount: b.FinalAmount().StringFixed(2), Transactions: txns}, nil
}

func (h *Handler) writeBilling(w http.ResponseWriter, r *http.Request, status int, b *mess.Billing, message string) {
	dto, err := h.toBillingDTO(r, b)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, Envelope{Success: true, Data: dto, Message: message})
}

func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bills.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeBilling(w, r, http.StatusOK, b, "")
}

func (h *Handler) CreateBilling(w http.ResponseWriter, r *http.Request) {
	var req CreateBillingRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Bills.Create(r.Context(), billing.CreateInput{
		MembershipID:   req.MembershipID,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		BaseAmount:     req.BaseAmount,
		DiscountAmount: req.DiscountAmount,
		TaxRate:        req.TaxRate,
		DueDate:        req.DueDate,
		ActorID:        actorID(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeBilling(w, r, http.StatusCreated, b, "Billing record created")
}

func (h *Handler) AddBillingAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Bills.AddAdjustment(r.Context(), chi.URLParam(r, "id"), billing.AdjustmentInput{
		Type:    req.Type,
		Amount:  req.Amount,
		Reason:  req.Reason,
		ActorID: actorID(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeBilling(w, r, http.StatusOK, b, "Adjustment added")
}

func (h *Handler) PayBilling(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	b, _, err := h.Bills.MarkPaid(r.Context(), chi.URLParam(r, "id"), billing.PaymentInput{
		Method:               req.Method,
		GatewayName:          req.GatewayName,
		GatewayTransactionID: req.GatewayTransactionID,
		ActorID:              actorID(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeBilling(w, r, http.StatusOK, b, "Payment recorded")
}

func (h *Handler) RefundBilling(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !decode(w, r, &req) {
		return
	}
	b, _, err := h.Bills.Refund(r.Context(), chi.URLParam(r, "id"), billing.RefundInput{
		Amount:          req.Amount,
		Reason:          req.Reason,
		GatewayRefundID: req.GatewayRefundID,
		ActorID:         actorID(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeBilling(w, r, http.StatusOK, b, "Refund recorded")
}
