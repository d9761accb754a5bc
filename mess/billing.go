package mess

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartmess/billing-engine/generic"
)

// =============================================================================
// BILLING - One member's bill for one period
// =============================================================================

type AdjustmentType string

const (
	AdjustDiscount              AdjustmentType = "discount"
	AdjustPenalty               AdjustmentType = "penalty"
	AdjustLeaveCredit           AdjustmentType = "leave_credit"
	AdjustLateFee               AdjustmentType = "late_fee"
	AdjustRefund                AdjustmentType = "refund"
	AdjustBonus                 AdjustmentType = "bonus"
	AdjustSubscriptionExtension AdjustmentType = "subscription_extension"
)

// Valid reports whether t is a known adjustment type.
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustDiscount, AdjustPenalty, AdjustLeaveCredit, AdjustLateFee,
		AdjustRefund, AdjustBonus, AdjustSubscriptionExtension:
		return true
	}
	return false
}

// Reduces reports whether the adjustment lowers the amount due.
func (t AdjustmentType) Reduces() bool {
	return t == AdjustDiscount || t == AdjustLeaveCredit || t == AdjustRefund
}

type Adjustment struct {
	Type      AdjustmentType  `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	AppliedBy string          `json:"appliedBy"`
	AppliedAt time.Time       `json:"appliedAt"`
}

type BillingPeriod struct {
	StartDate generic.Date  `json:"startDate"`
	EndDate   generic.Date  `json:"endDate"`
	Period    PricingPeriod `json:"period"`
}

type BillingAmounts struct {
	PlanID         string          `json:"planId"`
	PlanName       string          `json:"planName"`
	BaseAmount     decimal.Decimal `json:"baseAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
}

type BillingPayment struct {
	Status        PaymentStatus `json:"status"`
	Method        string        `json:"method,omitempty"`
	DueDate       generic.Date  `json:"dueDate"`
	PaidDate      *time.Time    `json:"paidDate,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"`
}

// ExtensionSnapshot records an off-day extension against the bill that
// covers it.
type ExtensionSnapshot struct {
	OffDayID        string       `json:"offDayId"`
	ExtensionMeals  int          `json:"extensionMeals"`
	ExtensionDays   int          `json:"extensionDays"`
	OriginalEndDate generic.Date `json:"originalEndDate"`
	NewEndDate      generic.Date `json:"newEndDate"`
}

type Billing struct {
	ID                    string             `json:"id"`
	UserID                string             `json:"userId"`
	MessID                string             `json:"messId"`
	MembershipID          string             `json:"membershipId"`
	BillingPeriod         BillingPeriod      `json:"billingPeriod"`
	Subscription          BillingAmounts     `json:"subscription"`
	Payment               BillingPayment     `json:"payment"`
	Adjustments           []Adjustment       `json:"adjustments"`
	SubscriptionExtension *ExtensionSnapshot `json:"subscriptionExtension,omitempty"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// FinalAmount is the total after adjustments, floored at zero.
// Discounts, leave credits and refunds subtract; everything else adds.
func (b *Billing) FinalAmount() decimal.Decimal {
	final := b.Subscription.TotalAmount
	for _, adj := range b.Adjustments {
		if adj.Type.Reduces() {
			final = final.Sub(adj.Amount)
		} else {
			final = final.Add(adj.Amount)
		}
	}
	if final.IsNegative() {
		return decimal.Zero
	}
	return final
}

// RefreshStatus moves a pending bill to overdue once its due date has
// passed. Stores call it on every save.
func (b *Billing) RefreshStatus(today generic.Date) bool {
	if b.Payment.Status == PaymentPending && !b.Payment.DueDate.IsZero() && b.Payment.DueDate.Before(today) {
		b.Payment.Status = PaymentOverdue
		return true
	}
	return false
}

// =============================================================================
// PAYMENT TRANSACTION - Immutable payment/refund event
// =============================================================================

type PaymentTxType string

const (
	PaymentTxPayment PaymentTxType = "payment"
	PaymentTxRefund  PaymentTxType = "refund"
)

type PaymentTxStatus string

const (
	PaymentTxPending   PaymentTxStatus = "pending"
	PaymentTxCompleted PaymentTxStatus = "completed"
	PaymentTxFailed    PaymentTxStatus = "failed"
)

type GatewayInfo struct {
	Name                 string `json:"name,omitempty"`
	GatewayTransactionID string `json:"gatewayTransactionId,omitempty"`
}

type RefundInfo struct {
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason"`
	RefundedBy      string          `json:"refundedBy"`
	GatewayRefundID string          `json:"gatewayRefundId,omitempty"`
	RefundedAt      time.Time       `json:"refundedAt"`
}

type PaymentTransaction struct {
	ID           string          `json:"transactionId"`
	BillingID    string          `json:"billingId,omitempty"`
	MembershipID string          `json:"membershipId,omitempty"`
	UserID       string          `json:"userId"`
	MessID       string          `json:"messId"`
	Type         PaymentTxType   `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Status       PaymentTxStatus `json:"status"`
	Method       string          `json:"method"`
	Gateway      GatewayInfo     `json:"gateway"`
	Refund       *RefundInfo     `json:"refund,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}
