/*
dto.go - Request bodies for the HTTP API

PURPOSE:
  Defines the JSON request structures. Domain types (mess.OffDay,
  mess.Billing, ...) already carry JSON tags and are returned as-is inside
  the response envelope, so only inputs need their own types here.

VALIDATION:
  Shape checks live in validate tags (go-playground/validator). Business
  rules (past dates, range order, meal-type names, credit balances) stay in
  the services so every caller gets them, not just HTTP.

SEE ALSO:
  - response.go: decode() runs the validate tags
  - handlers.go, offdays.go, credits.go, billing.go: consumers
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// MESS / PLAN / MEMBERSHIP
// =============================================================================

type CreateMessRequest struct {
	ID         string `json:"id" validate:"omitempty,max=64"`
	Name       string `json:"name" validate:"required,max=120"`
	OwnerID    string `json:"ownerId" validate:"required"`
	ChatRoomID string `json:"chatRoomId"`
}

type JoinRequest struct {
	UserID string `json:"userId" validate:"required"`
	MessID string `json:"messId" validate:"required"`
	PlanID string `json:"planId" validate:"required"`
}

// =============================================================================
// OFF DAYS
// =============================================================================

// CreateOffDayRequest takes either date, or startDate and endDate.
type CreateOffDayRequest struct {
	Date                  generic.Date    `json:"date"`
	StartDate             generic.Date    `json:"startDate"`
	EndDate               generic.Date    `json:"endDate"`
	Reason                string          `json:"reason" validate:"required,max=500"`
	MealTypes             []mess.MealType `json:"mealTypes" validate:"omitempty,dive,oneof=breakfast lunch dinner"`
	StartDateMealTypes    []mess.MealType `json:"startDateMealTypes" validate:"omitempty,dive,oneof=breakfast lunch dinner"`
	EndDateMealTypes      []mess.MealType `json:"endDateMealTypes" validate:"omitempty,dive,oneof=breakfast lunch dinner"`
	BillingDeduction      *bool           `json:"billingDeduction"`
	SubscriptionExtension *bool           `json:"subscriptionExtension"`
	ExtensionDays         *int            `json:"extensionDays"`
}

type UpdateOffDayRequest struct {
	Date                  *generic.Date   `json:"date"`
	EndDate               *generic.Date   `json:"endDate"`
	Reason                *string         `json:"reason" validate:"omitempty,min=1,max=500"`
	MealTypes             []mess.MealType `json:"mealTypes" validate:"omitempty,dive,oneof=breakfast lunch dinner"`
	StartDateMealTypes    []mess.MealType `json:"startDateMealTypes" validate:"omitempty,dive,oneof=breakfast lunch dinner"`
	EndDateMealTypes      []mess.MealType `json:"endDateMealTypes" validate:"omitempty,dive,oneof=breakfast lunch dinner"`
	BillingDeduction      *bool           `json:"billingDeduction"`
	SubscriptionExtension *bool           `json:"subscriptionExtension"`
	ExtensionDays         *int            `json:"extensionDays"`
}

type OffDaySettingsRequest struct {
	DefaultSubscriptionExtension bool `json:"defaultSubscriptionExtension"`
	DefaultExtensionDays         int  `json:"defaultExtensionDays" validate:"min=1"`
	DefaultBillingDeduction      bool `json:"defaultBillingDeduction"`
	AnnounceOffDays              bool `json:"announceOffDays"`
}

// =============================================================================
// LEAVES
// =============================================================================

type CreateLeaveRequest struct {
	UserID             string          `json:"userId" validate:"required"`
	MessID             string          `json:"messId" validate:"required"`
	StartDate          generic.Date    `json:"startDate"`
	EndDate            generic.Date    `json:"endDate"`
	StartDateMealTypes []mess.MealType `json:"startDateMealTypes" validate:"omitempty,dive,oneof=breakfast lunch dinner"`
	EndDateMealTypes   []mess.MealType `json:"endDateMealTypes" validate:"omitempty,dive,oneof=breakfast lunch dinner"`
	Reason             string          `json:"reason" validate:"max=500"`
}

// =============================================================================
// CREDITS
// =============================================================================

type PurchaseCreditsRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	PlanID         string          `json:"planId"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

type AdjustCreditsRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"required,max=500"`
}

type PlatformSettingsRequest struct {
	TrialEnabled      bool            `json:"trialEnabled"`
	TrialDurationDays int             `json:"trialDurationDays" validate:"min=1"`
	CreditsPerMember  decimal.Decimal `json:"creditsPerMember"`
}

// =============================================================================
// BILLING
// =============================================================================

type CreateBillingRequest struct {
	MembershipID   string           `json:"membershipId" validate:"required"`
	PeriodStart    generic.Date     `json:"periodStart"`
	PeriodEnd      generic.Date     `json:"periodEnd"`
	BaseAmount     *decimal.Decimal `json:"baseAmount"`
	DiscountAmount decimal.Decimal  `json:"discountAmount"`
	TaxRate        decimal.Decimal  `json:"taxRate"`
	DueDate        generic.Date     `json:"dueDate"`
}

type AdjustmentRequest struct {
	Type   mess.AdjustmentType `json:"type" validate:"required"`
	Amount decimal.Decimal     `json:"amount"`
	Reason string              `json:"reason" validate:"required,max=500"`
}

type PaymentRequest struct {
	Method               string `json:"method" validate:"max=32"`
	GatewayName          string `json:"gatewayName"`
	GatewayTransactionID string `json:"gatewayTransactionId"`
}

type RefundRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Reason          string          `json:"reason" validate:"required,max=500"`
	GatewayRefundID string          `json:"gatewayRefundId"`
}
