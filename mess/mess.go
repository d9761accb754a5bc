/*
Package mess holds the SmartMess domain model shared by every service:
messes, meal plans, memberships, personal leaves, off-days, credit
balances and billing documents, together with the persistence contract
(Store) the services are written against.

Logic lives in the service packages:
  - meals:   off-day / leave reconciliation and the plan catalog
  - credits: credit ledger, new-member approval, subscription gate
  - billing: billing records, adjustments, payments and refunds

Dates are generic.Date calendar dates; money and credits are decimals.
*/
package mess

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartmess/billing-engine/generic"
)

// =============================================================================
// MESS
// =============================================================================

// Mess is a tenant: one canteen run by one owner.
type Mess struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	ChatRoom  string    `json:"chatRoomId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// =============================================================================
// MEAL PLAN
// =============================================================================

type PricingPeriod string

const (
	PeriodDay       PricingPeriod = "day"
	PeriodWeek      PricingPeriod = "week"
	PeriodFortnight PricingPeriod = "15days"
	PeriodMonth     PricingPeriod = "month"
	PeriodQuarter   PricingPeriod = "3months"
	PeriodHalfYear  PricingPeriod = "6months"
	PeriodYear      PricingPeriod = "year"
)

// Valid reports whether p is a known period.
func (p PricingPeriod) Valid() bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodFortnight, PeriodMonth, PeriodQuarter, PeriodHalfYear, PeriodYear:
		return true
	}
	return false
}

// EndDate returns the last covered day of a subscription starting on start.
func (p PricingPeriod) EndDate(start generic.Date) generic.Date {
	switch p {
	case PeriodDay:
		return start
	case PeriodWeek:
		return start.AddDays(6)
	case PeriodFortnight:
		return start.AddDays(14)
	case PeriodQuarter:
		return start.AddMonths(3).AddDays(-1)
	case PeriodHalfYear:
		return start.AddMonths(6).AddDays(-1)
	case PeriodYear:
		return start.AddYears(1).AddDays(-1)
	default:
		return start.AddMonths(1).AddDays(-1)
	}
}

type Pricing struct {
	Amount decimal.Decimal `json:"amount"`
	Period PricingPeriod   `json:"period"`
}

// MealType is one of the three daily services.
type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
)

// AllMealTypes lists meals in serving order.
var AllMealTypes = []MealType{Breakfast, Lunch, Dinner}

// MealOptions marks which meals a plan serves.
type MealOptions struct {
	Breakfast bool `json:"breakfast"`
	Lunch     bool `json:"lunch"`
	Dinner    bool `json:"dinner"`
}

type LeaveRules struct {
	MaxLeaveMeals      int  `json:"maxLeaveMeals"`
	ExtendSubscription bool `json:"extendSubscription"`
}

type Plan struct {
	ID          string      `json:"id"`
	MessID      string      `json:"messId"`
	Name        string      `json:"name"`
	Pricing     Pricing     `json:"pricing"`
	MealsPerDay int         `json:"mealsPerDay"`
	MealOptions MealOptions `json:"mealOptions"`
	LeaveRules  LeaveRules  `json:"leaveRules"`
	IsActive    bool        `json:"isActive"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipPending   MembershipStatus = "pending"
	MembershipInactive  MembershipStatus = "inactive"
	MembershipSuspended MembershipStatus = "suspended"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentOverdue PaymentStatus = "overdue"
	PaymentFailed  PaymentStatus = "failed"
)

type PaymentRequestStatus string

const (
	PaymentRequestNone     PaymentRequestStatus = "none"
	PaymentRequestSent     PaymentRequestStatus = "sent"
	PaymentRequestApproved PaymentRequestStatus = "approved"
	PaymentRequestRejected PaymentRequestStatus = "rejected"
)

// Processed reports whether the request reached a terminal state.
func (s PaymentRequestStatus) Processed() bool {
	return s == PaymentRequestApproved || s == PaymentRequestRejected
}

// Membership links one user to one mess on one plan.
//
// INVARIANT: SubscriptionEndDate moves forward only through recorded
// extensions and backward only by replaying one of them in reverse.
type Membership struct {
	ID                    string               `json:"id"`
	UserID                string               `json:"userId"`
	MessID                string               `json:"messId"`
	PlanID                string               `json:"planId"`
	Status                MembershipStatus     `json:"status"`
	PaymentStatus         PaymentStatus        `json:"paymentStatus"`
	SubscriptionStartDate generic.Date         `json:"subscriptionStartDate"`
	SubscriptionEndDate   generic.Date         `json:"subscriptionEndDate"`
	LeaveExtensionMeals   int                  `json:"leaveExtensionMeals"`
	PaymentRequestStatus  PaymentRequestStatus `json:"paymentRequestStatus"`
	CreatedAt             time.Time            `json:"createdAt"`
	UpdatedAt             time.Time            `json:"updatedAt"`
}

// =============================================================================
// PERSONAL LEAVE
// =============================================================================

type LeaveStatus string

const (
	LeavePending   LeaveStatus = "pending"
	LeaveApproved  LeaveStatus = "approved"
	LeaveRejected  LeaveStatus = "rejected"
	LeaveCancelled LeaveStatus = "cancelled"
)

// Leave is a member's own absence. Only approved leaves excuse meals.
type Leave struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"userId"`
	MessID             string       `json:"messId"`
	StartDate          generic.Date `json:"startDate"`
	EndDate            generic.Date `json:"endDate"`
	StartDateMealTypes []MealType   `json:"startDateMealTypes"`
	EndDateMealTypes   []MealType   `json:"endDateMealTypes"`
	Status             LeaveStatus  `json:"status"`
	Reason             string       `json:"reason,omitempty"`
	ReviewedBy         string       `json:"reviewedBy,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// Range returns the leave's inclusive date span.
func (l Leave) Range() generic.DateRange {
	return generic.DateRange{Start: l.StartDate, End: l.EndDate}
}
