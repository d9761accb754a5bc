package mess

import (
	"time"

	"github.com/smartmess/billing-engine/generic"
)

// =============================================================================
// OFF DAY - Mess-wide closure
// =============================================================================

type OffDayStatus string

const (
	OffDayActive    OffDayStatus = "active"
	OffDayCancelled OffDayStatus = "cancelled"
)

// ExtensionState tracks the subscription-extension saga of one off-day.
type ExtensionState string

const (
	ExtensionNone      ExtensionState = "none"
	ExtensionApplying  ExtensionState = "applying"
	ExtensionApplied   ExtensionState = "applied"
	ExtensionReversing ExtensionState = "reversing"
	ExtensionReversed  ExtensionState = "reversed"
)

// OffDay closes the mess for one date or an inclusive range. It is never
// hard-deleted: cancelling flips Status and keeps the record for history.
//
// INVARIANT: at most one active off-day per (MessID, OffDate).
type OffDay struct {
	ID                    string         `json:"id"`
	MessID                string         `json:"messId"`
	OffDate               generic.Date   `json:"offDate"`
	EndDate               generic.Date   `json:"endDate,omitempty"`
	Reason                string         `json:"reason"`
	MealTypes             []MealType     `json:"mealTypes"`
	StartDateMealTypes    []MealType     `json:"startDateMealTypes,omitempty"`
	EndDateMealTypes      []MealType     `json:"endDateMealTypes,omitempty"`
	BillingDeduction      bool           `json:"billingDeduction"`
	SubscriptionExtension bool           `json:"subscriptionExtension"`
	ExtensionDays         int            `json:"extensionDays"`
	Status                OffDayStatus   `json:"status"`
	ExtensionState        ExtensionState `json:"extensionState"`
	CreatedBy             string         `json:"createdBy"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
}

// IsRange reports whether the off-day spans more than its start date.
func (o OffDay) IsRange() bool {
	return !o.EndDate.IsZero() && o.EndDate.After(o.OffDate)
}

// Range returns the inclusive closure span.
func (o OffDay) Range() generic.DateRange {
	if o.IsRange() {
		return generic.DateRange{Start: o.OffDate, End: o.EndDate}
	}
	return generic.SingleDay(o.OffDate)
}

// =============================================================================
// OFF DAY APPLICATION - One membership's share of an extension
// =============================================================================

type ApplicationState string

const (
	ApplicationPlanned  ApplicationState = "planned"
	ApplicationApplied  ApplicationState = "applied"
	ApplicationReversed ApplicationState = "reversed"
)

// OffDayApplication is the recorded delta an off-day applied to one
// membership. Cancellation replays exactly these numbers in reverse, so
// later plan or leave edits cannot skew the reversal.
type OffDayApplication struct {
	OffDayID        string           `json:"offDayId"`
	MembershipID    string           `json:"membershipId"`
	MissedMeals     int              `json:"missedMeals"`
	DaysAdded       int              `json:"daysAdded"`
	State           ApplicationState `json:"state"`
	OriginalEndDate generic.Date     `json:"originalEndDate"`
	NewEndDate      generic.Date     `json:"newEndDate"`
	AppliedAt       *time.Time       `json:"appliedAt,omitempty"`
	ReversedAt      *time.Time       `json:"reversedAt,omitempty"`
}

// =============================================================================
// OFF DAY SETTINGS
// =============================================================================

// OffDaySettings are per-mess defaults for new off-days.
type OffDaySettings struct {
	MessID                       string    `json:"messId"`
	DefaultSubscriptionExtension bool      `json:"defaultSubscriptionExtension"`
	DefaultExtensionDays         int       `json:"defaultExtensionDays"`
	DefaultBillingDeduction      bool      `json:"defaultBillingDeduction"`
	AnnounceOffDays              bool      `json:"announceOffDays"`
	UpdatedAt                    time.Time `json:"updatedAt"`
}

// DefaultOffDaySettings is used until an owner saves their own.
func DefaultOffDaySettings(messID string) OffDaySettings {
	return OffDaySettings{
		MessID:               messID,
		DefaultExtensionDays: 1,
		AnnounceOffDays:      true,
	}
}
