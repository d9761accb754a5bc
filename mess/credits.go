package mess

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartmess/billing-engine/generic"
)

// =============================================================================
// MESS CREDITS - Platform balance of one mess
// =============================================================================

type CreditStatus string

const (
	CreditStatusTrial     CreditStatus = "trial"
	CreditStatusActive    CreditStatus = "active"
	CreditStatusSuspended CreditStatus = "suspended"
	CreditStatusExpired   CreditStatus = "expired"
)

// TrialWindow is the free-trial period granted once per mess.
type TrialWindow struct {
	Used        bool            `json:"used"`
	StartDate   *time.Time      `json:"startDate,omitempty"`
	EndDate     *time.Time      `json:"endDate,omitempty"`
	CreditsUsed decimal.Decimal `json:"creditsUsed"`
}

// ActiveAt reports whether now falls inside the trial window.
func (t TrialWindow) ActiveAt(now time.Time) bool {
	if t.StartDate == nil || t.EndDate == nil {
		return false
	}
	return !now.Before(*t.StartDate) && now.Before(*t.EndDate)
}

// MessCredits caches the balance of the mess credit ledger.
//
// INVARIANT: AvailableCredits == TotalCredits - UsedCredits, and every
// change is written together with a credits ledger transaction.
type MessCredits struct {
	MessID           string          `json:"messId"`
	TotalCredits     decimal.Decimal `json:"totalCredits"`
	UsedCredits      decimal.Decimal `json:"usedCredits"`
	AvailableCredits decimal.Decimal `json:"availableCredits"`
	Trial            TrialWindow     `json:"trial"`
	Status           CreditStatus    `json:"status"`
	LastBillingDate  *time.Time      `json:"lastBillingDate,omitempty"`
	NextBillingDate  *time.Time      `json:"nextBillingDate,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// NewMessCredits returns the zero-balance record created on first access.
func NewMessCredits(messID string, now time.Time) *MessCredits {
	return &MessCredits{
		MessID:           messID,
		TotalCredits:     decimal.Zero,
		UsedCredits:      decimal.Zero,
		AvailableCredits: decimal.Zero,
		Trial:            TrialWindow{CreditsUsed: decimal.Zero},
		Status:           CreditStatusExpired,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Available returns the spendable balance as an Amount.
func (c *MessCredits) Available() generic.Amount {
	return generic.NewAmountFromDecimal(c.AvailableCredits, generic.UnitCredits)
}

// =============================================================================
// PLATFORM SETTINGS - Global trial and pricing record
// =============================================================================

type PlatformSettings struct {
	TrialEnabled      bool            `json:"trialEnabled"`
	TrialDurationDays int             `json:"trialDurationDays"`
	CreditsPerMember  decimal.Decimal `json:"creditsPerMember"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// DefaultPlatformSettings is used until an administrator saves settings.
func DefaultPlatformSettings() PlatformSettings {
	return PlatformSettings{
		TrialEnabled:      true,
		TrialDurationDays: 7,
		CreditsPerMember:  decimal.NewFromInt(1),
	}
}
