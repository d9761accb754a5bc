package credits

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// SUBSCRIPTION-STATUS GATE
// =============================================================================

// AlwaysAllowedModules stay reachable whatever the subscription status, so
// a lapsed mess can still pay.
var AlwaysAllowedModules = []string{"subscription", "platform-subscription"}

// Status is the derived platform-subscription state of a mess.
//
//	isActive = isTrialActive || hasCredits || isInPaidGracePeriod
//
// The grace period keeps a mess that paid but spent its credits mid-cycle
// open until its next billing date.
type Status struct {
	IsTrialActive       bool              `json:"isTrialActive"`
	HasCredits          bool              `json:"hasCredits"`
	IsInPaidGracePeriod bool              `json:"isInPaidGracePeriod"`
	IsActive            bool              `json:"isActive"`
	AvailableCredits    decimal.Decimal   `json:"availableCredits"`
	CreditStatus        mess.CreditStatus `json:"creditStatus,omitempty"`
	TrialEndsAt         *time.Time        `json:"trialEndsAt,omitempty"`
	NextBillingDate     *time.Time        `json:"nextBillingDate,omitempty"`
}

type Gate struct {
	store mess.CreditStore
	now   func() time.Time
}

func NewGate(store mess.CreditStore, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{store: store, now: now}
}

// CheckStatus derives the mess's status. A mess without a credit record is
// inactive.
func (g *Gate) CheckStatus(ctx context.Context, messID string) (Status, error) {
	c, err := g.store.GetMessCredits(ctx, messID)
	if generic.IsNotFound(err) {
		return Status{AvailableCredits: decimal.Zero}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Evaluate(*c, g.now()), nil
}

// Evaluate computes Status for a credit record at now.
func Evaluate(c mess.MessCredits, now time.Time) Status {
	s := Status{
		IsTrialActive:    c.Trial.ActiveAt(now),
		HasCredits:       c.AvailableCredits.IsPositive(),
		AvailableCredits: c.AvailableCredits,
		CreditStatus:     c.Status,
		TrialEndsAt:      c.Trial.EndDate,
		NextBillingDate:  c.NextBillingDate,
	}
	if c.Status == mess.CreditStatusActive && c.LastBillingDate != nil {
		if c.NextBillingDate != nil {
			s.IsInPaidGracePeriod = now.Before(*c.NextBillingDate)
		} else {
			s.IsInPaidGracePeriod = now.Sub(*c.LastBillingDate) <= BillingCycle
		}
	}
	s.IsActive = s.IsTrialActive || s.HasCredits || s.IsInPaidGracePeriod
	return s
}

func (g *Gate) CanAcceptNewUsers(ctx context.Context, messID string) (bool, error) {
	s, err := g.CheckStatus(ctx, messID)
	return s.IsActive, err
}

func (g *Gate) CanAddMeals(ctx context.Context, messID string) (bool, error) {
	s, err := g.CheckStatus(ctx, messID)
	return s.IsActive, err
}

// CanAccessModule allows the payment modules unconditionally and every
// other module only while the subscription is active.
func (g *Gate) CanAccessModule(ctx context.Context, messID, module string) (bool, error) {
	for _, m := range AlwaysAllowedModules {
		if m == module {
			return true, nil
		}
	}
	s, err := g.CheckStatus(ctx, messID)
	return s.IsActive, err
}
