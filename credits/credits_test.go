package credits_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmess/billing-engine/billing"
	"github.com/smartmess/billing-engine/credits"
	"github.com/smartmess/billing-engine/factory"
	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/logging"
	"github.com/smartmess/billing-engine/mess"
	"github.com/smartmess/billing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type env struct {
	store     *sqlite.Store
	clock     *clock
	ledger    *credits.Ledger
	gate      *credits.Gate
	approvals *credits.Approvals
}

func newEnv(t *testing.T) *env {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := &clock{now: time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)}
	logger := logging.NewNop()
	ledger := credits.NewLedger(store, logger, c.Now)
	bills := billing.NewManager(store, logger, c.Now, time.UTC)

	ctx := context.Background()
	require.NoError(t, store.SaveMess(ctx, mess.Mess{ID: "mess-1", Name: "Annapurna", OwnerID: "owner-1", CreatedAt: c.now}))
	plan, err := factory.NewPlanFactory().ParsePlan(factory.MonthlyPlanJSON("plan-monthly", "mess-1", 3000))
	require.NoError(t, err)
	require.NoError(t, store.SavePlan(ctx, *plan))

	return &env{
		store:     store,
		clock:     c,
		ledger:    ledger,
		gate:      credits.NewGate(store, c.Now),
		approvals: credits.NewApprovals(store, ledger, bills, logger, c.Now, time.UTC),
	}
}

func (e *env) pendingMember(t *testing.T) *mess.Membership {
	m, err := e.approvals.Join(context.Background(), credits.JoinInput{
		UserID: "user-1", MessID: "mess-1", PlanID: "plan-monthly",
	})
	require.NoError(t, err)
	return m
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_PurchaseDeductAdjust(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, err := e.ledger.GetOrCreate(ctx, "mess-1")
	require.NoError(t, err)
	assert.True(t, c.AvailableCredits.IsZero())

	c, err = e.ledger.Purchase(ctx, credits.PurchaseInput{MessID: "mess-1", Amount: dec("10"), ActorID: "owner-1"})
	require.NoError(t, err)
	assert.Equal(t, mess.CreditStatusActive, c.Status)
	require.NotNil(t, c.NextBillingDate)
	assert.Equal(t, e.clock.now.Add(credits.BillingCycle), *c.NextBillingDate)

	e.clock.Advance(time.Minute)
	c, err = e.ledger.Deduct(ctx, credits.DeductInput{MessID: "mess-1", Amount: dec("4"), Description: "member"})
	require.NoError(t, err)
	assert.Equal(t, "6", c.AvailableCredits.String())
	assert.Equal(t, "4", c.UsedCredits.String())

	e.clock.Advance(time.Minute)
	c, err = e.ledger.Adjust(ctx, credits.AdjustInput{MessID: "mess-1", Amount: dec("-2"), Description: "correction", ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "4", c.AvailableCredits.String())

	balance, err := e.ledger.Balance(ctx, "mess-1")
	require.NoError(t, err)
	assert.True(t, balance.Value.Equal(c.AvailableCredits), "ledger sum must equal cached balance")

	txs, err := e.ledger.Transactions(ctx, "mess-1")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, generic.TxAdjustment, txs[0].Type, "newest first")
	assert.Equal(t, credits.TxPurchase, txs[2].Type)
}

func TestLedger_DeductAllOrNothing(t *testing.T) {
	// GIVEN: 1 credit available
	// WHEN: 3 credits are deducted
	// THEN: InsufficientCreditsError with the shortfall; the balance is unchanged

	e := newEnv(t)
	ctx := context.Background()
	_, err := e.ledger.Purchase(ctx, credits.PurchaseInput{MessID: "mess-1", Amount: dec("1")})
	require.NoError(t, err)

	_, err = e.ledger.Deduct(ctx, credits.DeductInput{MessID: "mess-1", Amount: dec("3")})
	var ice *generic.InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, "3", ice.Required.String())
	assert.Equal(t, "1", ice.Available.String())
	assert.Equal(t, "2", ice.Shortfall().String())
	assert.ErrorIs(t, err, generic.ErrInsufficientCredits)

	c, err := e.ledger.Get(ctx, "mess-1")
	require.NoError(t, err)
	assert.Equal(t, "1", c.AvailableCredits.String())
}

func TestLedger_DeductWithoutRecord_NotFound(t *testing.T) {
	e := newEnv(t)

	_, err := e.ledger.Deduct(context.Background(), credits.DeductInput{MessID: "mess-1", Amount: dec("1")})
	assert.ErrorIs(t, err, generic.ErrCreditsNotFound)
}

func TestLedger_TrialOnceAndChargedToTrial(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, err := e.ledger.ActivateTrial(ctx, "mess-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, mess.CreditStatusTrial, c.Status)
	assert.Equal(t, e.clock.now.AddDate(0, 0, 7), *c.Trial.EndDate)

	_, err = e.ledger.ActivateTrial(ctx, "mess-1", "owner-1")
	assert.ErrorIs(t, err, generic.ErrStateConflict)

	c, err = e.ledger.Deduct(ctx, credits.DeductInput{MessID: "mess-1", Amount: dec("2")})
	require.NoError(t, err)
	assert.Equal(t, "2", c.Trial.CreditsUsed.String())
	assert.True(t, c.AvailableCredits.IsZero())

	ok, err := e.ledger.SufficientCredits(ctx, "mess-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Trial ends
	e.clock.Advance(8 * 24 * time.Hour)
	n, err := e.ledger.ExpireTrials(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	c, err = e.ledger.Get(ctx, "mess-1")
	require.NoError(t, err)
	assert.Equal(t, mess.CreditStatusExpired, c.Status)

	ok, err = e.ledger.SufficientCredits(ctx, "mess-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_TrialDisabled(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.ledger.SaveSettings(ctx, mess.PlatformSettings{TrialEnabled: false, TrialDurationDays: 7, CreditsPerMember: dec("1")})
	require.NoError(t, err)

	_, err = e.ledger.ActivateTrial(ctx, "mess-1", "owner-1")
	assert.ErrorIs(t, err, generic.ErrStateConflict)
}

// =============================================================================
// GATE
// =============================================================================

func TestGate_Status(t *testing.T) {
	now := time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)
	past := now.Add(-10 * 24 * time.Hour)
	future := now.Add(5 * 24 * time.Hour)
	longAgo := now.Add(-40 * 24 * time.Hour)
	trialEnd := now.Add(2 * 24 * time.Hour)

	tests := []struct {
		name   string
		c      mess.MessCredits
		active bool
		grace  bool
	}{
		{
			name:   "nothing",
			c:      mess.MessCredits{Status: mess.CreditStatusExpired},
			active: false,
		},
		{
			name:   "trial window",
			c:      mess.MessCredits{Status: mess.CreditStatusTrial, Trial: mess.TrialWindow{Used: true, StartDate: &past, EndDate: &trialEnd}},
			active: true,
		},
		{
			name:   "credits available",
			c:      mess.MessCredits{Status: mess.CreditStatusExpired, AvailableCredits: dec("1")},
			active: true,
		},
		{
			name:   "paid, zero credits, before next billing date",
			c:      mess.MessCredits{Status: mess.CreditStatusActive, LastBillingDate: &past, NextBillingDate: &future},
			active: true,
			grace:  true,
		},
		{
			name:   "paid recently, no next billing date",
			c:      mess.MessCredits{Status: mess.CreditStatusActive, LastBillingDate: &past},
			active: true,
			grace:  true,
		},
		{
			name:   "paid long ago, no next billing date",
			c:      mess.MessCredits{Status: mess.CreditStatusActive, LastBillingDate: &longAgo},
			active: false,
		},
		{
			name:   "suspended is never in grace",
			c:      mess.MessCredits{Status: mess.CreditStatusSuspended, LastBillingDate: &past, NextBillingDate: &future},
			active: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := credits.Evaluate(tt.c, now)
			assert.Equal(t, tt.active, s.IsActive)
			assert.Equal(t, tt.grace, s.IsInPaidGracePeriod)
		})
	}
}

func TestGate_ModuleAllowlist(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ok, err := e.gate.CanAccessModule(ctx, "mess-1", "off-days")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.gate.CanAccessModule(ctx, "mess-1", "platform-subscription")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.ledger.Purchase(ctx, credits.PurchaseInput{MessID: "mess-1", Amount: dec("5")})
	require.NoError(t, err)

	ok, err = e.gate.CanAcceptNewUsers(ctx, "mess-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

// =============================================================================
// APPROVAL
// =============================================================================

func TestApprove_ActivatesAndCharges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.ledger.Purchase(ctx, credits.PurchaseInput{MessID: "mess-1", Amount: dec("3")})
	require.NoError(t, err)

	m := e.pendingMember(t)
	_, err = e.approvals.Submit(ctx, m.ID, "user-1")
	require.NoError(t, err)

	res, err := e.approvals.Approve(ctx, m.ID, "owner-1")
	require.NoError(t, err)

	assert.Equal(t, mess.MembershipActive, res.Membership.Status)
	assert.Equal(t, mess.PaymentPaid, res.Membership.PaymentStatus)
	assert.Equal(t, mess.PaymentRequestApproved, res.Membership.PaymentRequestStatus)
	assert.Equal(t, "2026-10-16", res.Membership.SubscriptionStartDate.String())
	assert.Equal(t, "2026-11-15", res.Membership.SubscriptionEndDate.String())

	assert.Equal(t, mess.PaymentPaid, res.Billing.Payment.Status)
	assert.Equal(t, "3000", res.Transaction.Amount.String())
	assert.Regexp(t, `^TXN_\d+_[A-Z0-9]{9}$`, res.Transaction.ID)

	c, err := e.ledger.Get(ctx, "mess-1")
	require.NoError(t, err)
	assert.Equal(t, "2", c.AvailableCredits.String())

	bills, err := e.store.ListBillingsByMembership(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, bills, 1)
}

func TestApprove_InsufficientCredits_LeavesMembershipPending(t *testing.T) {
	// GIVEN: A mess with no credits and no trial
	// WHEN: The owner approves a new member
	// THEN: Shortfall error; membership, bills and balance are untouched

	e := newEnv(t)
	ctx := context.Background()
	_, err := e.ledger.GetOrCreate(ctx, "mess-1")
	require.NoError(t, err)
	m := e.pendingMember(t)

	_, err = e.approvals.Approve(ctx, m.ID, "owner-1")
	var ice *generic.InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, "1", ice.Shortfall().String())

	got, err := e.approvals.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mess.MembershipPending, got.Status)
	assert.Equal(t, mess.PaymentRequestNone, got.PaymentRequestStatus)
	assert.True(t, got.SubscriptionEndDate.IsZero())

	bills, err := e.store.ListBillingsByMembership(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, bills)
}

func TestApprove_WithoutCreditRecord_ReportsShortfall(t *testing.T) {
	// GIVEN: A mess that never opened a credit record
	// WHEN: The owner approves a new member
	// THEN: Shortfall error against a zero balance, not a missing record

	e := newEnv(t)
	ctx := context.Background()
	m := e.pendingMember(t)

	_, err := e.approvals.Approve(ctx, m.ID, "owner-1")
	var ice *generic.InsufficientCreditsError
	require.ErrorAs(t, err, &ice)
	assert.False(t, generic.IsNotFound(err))
	assert.Equal(t, "1", ice.Required.String())
	assert.Equal(t, "0", ice.Available.String())

	got, err := e.approvals.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mess.MembershipPending, got.Status)

	ok, err := e.ledger.SufficientCredits(ctx, "mess-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApprove_Twice_ChargesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.ledger.Purchase(ctx, credits.PurchaseInput{MessID: "mess-1", Amount: dec("5")})
	require.NoError(t, err)
	m := e.pendingMember(t)

	_, err = e.approvals.Approve(ctx, m.ID, "owner-1")
	require.NoError(t, err)

	_, err = e.approvals.Approve(ctx, m.ID, "owner-1")
	assert.ErrorIs(t, err, generic.ErrPaymentRequestProcessed)

	c, err := e.ledger.Get(ctx, "mess-1")
	require.NoError(t, err)
	assert.Equal(t, "4", c.AvailableCredits.String())
}

func TestApprove_DuringTrial_ChargesTrial(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.ledger.ActivateTrial(ctx, "mess-1", "owner-1")
	require.NoError(t, err)
	m := e.pendingMember(t)

	res, err := e.approvals.Approve(ctx, m.ID, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, res.Credits)
	assert.Equal(t, "1", res.Credits.Trial.CreditsUsed.String())
	assert.True(t, res.Credits.AvailableCredits.IsZero())
}

func TestReject_IsTerminal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m := e.pendingMember(t)

	rejected, err := e.approvals.Reject(ctx, m.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, mess.MembershipInactive, rejected.Status)
	assert.Equal(t, mess.PaymentFailed, rejected.PaymentStatus)

	_, err = e.approvals.Approve(ctx, m.ID, "owner-1")
	assert.ErrorIs(t, err, generic.ErrPaymentRequestProcessed)

	_, err = e.approvals.Submit(ctx, m.ID, "user-1")
	assert.ErrorIs(t, err, generic.ErrPaymentRequestProcessed)
}

func TestApprove_UnknownMembership(t *testing.T) {
	e := newEnv(t)

	_, err := e.approvals.Approve(context.Background(), "m-404", "owner-1")
	assert.ErrorIs(t, err, generic.ErrMembershipNotFound)
}
