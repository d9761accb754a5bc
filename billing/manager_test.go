package billing_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmess/billing-engine/billing"
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

func newTestManager(t *testing.T) (*billing.Manager, *sqlite.Store, *clock) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := &clock{now: time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	plan, err := factory.NewPlanFactory().ParsePlan(factory.MonthlyPlanJSON("plan-monthly", "mess-1", 3000))
	require.NoError(t, err)
	require.NoError(t, store.SavePlan(ctx, *plan))
	require.NoError(t, store.SaveMembership(ctx, mess.Membership{
		ID:                    "m-1",
		UserID:                "user-1",
		MessID:                "mess-1",
		PlanID:                "plan-monthly",
		Status:                mess.MembershipActive,
		PaymentStatus:         mess.PaymentPending,
		SubscriptionStartDate: generic.MustParseDate("2026-10-16"),
		SubscriptionEndDate:   generic.MustParseDate("2026-11-15"),
		CreatedAt:             c.now,
		UpdatedAt:             c.now,
	}))

	return billing.NewManager(store, logging.NewNop(), c.Now, time.UTC), store, c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// AMOUNTS
// =============================================================================

func TestFinalAmount_DiscountSubtractsPenaltyAdds(t *testing.T) {
	// GIVEN: total 1000 with a 100 discount and a 50 penalty
	// THEN: final is 950
	b := mess.Billing{
		Subscription: mess.BillingAmounts{TotalAmount: dec("1000")},
		Adjustments: []mess.Adjustment{
			{Type: mess.AdjustDiscount, Amount: dec("100")},
			{Type: mess.AdjustPenalty, Amount: dec("50")},
		},
	}
	assert.True(t, b.FinalAmount().Equal(dec("950")))
}

func TestFinalAmount_FlooredAtZero(t *testing.T) {
	b := mess.Billing{
		Subscription: mess.BillingAmounts{TotalAmount: dec("100")},
		Adjustments:  []mess.Adjustment{{Type: mess.AdjustLeaveCredit, Amount: dec("250")}},
	}
	assert.True(t, b.FinalAmount().IsZero())
}

func TestAmounts_Tax(t *testing.T) {
	tax, total := billing.Amounts(dec("3000"), dec("200"), dec("5"))
	assert.Equal(t, "140", tax.String())
	assert.Equal(t, "2940", total.String())
}

func TestNewTransactionID_Format(t *testing.T) {
	at := time.UnixMilli(1792140000123)
	id := billing.NewTransactionID(at)
	assert.Regexp(t, regexp.MustCompile(`^TXN_1792140000123_[A-Z0-9]{9}$`), id)
	assert.NotEqual(t, id, billing.NewTransactionID(at))
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestManager_CreateDefaultsFromPlan(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	b, err := mgr.Create(context.Background(), billing.CreateInput{MembershipID: "m-1", TaxRate: dec("5")})
	require.NoError(t, err)

	assert.Equal(t, "2026-10-16", b.BillingPeriod.StartDate.String())
	assert.Equal(t, "2026-11-15", b.BillingPeriod.EndDate.String())
	assert.Equal(t, "2026-10-23", b.Payment.DueDate.String())
	assert.Equal(t, mess.PaymentPending, b.Payment.Status)
	assert.Equal(t, "Monthly", b.Subscription.PlanName)
	assert.Equal(t, "150", b.Subscription.TaxAmount.String())
	assert.Equal(t, "3150", b.Subscription.TotalAmount.String())
}

func TestManager_CreateUnknownMembership(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.Create(context.Background(), billing.CreateInput{MembershipID: "m-404"})
	assert.ErrorIs(t, err, generic.ErrMembershipNotFound)
}

func TestManager_AdjustPayRefund(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	b, err := mgr.Create(ctx, billing.CreateInput{MembershipID: "m-1"})
	require.NoError(t, err)

	b, err = mgr.AddAdjustment(ctx, b.ID, billing.AdjustmentInput{
		Type: mess.AdjustDiscount, Amount: dec("500"), Reason: "Festival offer", ActorID: "owner-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "2500", b.FinalAmount().String())

	_, err = mgr.AddAdjustment(ctx, b.ID, billing.AdjustmentInput{Type: "gift", Amount: dec("1")})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, _, err = mgr.Refund(ctx, b.ID, billing.RefundInput{Amount: dec("10")})
	assert.ErrorIs(t, err, generic.ErrStateConflict, "unpaid bills cannot be refunded")

	paid, txn, err := mgr.MarkPaid(ctx, b.ID, billing.PaymentInput{Method: "upi", ActorID: "owner-1"})
	require.NoError(t, err)
	assert.Equal(t, mess.PaymentPaid, paid.Payment.Status)
	assert.Equal(t, txn.ID, paid.Payment.TransactionID)
	assert.Equal(t, "2500", txn.Amount.String())

	ms, err := store.GetMembership(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, mess.PaymentPaid, ms.PaymentStatus)

	_, _, err = mgr.MarkPaid(ctx, b.ID, billing.PaymentInput{})
	assert.ErrorIs(t, err, generic.ErrStateConflict)

	refunded, refundTxn, err := mgr.Refund(ctx, b.ID, billing.RefundInput{
		Amount: dec("300"), Reason: "Missed week", ActorID: "owner-1",
	})
	require.NoError(t, err)
	require.NotNil(t, refundTxn.Refund)
	assert.Equal(t, mess.PaymentTxRefund, refundTxn.Type)
	assert.Equal(t, mess.AdjustRefund, refunded.Adjustments[len(refunded.Adjustments)-1].Type)

	_, _, err = mgr.Refund(ctx, b.ID, billing.RefundInput{Amount: dec("2201")})
	assert.ErrorIs(t, err, generic.ErrValidation, "cannot refund more than was paid")

	txns, err := mgr.Transactions(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestManager_OverdueOnSaveAndSweep(t *testing.T) {
	mgr, store, c := newTestManager(t)
	ctx := context.Background()

	b, err := mgr.Create(ctx, billing.CreateInput{MembershipID: "m-1"})
	require.NoError(t, err)
	assert.Equal(t, mess.PaymentPending, b.Payment.Status)

	// GIVEN: The due date (10-23) has passed
	c.now = time.Date(2026, time.October, 24, 9, 0, 0, 0, time.UTC)

	// WHEN: The sweep runs
	n, err := mgr.SweepOverdue(ctx)
	require.NoError(t, err)

	// THEN: The bill and membership are overdue
	assert.Equal(t, 1, n)
	got, err := mgr.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, mess.PaymentOverdue, got.Payment.Status)

	ms, err := store.GetMembership(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, mess.PaymentOverdue, ms.PaymentStatus)

	n, err = mgr.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestManager_OverdueDetectedOnAnySave(t *testing.T) {
	mgr, _, c := newTestManager(t)
	ctx := context.Background()

	b, err := mgr.Create(ctx, billing.CreateInput{MembershipID: "m-1"})
	require.NoError(t, err)

	c.now = time.Date(2026, time.November, 1, 9, 0, 0, 0, time.UTC)
	b, err = mgr.AddAdjustment(ctx, b.ID, billing.AdjustmentInput{Type: mess.AdjustLateFee, Amount: dec("50")})
	require.NoError(t, err)
	assert.Equal(t, mess.PaymentOverdue, b.Payment.Status)
}

func TestManager_ExtensionSnapshot(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	b, err := mgr.Create(ctx, billing.CreateInput{MembershipID: "m-1"})
	require.NoError(t, err)

	require.NoError(t, mgr.RecordExtension(ctx, "m-1", mess.ExtensionSnapshot{
		OffDayID:        "od-1",
		ExtensionMeals:  3,
		ExtensionDays:   1,
		OriginalEndDate: generic.MustParseDate("2026-11-15"),
		NewEndDate:      generic.MustParseDate("2026-11-16"),
	}))

	got, err := mgr.Get(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SubscriptionExtension)
	assert.Equal(t, 3, got.SubscriptionExtension.ExtensionMeals)
	assert.Equal(t, "2026-11-16", got.SubscriptionExtension.NewEndDate.String())

	require.NoError(t, mgr.ReverseExtension(ctx, "m-1", "od-1"))
	got, err = mgr.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SubscriptionExtension)

	err = mgr.RecordExtension(ctx, "m-404", mess.ExtensionSnapshot{OffDayID: "od-1"})
	assert.True(t, generic.IsNotFound(err))
}
