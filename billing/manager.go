/*
Package billing manages per-member billing documents.

PURPOSE:
  One Billing per (membership, period): base/discount/tax/total amounts,
  a payment sub-record, typed adjustments and, when an off-day extended
  the subscription, a snapshot of that extension.

AMOUNTS:
  tax   = (base - discount) * taxRate / 100, rounded to paise
  total = base - discount + tax
  final = max(0, total - Σ{discount, leave_credit, refund} + Σ{others})

STATUS:
  pending -> overdue happens on save once dueDate < today (RefreshStatus),
  and on the scheduler's SweepOverdue pass. Paying sets paid; refunds keep
  the bill paid and record a refund adjustment plus a refund transaction.

SEE ALSO:
  - mess/billing.go: Billing, Adjustment, PaymentTransaction
  - credits/approval.go: builds the first paid bill on approval
*/
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/logging"
	"github.com/smartmess/billing-engine/mess"
)

// DefaultDueDays is how long after the period start a bill falls due.
const DefaultDueDays = 7

var hundred = decimal.NewFromInt(100)

type Manager struct {
	store  mess.TxStore
	logger logging.Logger
	now    func() time.Time
	loc    *time.Location
}

func NewManager(store mess.TxStore, logger logging.Logger, now func() time.Time, loc *time.Location) *Manager {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Manager{store: store, logger: logger, now: now, loc: loc}
}

func (m *Manager) today() generic.Date {
	return generic.TodayAt(m.now(), m.loc)
}

// =============================================================================
// BUILDING BILLS
// =============================================================================

// Amounts computes tax and total from base, discount and a percentage rate.
func Amounts(base, discount, taxRate decimal.Decimal) (tax, total decimal.Decimal) {
	taxable := base.Sub(discount)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	tax = taxable.Mul(taxRate).Div(hundred).Round(2)
	total = base.Sub(discount).Add(tax)
	return tax, total
}

// NewBill drafts a pending bill for a membership on plan covering
// [start, end]. A zero end takes the plan's period.
func NewBill(ms mess.Membership, plan mess.Plan, start, end generic.Date, now time.Time) mess.Billing {
	if end.IsZero() {
		end = plan.Pricing.Period.EndDate(start)
	}
	tax, total := Amounts(plan.Pricing.Amount, decimal.Zero, decimal.Zero)
	return mess.Billing{
		ID:           uuid.NewString(),
		UserID:       ms.UserID,
		MessID:       ms.MessID,
		MembershipID: ms.ID,
		BillingPeriod: mess.BillingPeriod{
			StartDate: start,
			EndDate:   end,
			Period:    plan.Pricing.Period,
		},
		Subscription: mess.BillingAmounts{
			PlanID:         plan.ID,
			PlanName:       plan.Name,
			BaseAmount:     plan.Pricing.Amount,
			DiscountAmount: decimal.Zero,
			TaxAmount:      tax,
			TotalAmount:    total,
		},
		Payment: mess.BillingPayment{
			Status:  mess.PaymentPending,
			DueDate: start.AddDays(DefaultDueDays),
		},
		Adjustments: []mess.Adjustment{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewTransactionID returns TXN_<unix millis>_<9 upper-case alphanumerics>.
func NewTransactionID(now time.Time) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	random := uuid.New()
	var suffix [9]byte
	for i := range suffix {
		suffix[i] = alphabet[int(random[i])%len(alphabet)]
	}
	return fmt.Sprintf("TXN_%d_%s", now.UnixMilli(), suffix[:])
}

// =============================================================================
// CREATE / READ
// =============================================================================

type CreateInput struct {
	MembershipID   string
	PeriodStart    generic.Date
	PeriodEnd      generic.Date
	BaseAmount     *decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxRate        decimal.Decimal
	DueDate        generic.Date
	ActorID        string
}

// Create drafts a bill from the membership's plan. BaseAmount overrides
// the plan price.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*mess.Billing, error) {
	if in.DiscountAmount.IsNegative() {
		return nil, generic.Invalid("discountAmount", "cannot be negative")
	}
	if in.TaxRate.IsNegative() {
		return nil, generic.Invalid("taxRate", "cannot be negative")
	}

	ms, err := m.store.GetMembership(ctx, in.MembershipID)
	if err != nil {
		return nil, err
	}
	plan, err := m.store.GetPlan(ctx, ms.PlanID)
	if err != nil {
		return nil, err
	}

	start := in.PeriodStart
	if start.IsZero() {
		start = ms.SubscriptionStartDate
	}
	if start.IsZero() {
		start = m.today()
	}
	if !in.PeriodEnd.IsZero() && in.PeriodEnd.Before(start) {
		return nil, generic.ErrInvalidRange
	}

	b := NewBill(*ms, *plan, start, in.PeriodEnd, m.now())
	if in.BaseAmount != nil {
		if in.BaseAmount.IsNegative() {
			return nil, generic.Invalid("baseAmount", "cannot be negative")
		}
		b.Subscription.BaseAmount = *in.BaseAmount
	}
	if in.DiscountAmount.GreaterThan(b.Subscription.BaseAmount) {
		return nil, generic.Invalid("discountAmount", "cannot exceed the base amount")
	}
	b.Subscription.DiscountAmount = in.DiscountAmount
	b.Subscription.TaxAmount, b.Subscription.TotalAmount = Amounts(b.Subscription.BaseAmount, in.DiscountAmount, in.TaxRate)
	if !in.DueDate.IsZero() {
		b.Payment.DueDate = in.DueDate
	}

	err = m.store.WithTx(ctx, func(tx mess.Store) error {
		if err := m.save(ctx, tx, &b); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   b.CreatedAt,
			ActorID:     in.ActorID,
			Action:      generic.AuditCreated,
			SubjectType: "billing",
			SubjectID:   b.ID,
			ScopeID:     b.MessID,
			After:       generic.Snapshot(b),
		})
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*mess.Billing, error) {
	return m.store.GetBilling(ctx, id)
}

func (m *Manager) ListByMembership(ctx context.Context, membershipID string) ([]mess.Billing, error) {
	if _, err := m.store.GetMembership(ctx, membershipID); err != nil {
		return nil, err
	}
	return m.store.ListBillingsByMembership(ctx, membershipID)
}

func (m *Manager) Transactions(ctx context.Context, billingID string) ([]mess.PaymentTransaction, error) {
	return m.store.ListPaymentTransactions(ctx, billingID)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustmentInput struct {
	Type    mess.AdjustmentType
	Amount  decimal.Decimal
	Reason  string
	ActorID string
}

// AddAdjustment appends a typed delta to a bill.
func (m *Manager) AddAdjustment(ctx context.Context, billingID string, in AdjustmentInput) (*mess.Billing, error) {
	if !in.Type.Valid() {
		return nil, generic.Invalid("type", "unknown adjustment type %q", in.Type)
	}
	if !in.Amount.IsPositive() {
		return nil, generic.Invalid("amount", "must be greater than zero")
	}

	return m.update(ctx, billingID, in.ActorID, func(_ mess.Store, b *mess.Billing) error {
		b.Adjustments = append(b.Adjustments, mess.Adjustment{
			Type:      in.Type,
			Amount:    in.Amount,
			Reason:    strings.TrimSpace(in.Reason),
			AppliedBy: in.ActorID,
			AppliedAt: m.now(),
		})
		return nil
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentInput struct {
	Method               string
	GatewayName          string
	GatewayTransactionID string
	ActorID              string
}

// MarkPaid settles a bill at its final amount and records the payment.
func (m *Manager) MarkPaid(ctx context.Context, billingID string, in PaymentInput) (*mess.Billing, *mess.PaymentTransaction, error) {
	var txn mess.PaymentTransaction
	b, err := m.update(ctx, billingID, in.ActorID, func(tx mess.Store, b *mess.Billing) error {
		if b.Payment.Status == mess.PaymentPaid {
			return fmt.Errorf("%w: billing %s is already paid", generic.ErrStateConflict, b.ID)
		}
		now := m.now()
		txn = mess.PaymentTransaction{
			ID:           NewTransactionID(now),
			BillingID:    b.ID,
			MembershipID: b.MembershipID,
			UserID:       b.UserID,
			MessID:       b.MessID,
			Type:         mess.PaymentTxPayment,
			Amount:       b.FinalAmount(),
			Status:       mess.PaymentTxCompleted,
			Method:       defaultMethod(in.Method),
			Gateway:      mess.GatewayInfo{Name: in.GatewayName, GatewayTransactionID: in.GatewayTransactionID},
			CreatedAt:    now,
		}
		if err := tx.SavePaymentTransaction(ctx, txn); err != nil {
			return err
		}

		b.Payment.Status = mess.PaymentPaid
		b.Payment.Method = txn.Method
		b.Payment.PaidDate = &now
		b.Payment.TransactionID = txn.ID

		return markMembershipPaid(ctx, tx, b.MembershipID, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return b, &txn, nil
}

type RefundInput struct {
	Amount          decimal.Decimal
	Reason          string
	GatewayRefundID string
	ActorID         string
}

// Refund returns part or all of what was paid on a bill. The total refunded
// never exceeds the total paid.
func (m *Manager) Refund(ctx context.Context, billingID string, in RefundInput) (*mess.Billing, *mess.PaymentTransaction, error) {
	if !in.Amount.IsPositive() {
		return nil, nil, generic.Invalid("amount", "must be greater than zero")
	}

	var txn mess.PaymentTransaction
	b, err := m.update(ctx, billingID, in.ActorID, func(tx mess.Store, b *mess.Billing) error {
		if b.Payment.Status != mess.PaymentPaid {
			return fmt.Errorf("%w: billing %s has not been paid", generic.ErrStateConflict, b.ID)
		}

		history, err := tx.ListPaymentTransactions(ctx, b.ID)
		if err != nil {
			return err
		}
		paid, refunded := decimal.Zero, decimal.Zero
		for _, t := range history {
			if t.Status != mess.PaymentTxCompleted {
				continue
			}
			switch t.Type {
			case mess.PaymentTxPayment:
				paid = paid.Add(t.Amount)
			case mess.PaymentTxRefund:
				refunded = refunded.Add(t.Amount)
			}
		}
		if refundable := paid.Sub(refunded); in.Amount.GreaterThan(refundable) {
			return generic.Invalid("amount", "refund of %s exceeds refundable amount %s", in.Amount, refundable)
		}

		now := m.now()
		txn = mess.PaymentTransaction{
			ID:           NewTransactionID(now),
			BillingID:    b.ID,
			MembershipID: b.MembershipID,
			UserID:       b.UserID,
			MessID:       b.MessID,
			Type:         mess.PaymentTxRefund,
			Amount:       in.Amount,
			Status:       mess.PaymentTxCompleted,
			Method:       b.Payment.Method,
			Refund: &mess.RefundInfo{
				Amount:          in.Amount,
				Reason:          strings.TrimSpace(in.Reason),
				RefundedBy:      in.ActorID,
				GatewayRefundID: in.GatewayRefundID,
				RefundedAt:      now,
			},
			CreatedAt: now,
		}
		if err := tx.SavePaymentTransaction(ctx, txn); err != nil {
			return err
		}

		b.Adjustments = append(b.Adjustments, mess.Adjustment{
			Type:      mess.AdjustRefund,
			Amount:    in.Amount,
			Reason:    strings.TrimSpace(in.Reason),
			AppliedBy: in.ActorID,
			AppliedAt: now,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return b, &txn, nil
}

// =============================================================================
// EXTENSION SNAPSHOTS
// =============================================================================

// RecordExtension attaches an off-day extension to the bill covering
// today, falling back to the membership's latest bill.
func (m *Manager) RecordExtension(ctx context.Context, membershipID string, snap mess.ExtensionSnapshot) error {
	b, err := m.store.FindBillingCovering(ctx, membershipID, m.today())
	if generic.IsNotFound(err) {
		bills, lerr := m.store.ListBillingsByMembership(ctx, membershipID)
		if lerr != nil {
			return lerr
		}
		if len(bills) == 0 {
			return err
		}
		b, err = &bills[0], nil
	}
	if err != nil {
		return err
	}

	_, err = m.update(ctx, b.ID, "system", func(_ mess.Store, b *mess.Billing) error {
		s := snap
		b.SubscriptionExtension = &s
		return nil
	})
	return err
}

// ReverseExtension clears the snapshot an off-day left on a bill.
func (m *Manager) ReverseExtension(ctx context.Context, membershipID, offDayID string) error {
	bills, err := m.store.ListBillingsByMembership(ctx, membershipID)
	if err != nil {
		return err
	}
	for _, b := range bills {
		if b.SubscriptionExtension == nil || b.SubscriptionExtension.OffDayID != offDayID {
			continue
		}
		_, err := m.update(ctx, b.ID, "system", func(_ mess.Store, b *mess.Billing) error {
			b.SubscriptionExtension = nil
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

// SweepOverdue re-saves pending bills so those past due become overdue,
// and flags their memberships. Returns how many bills changed.
func (m *Manager) SweepOverdue(ctx context.Context) (int, error) {
	pending, err := m.store.ListBillingsByStatus(ctx, mess.PaymentPending)
	if err != nil {
		return 0, err
	}

	today := m.today()
	changed := 0
	for i := range pending {
		b := pending[i]
		if !b.RefreshStatus(today) {
			continue
		}
		err := m.store.WithTx(ctx, func(tx mess.Store) error {
			if err := m.save(ctx, tx, &b); err != nil {
				return err
			}
			ms, err := tx.GetMembership(ctx, b.MembershipID)
			if generic.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if ms.PaymentStatus == mess.PaymentPending {
				ms.PaymentStatus = mess.PaymentOverdue
				ms.UpdatedAt = m.now()
				return tx.SaveMembership(ctx, *ms)
			}
			return nil
		})
		if err != nil {
			return changed, fmt.Errorf("failed to mark billing %s overdue: %w", b.ID, err)
		}
		changed++
	}

	if changed > 0 {
		m.logger.Info("Billing", "Marked bills overdue", map[string]any{"count": changed})
	}
	return changed, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// SaveWith stores b through tx, refreshing its overdue status first.
func (m *Manager) SaveWith(ctx context.Context, tx mess.Store, b *mess.Billing) error {
	return m.save(ctx, tx, b)
}

func (m *Manager) save(ctx context.Context, tx mess.Store, b *mess.Billing) error {
	b.UpdatedAt = m.now()
	if b.Adjustments == nil {
		b.Adjustments = []mess.Adjustment{}
	}
	b.RefreshStatus(m.today())
	return tx.SaveBilling(ctx, *b)
}

func (m *Manager) update(ctx context.Context, id, actorID string, fn func(tx mess.Store, b *mess.Billing) error) (*mess.Billing, error) {
	var out mess.Billing
	err := m.store.WithTx(ctx, func(tx mess.Store) error {
		b, err := tx.GetBilling(ctx, id)
		if err != nil {
			return err
		}
		before := *b
		if err := fn(tx, b); err != nil {
			return err
		}
		if err := m.save(ctx, tx, b); err != nil {
			return err
		}
		out = *b
		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   b.UpdatedAt,
			ActorID:     actorID,
			Action:      generic.AuditUpdated,
			SubjectType: "billing",
			SubjectID:   b.ID,
			ScopeID:     b.MessID,
			Before:      generic.Snapshot(before),
			After:       generic.Snapshot(b),
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func markMembershipPaid(ctx context.Context, tx mess.Store, membershipID string, now time.Time) error {
	ms, err := tx.GetMembership(ctx, membershipID)
	if generic.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	ms.PaymentStatus = mess.PaymentPaid
	ms.UpdatedAt = now
	return tx.SaveMembership(ctx, *ms)
}

func defaultMethod(method string) string {
	if method == "" {
		return "cash"
	}
	return method
}
