package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smartmess/billing-engine/billing"
	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/logging"
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// NEW-MEMBER APPROVAL
// =============================================================================

// Approvals runs the membership payment-request flow:
//
//	join (pending, none) -> submit (sent) -> approve | reject
//
// Approval deducts creditsPerMember from the mess BEFORE activating the
// membership, inside one DB transaction. A failed deduction leaves the
// membership exactly as it was.
type Approvals struct {
	store  mess.TxStore
	ledger *Ledger
	bills  *billing.Manager
	logger logging.Logger
	now    func() time.Time
	loc    *time.Location
}

func NewApprovals(store mess.TxStore, ledger *Ledger, bills *billing.Manager, logger logging.Logger, now func() time.Time, loc *time.Location) *Approvals {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Approvals{store: store, ledger: ledger, bills: bills, logger: logger, now: now, loc: loc}
}

type JoinInput struct {
	UserID string
	MessID string
	PlanID string
}

// Join creates a pending membership on one of the mess's plans.
func (a *Approvals) Join(ctx context.Context, in JoinInput) (*mess.Membership, error) {
	if in.UserID == "" {
		return nil, generic.Invalid("userId", "is required")
	}
	if _, err := a.store.GetMess(ctx, in.MessID); err != nil {
		return nil, err
	}
	plan, err := a.store.GetPlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.MessID != in.MessID {
		return nil, generic.Invalid("planId", "plan %s does not belong to mess %s", in.PlanID, in.MessID)
	}
	if !plan.IsActive {
		return nil, generic.Invalid("planId", "plan %s is not active", in.PlanID)
	}

	now := a.now()
	m := mess.Membership{
		ID:                   uuid.NewString(),
		UserID:               in.UserID,
		MessID:               in.MessID,
		PlanID:               in.PlanID,
		Status:               mess.MembershipPending,
		PaymentStatus:        mess.PaymentPending,
		PaymentRequestStatus: mess.PaymentRequestNone,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := a.store.SaveMembership(ctx, m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (a *Approvals) Get(ctx context.Context, membershipID string) (*mess.Membership, error) {
	return a.store.GetMembership(ctx, membershipID)
}

// Submit marks the member's payment request as sent to the owner.
func (a *Approvals) Submit(ctx context.Context, membershipID, actorID string) (*mess.Membership, error) {
	var out mess.Membership
	err := a.store.WithTx(ctx, func(tx mess.Store) error {
		m, err := tx.GetMembership(ctx, membershipID)
		if err != nil {
			return err
		}
		if m.PaymentRequestStatus.Processed() {
			return generic.ErrPaymentRequestProcessed
		}
		m.PaymentRequestStatus = mess.PaymentRequestSent
		m.UpdatedAt = a.now()
		out = *m
		return tx.SaveMembership(ctx, *m)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ApprovalResult is everything an approval produced.
type ApprovalResult struct {
	Membership  mess.Membership         `json:"membership"`
	Billing     mess.Billing            `json:"billing"`
	Transaction mess.PaymentTransaction `json:"transaction"`
	Credits     *mess.MessCredits       `json:"credits,omitempty"`
}

// Approve charges the mess one member's worth of credits, activates the
// membership from today for one plan period, and records the paid bill.
func (a *Approvals) Approve(ctx context.Context, membershipID, actorID string) (*ApprovalResult, error) {
	var res ApprovalResult
	err := a.store.WithTx(ctx, func(tx mess.Store) error {
		m, err := tx.GetMembership(ctx, membershipID)
		if err != nil {
			return err
		}
		if m.PaymentRequestStatus.Processed() {
			return generic.ErrPaymentRequestProcessed
		}
		plan, err := tx.GetPlan(ctx, m.PlanID)
		if err != nil {
			return err
		}
		settings, err := tx.GetPlatformSettings(ctx)
		if err != nil {
			return err
		}

		if err := a.ledger.RequireCreditsWith(ctx, tx, m.MessID, settings.CreditsPerMember); err != nil {
			return err
		}
		if settings.CreditsPerMember.IsPositive() {
			c, err := a.ledger.DeductWith(ctx, tx, DeductInput{
				MessID:         m.MessID,
				Amount:         settings.CreditsPerMember,
				Description:    fmt.Sprintf("new member approval: %s", m.UserID),
				ActorID:        actorID,
				ReferenceID:    m.ID,
				IdempotencyKey: "approval:" + m.ID,
			})
			if err != nil {
				return err
			}
			res.Credits = c
		}

		before := *m
		now := a.now()
		start := generic.TodayAt(now, a.loc)
		m.Status = mess.MembershipActive
		m.PaymentStatus = mess.PaymentPaid
		m.PaymentRequestStatus = mess.PaymentRequestApproved
		m.SubscriptionStartDate = start
		m.SubscriptionEndDate = plan.Pricing.Period.EndDate(start)
		m.UpdatedAt = now
		if err := tx.SaveMembership(ctx, *m); err != nil {
			return err
		}

		bill := billing.NewBill(*m, *plan, start, m.SubscriptionEndDate, now)
		txn := mess.PaymentTransaction{
			ID:           billing.NewTransactionID(now),
			BillingID:    bill.ID,
			MembershipID: m.ID,
			UserID:       m.UserID,
			MessID:       m.MessID,
			Type:         mess.PaymentTxPayment,
			Amount:       bill.FinalAmount(),
			Status:       mess.PaymentTxCompleted,
			Method:       "manual",
			CreatedAt:    now,
		}
		bill.Payment.Status = mess.PaymentPaid
		bill.Payment.Method = txn.Method
		bill.Payment.PaidDate = &now
		bill.Payment.TransactionID = txn.ID
		if err := a.bills.SaveWith(ctx, tx, &bill); err != nil {
			return err
		}
		if err := tx.SavePaymentTransaction(ctx, txn); err != nil {
			return err
		}

		res.Membership, res.Billing, res.Transaction = *m, bill, txn
		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     actorID,
			Action:      generic.AuditUpdated,
			SubjectType: "membership",
			SubjectID:   m.ID,
			ScopeID:     m.MessID,
			Before:      generic.Snapshot(before),
			After:       generic.Snapshot(m),
		})
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("Approvals", "Membership approved", map[string]any{
		"membership_id": membershipID,
		"mess_id":       res.Membership.MessID,
		"end_date":      res.Membership.SubscriptionEndDate.String(),
	})
	return &res, nil
}

// Reject closes the request for good: the membership goes inactive.
func (a *Approvals) Reject(ctx context.Context, membershipID, actorID string) (*mess.Membership, error) {
	var out mess.Membership
	err := a.store.WithTx(ctx, func(tx mess.Store) error {
		m, err := tx.GetMembership(ctx, membershipID)
		if err != nil {
			return err
		}
		if m.PaymentRequestStatus.Processed() {
			return generic.ErrPaymentRequestProcessed
		}
		before := *m
		m.Status = mess.MembershipInactive
		m.PaymentStatus = mess.PaymentFailed
		m.PaymentRequestStatus = mess.PaymentRequestRejected
		m.UpdatedAt = a.now()
		if err := tx.SaveMembership(ctx, *m); err != nil {
			return err
		}
		out = *m
		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   m.UpdatedAt,
			ActorID:     actorID,
			Action:      generic.AuditUpdated,
			SubjectType: "membership",
			SubjectID:   m.ID,
			ScopeID:     m.MessID,
			Before:      generic.Snapshot(before),
			After:       generic.Snapshot(m),
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
