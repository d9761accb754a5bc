/*
Package credits implements the mess platform-credit ledger, new-member
approval, and the subscription-status gate.

PURPOSE:
  A mess pays the platform in credits: one creditsPerMember deduction per
  approved member. Messes get one free trial window; during it deductions
  are charged to the trial instead of the balance.

BOOKS:
  mess_credits   purchase (+), deduction (-), adjustment (±)
                 Σ deltas == MessCredits.AvailableCredits
  trial_credits  deductions charged to the trial window, plus the zero
                 "trial" marker written on activation

The MessCredits row is a cached balance. Every change to it is written in
the same DB transaction as its ledger entry.

SEE ALSO:
  - approval.go: deduct-then-activate inside one transaction
  - gate.go:     CheckStatus and the module allowlist
*/
package credits

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/logging"
	"github.com/smartmess/billing-engine/mess"
)

const (
	BookCredits      generic.Book = "mess_credits"
	BookTrialCredits generic.Book = "trial_credits"

	TxPurchase  generic.TransactionType = "purchase"
	TxDeduction generic.TransactionType = "deduction"
	TxTrial     generic.TransactionType = "trial"

	// BillingCycle is how long a purchase keeps the mess in its paid period.
	BillingCycle = 30 * 24 * time.Hour
)

var errTrialUnavailable = fmt.Errorf("%w: free trial unavailable", generic.ErrStateConflict)

type Ledger struct {
	store  mess.TxStore
	logger logging.Logger
	now    func() time.Time
}

func NewLedger(store mess.TxStore, logger logging.Logger, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, logger: logger, now: now}
}

// =============================================================================
// RECORD
// =============================================================================

// Get returns the credit record of a mess.
func (l *Ledger) Get(ctx context.Context, messID string) (*mess.MessCredits, error) {
	return l.store.GetMessCredits(ctx, messID)
}

// GetOrCreate returns the credit record, creating a zero balance on first
// access. The mess must exist.
func (l *Ledger) GetOrCreate(ctx context.Context, messID string) (*mess.MessCredits, error) {
	var out *mess.MessCredits
	err := l.store.WithTx(ctx, func(tx mess.Store) error {
		c, err := l.getOrCreate(ctx, tx, messID)
		out = c
		return err
	})
	return out, err
}

func (l *Ledger) getOrCreate(ctx context.Context, tx mess.Store, messID string) (*mess.MessCredits, error) {
	c, err := tx.GetMessCredits(ctx, messID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, generic.ErrCreditsNotFound) {
		return nil, err
	}
	if _, err := tx.GetMess(ctx, messID); err != nil {
		return nil, err
	}
	c = mess.NewMessCredits(messID, l.now())
	if err := tx.SaveMessCredits(ctx, *c); err != nil {
		return nil, err
	}
	return c, nil
}

// =============================================================================
// TRIAL
// =============================================================================

// ActivateTrial starts the mess's one free trial.
func (l *Ledger) ActivateTrial(ctx context.Context, messID, actorID string) (*mess.MessCredits, error) {
	var out mess.MessCredits
	err := l.store.WithTx(ctx, func(tx mess.Store) error {
		settings, err := tx.GetPlatformSettings(ctx)
		if err != nil {
			return err
		}
		if !settings.TrialEnabled {
			return fmt.Errorf("%w: trials are disabled", errTrialUnavailable)
		}
		c, err := l.getOrCreate(ctx, tx, messID)
		if err != nil {
			return err
		}
		if c.Trial.Used {
			return fmt.Errorf("%w: already used", errTrialUnavailable)
		}

		now := l.now()
		end := now.AddDate(0, 0, settings.TrialDurationDays)
		c.Trial = mess.TrialWindow{Used: true, StartDate: &now, EndDate: &end, CreditsUsed: decimal.Zero}
		c.Status = mess.CreditStatusTrial
		c.UpdatedAt = now

		err = generic.NewLedger(tx).Append(ctx, generic.Transaction{
			AccountID:      generic.AccountID(messID),
			Book:           BookTrialCredits,
			EffectiveAt:    generic.DateOf(now),
			Delta:          generic.NewAmountFromInt(0, generic.UnitCredits),
			Type:           TxTrial,
			Reason:         fmt.Sprintf("free trial for %d days", settings.TrialDurationDays),
			IdempotencyKey: "trial:" + messID,
			CreatedBy:      actorID,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		out = *c
		return tx.SaveMessCredits(ctx, *c)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Credits", "Trial activated", map[string]any{"mess_id": messID, "ends_at": out.Trial.EndDate})
	return &out, nil
}

// ExpireTrials closes trial windows that have ended. A mess that bought
// credits meanwhile becomes active, otherwise expired.
func (l *Ledger) ExpireTrials(ctx context.Context) (int, error) {
	trials, err := l.store.ListMessCreditsByStatus(ctx, mess.CreditStatusTrial)
	if err != nil {
		return 0, err
	}

	now := l.now()
	expired := 0
	for _, c := range trials {
		if c.Trial.ActiveAt(now) {
			continue
		}
		c.Status = mess.CreditStatusExpired
		if c.AvailableCredits.IsPositive() {
			c.Status = mess.CreditStatusActive
		}
		c.UpdatedAt = now
		if err := l.store.SaveMessCredits(ctx, c); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// =============================================================================
// BALANCE CHANGES
// =============================================================================

type PurchaseInput struct {
	MessID         string
	Amount         decimal.Decimal
	PlanID         string
	ActorID        string
	IdempotencyKey string
}

// Purchase adds credits and opens a new 30-day paid period.
func (l *Ledger) Purchase(ctx context.Context, in PurchaseInput) (*mess.MessCredits, error) {
	if !in.Amount.IsPositive() {
		return nil, generic.Invalid("amount", "must be greater than zero")
	}

	var out mess.MessCredits
	err := l.store.WithTx(ctx, func(tx mess.Store) error {
		c, err := l.getOrCreate(ctx, tx, in.MessID)
		if err != nil {
			return err
		}

		now := l.now()
		next := now.Add(BillingCycle)
		c.TotalCredits = c.TotalCredits.Add(in.Amount)
		c.AvailableCredits = c.AvailableCredits.Add(in.Amount)
		c.Status = mess.CreditStatusActive
		c.LastBillingDate = &now
		c.NextBillingDate = &next
		c.UpdatedAt = now

		meta := map[string]string{}
		if in.PlanID != "" {
			meta["plan_id"] = in.PlanID
		}
		err = generic.NewLedger(tx).Append(ctx, generic.Transaction{
			AccountID:      generic.AccountID(in.MessID),
			Book:           BookCredits,
			EffectiveAt:    generic.DateOf(now),
			Delta:          generic.NewAmountFromDecimal(in.Amount, generic.UnitCredits),
			Type:           TxPurchase,
			Reason:         "credit purchase",
			IdempotencyKey: in.IdempotencyKey,
			Metadata:       meta,
			CreatedBy:      in.ActorID,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		out = *c
		return tx.SaveMessCredits(ctx, *c)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type DeductInput struct {
	MessID         string
	Amount         decimal.Decimal
	Description    string
	ActorID        string
	ReferenceID    string
	IdempotencyKey string
}

// Deduct charges credits. During an active trial the charge goes to the
// trial; otherwise it is all-or-nothing against the available balance.
func (l *Ledger) Deduct(ctx context.Context, in DeductInput) (*mess.MessCredits, error) {
	if !in.Amount.IsPositive() {
		return nil, generic.Invalid("amount", "must be greater than zero")
	}
	var out *mess.MessCredits
	err := l.store.WithTx(ctx, func(tx mess.Store) error {
		c, err := l.DeductWith(ctx, tx, in)
		out = c
		return err
	})
	return out, err
}

// DeductWith runs Deduct inside the caller's transaction.
func (l *Ledger) DeductWith(ctx context.Context, tx mess.Store, in DeductInput) (*mess.MessCredits, error) {
	c, err := tx.GetMessCredits(ctx, in.MessID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	book := BookCredits
	if c.Trial.ActiveAt(now) {
		book = BookTrialCredits
		c.Trial.CreditsUsed = c.Trial.CreditsUsed.Add(in.Amount)
	} else {
		if c.AvailableCredits.LessThan(in.Amount) {
			return nil, &generic.InsufficientCreditsError{
				AccountID: generic.AccountID(in.MessID),
				Required:  in.Amount,
				Available: c.AvailableCredits,
			}
		}
		c.UsedCredits = c.UsedCredits.Add(in.Amount)
		c.AvailableCredits = c.AvailableCredits.Sub(in.Amount)
	}
	c.UpdatedAt = now

	err = generic.NewLedger(tx).Append(ctx, generic.Transaction{
		AccountID:      generic.AccountID(in.MessID),
		Book:           book,
		EffectiveAt:    generic.DateOf(now),
		Delta:          generic.NewAmountFromDecimal(in.Amount.Neg(), generic.UnitCredits),
		Type:           TxDeduction,
		ReferenceID:    in.ReferenceID,
		Reason:         strings.TrimSpace(in.Description),
		IdempotencyKey: in.IdempotencyKey,
		CreatedBy:      in.ActorID,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.SaveMessCredits(ctx, *c); err != nil {
		return nil, err
	}
	return c, nil
}

type AdjustInput struct {
	MessID      string
	Amount      decimal.Decimal
	Description string
	ActorID     string
}

// Adjust applies a signed manual correction. Negative adjustments must be
// covered by the available balance.
func (l *Ledger) Adjust(ctx context.Context, in AdjustInput) (*mess.MessCredits, error) {
	if in.Amount.IsZero() {
		return nil, generic.Invalid("amount", "cannot be zero")
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, generic.Invalid("description", "is required")
	}

	var out mess.MessCredits
	err := l.store.WithTx(ctx, func(tx mess.Store) error {
		c, err := l.getOrCreate(ctx, tx, in.MessID)
		if err != nil {
			return err
		}
		before := *c

		if in.Amount.IsPositive() {
			c.TotalCredits = c.TotalCredits.Add(in.Amount)
			c.AvailableCredits = c.AvailableCredits.Add(in.Amount)
		} else {
			take := in.Amount.Abs()
			if c.AvailableCredits.LessThan(take) {
				return &generic.InsufficientCreditsError{
					AccountID: generic.AccountID(in.MessID),
					Required:  take,
					Available: c.AvailableCredits,
				}
			}
			c.UsedCredits = c.UsedCredits.Add(take)
			c.AvailableCredits = c.AvailableCredits.Sub(take)
		}
		now := l.now()
		c.UpdatedAt = now

		err = generic.NewLedger(tx).Append(ctx, generic.Transaction{
			AccountID:   generic.AccountID(in.MessID),
			Book:        BookCredits,
			EffectiveAt: generic.DateOf(now),
			Delta:       generic.NewAmountFromDecimal(in.Amount, generic.UnitCredits),
			Type:        generic.TxAdjustment,
			Reason:      strings.TrimSpace(in.Description),
			CreatedBy:   in.ActorID,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		if err := tx.SaveMessCredits(ctx, *c); err != nil {
			return err
		}
		out = *c
		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     in.ActorID,
			Action:      generic.AuditManualAdjust,
			SubjectType: "mess_credits",
			SubjectID:   in.MessID,
			ScopeID:     in.MessID,
			Before:      generic.Snapshot(before),
			After:       generic.Snapshot(c),
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// SufficientCredits reports whether the mess can pay for one more member.
func (l *Ledger) SufficientCredits(ctx context.Context, messID string) (bool, error) {
	settings, err := l.store.GetPlatformSettings(ctx)
	if err != nil {
		return false, err
	}
	err = l.RequireCreditsWith(ctx, l.store, messID, settings.CreditsPerMember)
	if errors.Is(err, generic.ErrInsufficientCredits) {
		return false, nil
	}
	return err == nil, err
}

// RequireCreditsWith returns an InsufficientCreditsError unless the mess is
// in an active trial or holds at least required credits. A mess with no
// credit record holds none.
func (l *Ledger) RequireCreditsWith(ctx context.Context, tx mess.Store, messID string, required decimal.Decimal) error {
	available := decimal.Zero
	c, err := tx.GetMessCredits(ctx, messID)
	switch {
	case generic.IsNotFound(err):
	case err != nil:
		return err
	case c.Trial.ActiveAt(l.now()):
		return nil
	default:
		available = c.AvailableCredits
	}
	if available.LessThan(required) {
		return &generic.InsufficientCreditsError{
			AccountID: generic.AccountID(messID),
			Required:  required,
			Available: available,
		}
	}
	return nil
}

// Transactions returns the mess's credit and trial history, newest first.
func (l *Ledger) Transactions(ctx context.Context, messID string) ([]generic.Transaction, error) {
	ledger := generic.NewLedger(l.store)
	var all []generic.Transaction
	for _, book := range []generic.Book{BookCredits, BookTrialCredits} {
		txs, err := ledger.Transactions(ctx, generic.AccountID(messID), book)
		if err != nil {
			return nil, err
		}
		all = append(all, txs...)
	}
	slices.SortStableFunc(all, func(a, b generic.Transaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	slices.Reverse(all)
	return all, nil
}

// Balance sums the credits book. It always equals AvailableCredits.
func (l *Ledger) Balance(ctx context.Context, messID string) (generic.Amount, error) {
	return generic.NewLedger(l.store).Balance(ctx, generic.AccountID(messID), BookCredits, generic.UnitCredits)
}

// =============================================================================
// PLATFORM SETTINGS
// =============================================================================

func (l *Ledger) Settings(ctx context.Context) (mess.PlatformSettings, error) {
	return l.store.GetPlatformSettings(ctx)
}

func (l *Ledger) SaveSettings(ctx context.Context, s mess.PlatformSettings) (mess.PlatformSettings, error) {
	if s.TrialDurationDays < 1 {
		return s, generic.Invalid("trialDurationDays", "must be at least 1")
	}
	if s.CreditsPerMember.IsNegative() {
		return s, generic.Invalid("creditsPerMember", "cannot be negative")
	}
	s.UpdatedAt = l.now()
	if err := l.store.SavePlatformSettings(ctx, s); err != nil {
		return s, err
	}
	return s, nil
}
