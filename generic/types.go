/*
Package generic provides the domain-agnostic core of the billing engine.

PURPOSE:
  Types and algorithms shared by every SmartMess ledger: credit balances,
  subscription-extension meals, payments. Whatever is being counted, the
  same append-only transaction log, calendar-date arithmetic and error
  taxonomy apply.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (3 meals, 1 day, 50 credits, 2500 INR)
  - Transaction: An immutable ledger entry recording a balance change
  - Book: Which ledger a transaction belongs to (credits, extension meals)
  - AccountID: Who owns the balance (a mess, a membership)

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only reversed
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing accounts and books
  4. Auditability: Every transaction has reason, reference, and idempotency key

USAGE:
  tx := generic.Transaction{
      AccountID: "mess-123",
      Book:      "mess_credits",
      Delta:     generic.NewAmountFromInt(-1, generic.UnitCredits),
      Type:      "deduction",
  }

SEE ALSO:
  - date.go: Calendar dates (no time-zone arithmetic)
  - ledger.go: Transaction persistence interface
  - errors.go: Error taxonomy
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal `json:"value"`
	Unit  Unit            `json:"unit"`
}

type Unit string

const (
	UnitMeals   Unit = "meals"
	UnitDays    Unit = "days"
	UnitCredits Unit = "credits"
	UnitINR     Unit = "INR"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) String() string               { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID identifies the owner of a balance: a mess for credits,
// a membership for extension meals.
type AccountID string

type TransactionID string

// Book names one ledger. Domain packages define their own books:
//
//	// In credits/ledger.go
//	const BookCredits generic.Book = "mess_credits"
type Book string

// =============================================================================
// TRANSACTION - Atomic change to a balance
// =============================================================================

// TransactionType is defined per domain; the two below are shared.
type TransactionType string

const (
	TxAdjustment TransactionType = "adjustment" // Manual admin correction
	TxReversal   TransactionType = "reversal"   // Undo a previous transaction
)

type Transaction struct {
	ID             TransactionID     `json:"id"`
	AccountID      AccountID         `json:"accountId"`
	Book           Book              `json:"book"`
	EffectiveAt    Date              `json:"effectiveAt"`
	Delta          Amount            `json:"delta"`
	Type           TransactionType   `json:"type"`
	ReferenceID    string            `json:"referenceId,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// Audit fields
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
