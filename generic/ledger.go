/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger is the immutable history of every balance change: credit
  purchases and deductions for a mess, extension meals granted to and
  reversed from a membership. Cached balances (MessCredits,
  Membership.LeaveExtensionMeals) are always written in the same database
  transaction as the ledger entry that explains them.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

CORRECTIONS:
  A mistake is never edited. A TxReversal with the opposite sign is
  appended and both entries remain:

    membership m-1 extension_meals: [+3 (off day od-1), -3 (od-1 cancelled)] = 0

SEE ALSO:
  - store.go: Low-level persistence interface
  - meals/reconciler.go: Extension apply/reverse entries
  - credits/ledger.go: Credit entries
*/
package generic

import "context"

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

// Ledger is the source of truth for all balance changes.
type Ledger interface {
	// Append adds a transaction. Fails if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch adds multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns all transactions for account+book, chronologically.
	Transactions(ctx context.Context, accountID AccountID, book Book) ([]Transaction, error)

	// Balance sums every delta for account+book.
	Balance(ctx context.Context, accountID AccountID, book Book, unit Unit) (Amount, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateIdempotencyKey
			}
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, accountID AccountID, book Book) ([]Transaction, error) {
	return l.Store.Load(ctx, accountID, book)
}

func (l *DefaultLedger) Balance(ctx context.Context, accountID AccountID, book Book, unit Unit) (Amount, error) {
	txs, err := l.Store.Load(ctx, accountID, book)
	if err != nil {
		return Amount{}, err
	}

	balance := NewAmountFromInt(0, unit)
	for _, tx := range txs {
		balance = balance.Add(tx.Delta)
	}
	return balance, nil
}
