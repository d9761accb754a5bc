/*
store.go - Persistence interfaces for transactions and the audit trail

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  handles persistence while maintaining append-only semantics. Domain
  stores (mess.Store) embed it so one database transaction can write a
  ledger entry together with the record it explains.

KEY INTERFACES:
  Store:    Core transaction persistence (append, load, exists)
  AuditLog: Who did what when, with before/after snapshots

IDEMPOTENCY:
  Every write can carry an idempotency key. If the key already exists,
  the write is rejected with ErrDuplicateIdempotencyKey. Reconciliation
  relies on this: re-running a half-finished extension saga never extends
  a membership twice.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// STORE - Interface for transaction persistence (append-only)
// =============================================================================

// Store handles persistence of transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete.
type Store interface {
	// Append persists a transaction. Returns error if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for account+book, ordered by EffectiveAt.
	Load(ctx context.Context, accountID AccountID, book Book) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	ActorID     string          `json:"actorId"`
	Action      AuditAction     `json:"action"`
	SubjectType string          `json:"subjectType"` // "off_day", "mess_credits"
	SubjectID   string          `json:"subjectId"`
	ScopeID     string          `json:"scopeId,omitempty"` // owning mess
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
}

type AuditAction string

const (
	AuditCreated           AuditAction = "create"
	AuditUpdated           AuditAction = "update"
	AuditDeleted           AuditAction = "delete"
	AuditExtensionApplied  AuditAction = "extension_applied"
	AuditExtensionReversed AuditAction = "extension_reversed"
	AuditManualAdjust      AuditAction = "manual_adjustment"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	SubjectType string
	SubjectID   string
	ScopeID     string
	ActorID     string
	Actions     []AuditAction
}

// Snapshot marshals v for an audit payload. Failures yield nil.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
