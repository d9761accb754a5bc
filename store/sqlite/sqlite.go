/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements mess.TxStore (and with it generic.Store and generic.AuditLog)
  using SQLite. In production the same patterns apply to PostgreSQL: only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.Store:    Append-only ledger (credits, extension meals)
  generic.AuditLog: Who did what when
  mess.Store:       Messes, plans, memberships, leaves, off-days,
                    credit balances, billing records, payment transactions
  mess.TxStore:     WithTx for atomic multi-table writes

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on transactions or audit_log
  - No DELETE statements on transactions or audit_log
  - Corrections via reversal transactions only

KEY TABLES:
  transactions:         Immutable ledger of all balance changes
  audit_log:            Before/after snapshots per subject
  off_days:             Mess closures (soft-deleted via status)
  off_day_applications: Per-membership extension deltas (saga log)
  mess_credits:         Cached credit balance per mess
  billings:             Billing documents (JSON body + query columns)

INDEXES:
  - idx_unique_active_off_day: at most one ACTIVE off-day per mess+date.
    Cancelled rows are outside the index, so a date can be re-used after
    cancellation.
  - transactions.idempotency_key UNIQUE: duplicate ledger writes fail.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction and hands fn a Store bound to the *sql.Tx; methods on
  that Store do not lock again. The pool is limited to one connection so
  ":memory:" databases are shared by every query.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/smartmess.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  err = store.WithTx(ctx, func(tx mess.Store) error {
      // every call on tx commits or rolls back together
  })

SEE ALSO:
  - mess/store.go: Domain interface definitions
  - generic/store.go: Ledger and audit interfaces
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/mess"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	db   *sql.DB
	q    queryer
	mu   *sync.RWMutex
	inTx bool
}

var _ mess.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: db, mu: &sync.RWMutex{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) write() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) read() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		book TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account_book
		ON transactions(account_id, book, effective_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		scope_id TEXT,
		before_json TEXT,
		after_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_subject
		ON audit_log(subject_type, subject_id, timestamp);

	CREATE TABLE IF NOT EXISTS messes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		chat_room_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		mess_id TEXT NOT NULL,
		name TEXT NOT NULL,
		pricing_amount TEXT NOT NULL,
		pricing_period TEXT NOT NULL,
		meals_per_day INTEGER NOT NULL DEFAULT 0,
		breakfast BOOLEAN NOT NULL DEFAULT FALSE,
		lunch BOOLEAN NOT NULL DEFAULT FALSE,
		dinner BOOLEAN NOT NULL DEFAULT FALSE,
		max_leave_meals INTEGER NOT NULL DEFAULT 0,
		extend_subscription BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_mess ON plans(mess_id);

	CREATE TABLE IF NOT EXISTS memberships (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mess_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		subscription_start_date TEXT,
		subscription_end_date TEXT,
		leave_extension_meals INTEGER NOT NULL DEFAULT 0,
		payment_request_status TEXT NOT NULL DEFAULT 'none',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_mess_status
		ON memberships(mess_id, status);

	CREATE TABLE IF NOT EXISTS leaves (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mess_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		start_meal_types TEXT,
		end_meal_types TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		reviewed_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leaves_user_mess
		ON leaves(user_id, mess_id, status, start_date);

	-- Off days (soft-deleted via status)
	CREATE TABLE IF NOT EXISTS off_days (
		id TEXT PRIMARY KEY,
		mess_id TEXT NOT NULL,
		off_date TEXT NOT NULL,
		end_date TEXT,
		reason TEXT,
		meal_types TEXT,
		start_meal_types TEXT,
		end_meal_types TEXT,
		billing_deduction BOOLEAN NOT NULL DEFAULT FALSE,
		subscription_extension BOOLEAN NOT NULL DEFAULT FALSE,
		extension_days INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		extension_state TEXT NOT NULL DEFAULT 'none',
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one active closure per mess and date; history is kept.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_off_day
		ON off_days(mess_id, off_date) WHERE status = 'active';

	CREATE INDEX IF NOT EXISTS idx_off_days_extension_state
		ON off_days(extension_state);

	-- Per-membership extension deltas (saga log)
	CREATE TABLE IF NOT EXISTS off_day_applications (
		off_day_id TEXT NOT NULL REFERENCES off_days(id),
		membership_id TEXT NOT NULL,
		missed_meals INTEGER NOT NULL,
		days_added INTEGER NOT NULL,
		state TEXT NOT NULL,
		original_end_date TEXT,
		new_end_date TEXT,
		applied_at TEXT,
		reversed_at TEXT,
		PRIMARY KEY (off_day_id, membership_id)
	);

	CREATE TABLE IF NOT EXISTS off_day_settings (
		mess_id TEXT PRIMARY KEY,
		default_subscription_extension BOOLEAN NOT NULL DEFAULT FALSE,
		default_extension_days INTEGER NOT NULL DEFAULT 1,
		default_billing_deduction BOOLEAN NOT NULL DEFAULT FALSE,
		announce_off_days BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mess_credits (
		mess_id TEXT PRIMARY KEY,
		total_credits TEXT NOT NULL,
		used_credits TEXT NOT NULL,
		available_credits TEXT NOT NULL,
		trial_used BOOLEAN NOT NULL DEFAULT FALSE,
		trial_start TEXT,
		trial_end TEXT,
		trial_credits_used TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		last_billing_date TEXT,
		next_billing_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS platform_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		trial_enabled BOOLEAN NOT NULL,
		trial_duration_days INTEGER NOT NULL,
		credits_per_member TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Billing documents: query columns + full JSON body
	CREATE TABLE IF NOT EXISTS billings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mess_id TEXT NOT NULL,
		membership_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		due_date TEXT,
		document_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_billings_membership_period
		ON billings(membership_id, period_start);
	CREATE INDEX IF NOT EXISTS idx_billings_status
		ON billings(payment_status);

	-- Payment/refund events (immutable)
	CREATE TABLE IF NOT EXISTS payment_transactions (
		id TEXT PRIMARY KEY,
		billing_id TEXT,
		membership_id TEXT,
		tx_type TEXT NOT NULL,
		document_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_transactions_billing
		ON payment_transactions(billing_id) WHERE billing_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (mess.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Called on a Store that
// is already inside a transaction, fn joins it.
func (s *Store) WithTx(ctx context.Context, fn func(store mess.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{db: s.db, q: sqlTx, mu: s.mu, inTx: true}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// TRANSACTION STORE (generic.Store interface)
// =============================================================================

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	unlock := s.write()
	defer unlock()

	return s.appendTx(ctx, tx)
}

func (s *Store) appendTx(ctx context.Context, tx generic.Transaction) error {
	if tx.ID == "" {
		tx.ID = generic.TransactionID(uuid.NewString())
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	metadataJSON, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions
		(id, account_id, book, effective_at, delta_value, delta_unit,
		 tx_type, reference_id, reason, idempotency_key, metadata_json, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, query,
		tx.ID,
		tx.AccountID,
		tx.Book,
		tx.EffectiveAt.String(),
		tx.Delta.Value.String(),
		tx.Delta.Unit,
		tx.Type,
		nullString(tx.ReferenceID),
		tx.Reason,
		nullString(tx.IdempotencyKey),
		string(metadataJSON),
		tx.CreatedBy,
		formatTime(tx.CreatedAt),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return nil
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	// Check for duplicate idempotency keys within the batch first
	idempotencyKeys := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			if idempotencyKeys[tx.IdempotencyKey] {
				return generic.ErrDuplicateIdempotencyKey
			}
			idempotencyKeys[tx.IdempotencyKey] = true
		}
	}

	return s.WithTx(ctx, func(store mess.Store) error {
		for _, tx := range txs {
			if err := store.Append(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns all transactions for account+book, oldest first.
func (s *Store) Load(ctx context.Context, accountID generic.AccountID, book generic.Book) ([]generic.Transaction, error) {
	unlock := s.read()
	defer unlock()

	query := `
		SELECT id, account_id, book, effective_at, delta_value, delta_unit,
		       tx_type, reference_id, reason, idempotency_key, metadata_json, created_by, created_at
		FROM transactions
		WHERE account_id = ? AND book = ?
		ORDER BY effective_at ASC, created_at ASC
	`

	rows, err := s.q.QueryContext(ctx, query, accountID, book)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	unlock := s.read()
	defer unlock()

	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

func scanTransaction(row scanner) (generic.Transaction, error) {
	var (
		tx             generic.Transaction
		effectiveAt    string
		deltaValue     string
		deltaUnit      string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.Book,
		&effectiveAt, &deltaValue, &deltaUnit, &tx.Type,
		&referenceID, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.EffectiveAt = parseDate(effectiveAt)
	tx.Delta = parseAmount(deltaValue, deltaUnit)
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt = parseTime(createdAt)

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata)
	}

	return tx, nil
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

// AppendAudit records an audit entry.
func (s *Store) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	unlock := s.write()
	defer unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_log
		(id, timestamp, actor_id, action, subject_type, subject_id, scope_id, before_json, after_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		formatTime(entry.Timestamp),
		entry.ActorID,
		entry.Action,
		entry.SubjectType,
		entry.SubjectID,
		entry.ScopeID,
		nullRaw(entry.Before),
		nullRaw(entry.After),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries, oldest first.
func (s *Store) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	unlock := s.read()
	defer unlock()

	var (
		where []string
		args  []any
	)
	if filter.SubjectType != "" {
		where = append(where, "subject_type = ?")
		args = append(args, filter.SubjectType)
	}
	if filter.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.ScopeID != "" {
		where = append(where, "scope_id = ?")
		args = append(args, filter.ScopeID)
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		actions := make([]any, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		where = append(where, "action IN ("+placeholders(len(actions))+")")
		args = append(args, actions...)
	}

	query := `
		SELECT id, timestamp, actor_id, action, subject_type, subject_id, scope_id, before_json, after_json
		FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC, rowid ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e                generic.AuditEntry
			ts               string
			actorID, scopeID sql.NullString
			before, after    sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &actorID, &e.Action, &e.SubjectType, &e.SubjectID, &scopeID, &before, &after); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		e.ActorID = actorID.String
		e.ScopeID = scopeID.String
		if before.Valid {
			e.Before = json.RawMessage(before.String)
		}
		if after.Valid {
			e.After = json.RawMessage(after.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// MESS STORE
// =============================================================================

func (s *Store) SaveMess(ctx context.Context, m mess.Mess) error {
	unlock := s.write()
	defer unlock()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO messes (id, name, owner_id, chat_room_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			chat_room_id = excluded.chat_room_id
	`, m.ID, m.Name, m.OwnerID, nullString(m.ChatRoom), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save mess: %w", err)
	}
	return nil
}

func (s *Store) GetMess(ctx context.Context, id string) (*mess.Mess, error) {
	unlock := s.read()
	defer unlock()

	m, err := scanMess(s.q.QueryRowContext(ctx,
		"SELECT id, name, owner_id, chat_room_id, created_at FROM messes WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrMessNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMesses(ctx context.Context) ([]mess.Mess, error) {
	unlock := s.read()
	defer unlock()

	rows, err := s.q.QueryContext(ctx,
		"SELECT id, name, owner_id, chat_room_id, created_at FROM messes ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messes []mess.Mess
	for rows.Next() {
		m, err := scanMess(rows)
		if err != nil {
			return nil, err
		}
		messes = append(messes, m)
	}
	return messes, rows.Err()
}

func scanMess(row scanner) (mess.Mess, error) {
	var (
		m         mess.Mess
		chatRoom  sql.NullString
		createdAt string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.OwnerID, &chatRoom, &createdAt); err != nil {
		return m, err
	}
	m.ChatRoom = chatRoom.String
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}

// =============================================================================
// PLAN STORE
// =============================================================================

const planColumns = `id, mess_id, name, pricing_amount, pricing_period, meals_per_day,
	breakfast, lunch, dinner, max_leave_meals, extend_subscription, is_active, created_at`

func (s *Store) SavePlan(ctx context.Context, p mess.Plan) error {
	unlock := s.write()
	defer unlock()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pricing_amount = excluded.pricing_amount,
			pricing_period = excluded.pricing_period,
			meals_per_day = excluded.meals_per_day,
			breakfast = excluded.breakfast,
			lunch = excluded.lunch,
			dinner = excluded.dinner,
			max_leave_meals = excluded.max_leave_meals,
			extend_subscription = excluded.extend_subscription,
			is_active = excluded.is_active
	`,
		p.ID, p.MessID, p.Name, p.Pricing.Amount.String(), p.Pricing.Period, p.MealsPerDay,
		p.MealOptions.Breakfast, p.MealOptions.Lunch, p.MealOptions.Dinner,
		p.LeaveRules.MaxLeaveMeals, p.LeaveRules.ExtendSubscription, p.IsActive,
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*mess.Plan, error) {
	unlock := s.read()
	defer unlock()

	p, err := scanPlan(s.q.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPlans(ctx context.Context, messID string) ([]mess.Plan, error) {
	unlock := s.read()
	defer unlock()

	rows, err := s.q.QueryContext(ctx,
		"SELECT "+planColumns+" FROM plans WHERE mess_id = ? ORDER BY name", messID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []mess.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func scanPlan(row scanner) (mess.Plan, error) {
	var (
		p         mess.Plan
		amount    string
		createdAt string
	)
	err := row.Scan(&p.ID, &p.MessID, &p.Name, &amount, &p.Pricing.Period, &p.MealsPerDay,
		&p.MealOptions.Breakfast, &p.MealOptions.Lunch, &p.MealOptions.Dinner,
		&p.LeaveRules.MaxLeaveMeals, &p.LeaveRules.ExtendSubscription, &p.IsActive, &createdAt)
	if err != nil {
		return p, err
	}
	p.Pricing.Amount = generic.MustParseDecimal(amount)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// MEMBERSHIP STORE
// =============================================================================

const membershipColumns = `id, user_id, mess_id, plan_id, status, payment_status,
	subscription_start_date, subscription_end_date, leave_extension_meals,
	payment_request_status, created_at, updated_at`

func (s *Store) SaveMembership(ctx context.Context, m mess.Membership) error {
	unlock := s.write()
	defer unlock()

	if m.PaymentRequestStatus == "" {
		m.PaymentRequestStatus = mess.PaymentRequestNone
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO memberships (`+membershipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			payment_status = excluded.payment_status,
			subscription_start_date = excluded.subscription_start_date,
			subscription_end_date = excluded.subscription_end_date,
			leave_extension_meals = excluded.leave_extension_meals,
			payment_request_status = excluded.payment_request_status,
			updated_at = excluded.updated_at
	`,
		m.ID, m.UserID, m.MessID, m.PlanID, m.Status, m.PaymentStatus,
		nullDate(m.SubscriptionStartDate), nullDate(m.SubscriptionEndDate),
		m.LeaveExtensionMeals, m.PaymentRequestStatus,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save membership: %w", err)
	}
	return nil
}

func (s *Store) GetMembership(ctx context.Context, id string) (*mess.Membership, error) {
	unlock := s.read()
	defer unlock()

	m, err := scanMembership(s.q.QueryRowContext(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrMembershipNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMembershipsByMess(ctx context.Context, messID string, statuses ...mess.MembershipStatus) ([]mess.Membership, error) {
	unlock := s.read()
	defer unlock()

	query := "SELECT " + membershipColumns + " FROM memberships WHERE mess_id = ?"
	args := []any{messID}
	if len(statuses) > 0 {
		query += " AND status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []mess.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func scanMembership(row scanner) (mess.Membership, error) {
	var (
		m                    mess.Membership
		start, end           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.MessID, &m.PlanID, &m.Status, &m.PaymentStatus,
		&start, &end, &m.LeaveExtensionMeals, &m.PaymentRequestStatus, &createdAt, &updatedAt)
	if err != nil {
		return m, err
	}
	m.SubscriptionStartDate = parseDate(start.String)
	m.SubscriptionEndDate = parseDate(end.String)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return m, nil
}

// =============================================================================
// LEAVE STORE
// =============================================================================

const leaveColumns = `id, user_id, mess_id, start_date, end_date, start_meal_types, end_meal_types,
	status, reason, reviewed_by, created_at, updated_at`

func (s *Store) SaveLeave(ctx context.Context, l mess.Leave) error {
	unlock := s.write()
	defer unlock()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO leaves (`+leaveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			start_meal_types = excluded.start_meal_types,
			end_meal_types = excluded.end_meal_types,
			status = excluded.status,
			reason = excluded.reason,
			reviewed_by = excluded.reviewed_by,
			updated_at = excluded.updated_at
	`,
		l.ID, l.UserID, l.MessID, l.StartDate.String(), l.EndDate.String(),
		mealTypesJSON(l.StartDateMealTypes), mealTypesJSON(l.EndDateMealTypes),
		l.Status, l.Reason, nullString(l.ReviewedBy),
		formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save leave: %w", err)
	}
	return nil
}

func (s *Store) GetLeave(ctx context.Context, id string) (*mess.Leave, error) {
	unlock := s.read()
	defer unlock()

	l, err := scanLeave(s.q.QueryRowContext(ctx, "SELECT "+leaveColumns+" FROM leaves WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrLeaveNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) ListLeavesByUser(ctx context.Context, userID, messID string) ([]mess.Leave, error) {
	unlock := s.read()
	defer unlock()

	return s.queryLeaves(ctx,
		"SELECT "+leaveColumns+" FROM leaves WHERE user_id = ? AND mess_id = ? ORDER BY start_date DESC",
		userID, messID)
}

func (s *Store) ListApprovedLeaves(ctx context.Context, userID, messID string, r generic.DateRange) ([]mess.Leave, error) {
	unlock := s.read()
	defer unlock()

	return s.queryLeaves(ctx, `
		SELECT `+leaveColumns+` FROM leaves
		WHERE user_id = ? AND mess_id = ? AND status = 'approved'
		  AND start_date <= ? AND end_date >= ?
		ORDER BY start_date ASC
	`, userID, messID, r.End.String(), r.Start.String())
}

func (s *Store) queryLeaves(ctx context.Context, query string, args ...any) ([]mess.Leave, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leaves []mess.Leave
	for rows.Next() {
		l, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, l)
	}
	return leaves, rows.Err()
}

func scanLeave(row scanner) (mess.Leave, error) {
	var (
		l                    mess.Leave
		start, end           string
		startMeals, endMeals sql.NullString
		reason, reviewedBy   sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&l.ID, &l.UserID, &l.MessID, &start, &end, &startMeals, &endMeals,
		&l.Status, &reason, &reviewedBy, &createdAt, &updatedAt)
	if err != nil {
		return l, err
	}
	l.StartDate = parseDate(start)
	l.EndDate = parseDate(end)
	l.StartDateMealTypes = parseMealTypes(startMeals)
	l.EndDateMealTypes = parseMealTypes(endMeals)
	l.Reason = reason.String
	l.ReviewedBy = reviewedBy.String
	l.CreatedAt = parseTime(createdAt)
	l.UpdatedAt = parseTime(updatedAt)
	return l, nil
}

// =============================================================================
// OFF DAY STORE
// =============================================================================

const offDayColumns = `id, mess_id, off_date, end_date, reason, meal_types, start_meal_types, end_meal_types,
	billing_deduction, subscription_extension, extension_days, status, extension_state,
	created_by, created_at, updated_at`

// CreateOffDay inserts a new off-day. The partial unique index turns a
// second active off-day on the same date into ErrDuplicateOffDay.
func (s *Store) CreateOffDay(ctx context.Context, o mess.OffDay) error {
	unlock := s.write()
	defer unlock()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO off_days (`+offDayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, offDayArgs(o)...)
	if err != nil {
		if isOffDayUniquenessError(err) {
			return generic.ErrDuplicateOffDay
		}
		return fmt.Errorf("failed to create off day: %w", err)
	}
	return nil
}

func (s *Store) UpdateOffDay(ctx context.Context, o mess.OffDay) error {
	unlock := s.write()
	defer unlock()

	res, err := s.q.ExecContext(ctx, `
		UPDATE off_days SET
			off_date = ?, end_date = ?, reason = ?, meal_types = ?, start_meal_types = ?, end_meal_types = ?,
			billing_deduction = ?, subscription_extension = ?, extension_days = ?,
			status = ?, extension_state = ?, updated_at = ?
		WHERE id = ?
	`,
		o.OffDate.String(), nullDate(o.EndDate), o.Reason,
		mealTypesJSON(o.MealTypes), mealTypesJSON(o.StartDateMealTypes), mealTypesJSON(o.EndDateMealTypes),
		o.BillingDeduction, o.SubscriptionExtension, o.ExtensionDays,
		o.Status, o.ExtensionState, formatTime(o.UpdatedAt),
		o.ID,
	)
	if err != nil {
		if isOffDayUniquenessError(err) {
			return generic.ErrDuplicateOffDay
		}
		return fmt.Errorf("failed to update off day: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrOffDayNotFound, o.ID)
	}
	return nil
}

func (s *Store) GetOffDay(ctx context.Context, id string) (*mess.OffDay, error) {
	unlock := s.read()
	defer unlock()

	o, err := scanOffDay(s.q.QueryRowContext(ctx, "SELECT "+offDayColumns+" FROM off_days WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrOffDayNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOffDays returns off-days matching filter, ordered by date. A From/To
// window matches every off-day whose span overlaps it.
func (s *Store) ListOffDays(ctx context.Context, filter mess.OffDayFilter) ([]mess.OffDay, error) {
	unlock := s.read()
	defer unlock()

	var (
		where []string
		args  []any
	)
	if filter.MessID != "" {
		where = append(where, "mess_id = ?")
		args = append(args, filter.MessID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		where = append(where, "COALESCE(end_date, off_date) >= ?")
		args = append(args, filter.From.String())
	}
	if !filter.To.IsZero() {
		where = append(where, "off_date <= ?")
		args = append(args, filter.To.String())
	}

	query := "SELECT " + offDayColumns + " FROM off_days"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY off_date ASC, created_at ASC, rowid ASC"

	return s.queryOffDays(ctx, query, args...)
}

func (s *Store) FindActiveOffDay(ctx context.Context, messID string, date generic.Date) (*mess.OffDay, error) {
	unlock := s.read()
	defer unlock()

	o, err := scanOffDay(s.q.QueryRowContext(ctx,
		"SELECT "+offDayColumns+" FROM off_days WHERE mess_id = ? AND off_date = ? AND status = 'active'",
		messID, date.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s on %s", generic.ErrOffDayNotFound, messID, date)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListOffDaysByExtensionState(ctx context.Context, states ...mess.ExtensionState) ([]mess.OffDay, error) {
	unlock := s.read()
	defer unlock()

	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	return s.queryOffDays(ctx,
		"SELECT "+offDayColumns+" FROM off_days WHERE extension_state IN ("+placeholders(len(states))+") ORDER BY created_at ASC",
		args...)
}

func (s *Store) queryOffDays(ctx context.Context, query string, args ...any) ([]mess.OffDay, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query off days: %w", err)
	}
	defer rows.Close()

	var offDays []mess.OffDay
	for rows.Next() {
		o, err := scanOffDay(rows)
		if err != nil {
			return nil, err
		}
		offDays = append(offDays, o)
	}
	return offDays, rows.Err()
}

func offDayArgs(o mess.OffDay) []any {
	return []any{
		o.ID, o.MessID, o.OffDate.String(), nullDate(o.EndDate), o.Reason,
		mealTypesJSON(o.MealTypes), mealTypesJSON(o.StartDateMealTypes), mealTypesJSON(o.EndDateMealTypes),
		o.BillingDeduction, o.SubscriptionExtension, o.ExtensionDays,
		o.Status, o.ExtensionState, o.CreatedBy,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	}
}

func scanOffDay(row scanner) (mess.OffDay, error) {
	var (
		o                               mess.OffDay
		offDate                         string
		endDate, reason, createdBy      sql.NullString
		mealTypes, startMeals, endMeals sql.NullString
		createdAt, updatedAt            string
	)
	err := row.Scan(&o.ID, &o.MessID, &offDate, &endDate, &reason, &mealTypes, &startMeals, &endMeals,
		&o.BillingDeduction, &o.SubscriptionExtension, &o.ExtensionDays, &o.Status, &o.ExtensionState,
		&createdBy, &createdAt, &updatedAt)
	if err != nil {
		return o, err
	}
	o.OffDate = parseDate(offDate)
	o.EndDate = parseDate(endDate.String)
	o.Reason = reason.String
	o.MealTypes = parseMealTypes(mealTypes)
	o.StartDateMealTypes = parseMealTypes(startMeals)
	o.EndDateMealTypes = parseMealTypes(endMeals)
	o.CreatedBy = createdBy.String
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}

// SaveOffDayApplication upserts one membership's extension delta.
func (s *Store) SaveOffDayApplication(ctx context.Context, a mess.OffDayApplication) error {
	unlock := s.write()
	defer unlock()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO off_day_applications
		(off_day_id, membership_id, missed_meals, days_added, state, original_end_date, new_end_date, applied_at, reversed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(off_day_id, membership_id) DO UPDATE SET
			missed_meals = excluded.missed_meals,
			days_added = excluded.days_added,
			state = excluded.state,
			original_end_date = excluded.original_end_date,
			new_end_date = excluded.new_end_date,
			applied_at = excluded.applied_at,
			reversed_at = excluded.reversed_at
	`,
		a.OffDayID, a.MembershipID, a.MissedMeals, a.DaysAdded, a.State,
		nullDate(a.OriginalEndDate), nullDate(a.NewEndDate),
		nullTime(a.AppliedAt), nullTime(a.ReversedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save off day application: %w", err)
	}
	return nil
}

func (s *Store) ListOffDayApplications(ctx context.Context, offDayID string) ([]mess.OffDayApplication, error) {
	unlock := s.read()
	defer unlock()

	rows, err := s.q.QueryContext(ctx, `
		SELECT off_day_id, membership_id, missed_meals, days_added, state,
		       original_end_date, new_end_date, applied_at, reversed_at
		FROM off_day_applications
		WHERE off_day_id = ?
		ORDER BY membership_id ASC
	`, offDayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []mess.OffDayApplication
	for rows.Next() {
		var (
			a                     mess.OffDayApplication
			origEnd, newEnd       sql.NullString
			appliedAt, reversedAt sql.NullString
		)
		if err := rows.Scan(&a.OffDayID, &a.MembershipID, &a.MissedMeals, &a.DaysAdded, &a.State,
			&origEnd, &newEnd, &appliedAt, &reversedAt); err != nil {
			return nil, err
		}
		a.OriginalEndDate = parseDate(origEnd.String)
		a.NewEndDate = parseDate(newEnd.String)
		a.AppliedAt = parseNullTime(appliedAt)
		a.ReversedAt = parseNullTime(reversedAt)
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// GetOffDaySettings returns the saved settings or the defaults.
func (s *Store) GetOffDaySettings(ctx context.Context, messID string) (mess.OffDaySettings, error) {
	unlock := s.read()
	defer unlock()

	var (
		st        = mess.OffDaySettings{MessID: messID}
		updatedAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT default_subscription_extension, default_extension_days, default_billing_deduction,
		       announce_off_days, updated_at
		FROM off_day_settings WHERE mess_id = ?
	`, messID).Scan(&st.DefaultSubscriptionExtension, &st.DefaultExtensionDays,
		&st.DefaultBillingDeduction, &st.AnnounceOffDays, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return mess.DefaultOffDaySettings(messID), nil
	}
	if err != nil {
		return st, err
	}
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}

func (s *Store) SaveOffDaySettings(ctx context.Context, st mess.OffDaySettings) error {
	unlock := s.write()
	defer unlock()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO off_day_settings
		(mess_id, default_subscription_extension, default_extension_days, default_billing_deduction, announce_off_days, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(mess_id) DO UPDATE SET
			default_subscription_extension = excluded.default_subscription_extension,
			default_extension_days = excluded.default_extension_days,
			default_billing_deduction = excluded.default_billing_deduction,
			announce_off_days = excluded.announce_off_days,
			updated_at = excluded.updated_at
	`, st.MessID, st.DefaultSubscriptionExtension, st.DefaultExtensionDays,
		st.DefaultBillingDeduction, st.AnnounceOffDays, formatTime(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save off day settings: %w", err)
	}
	return nil
}

// =============================================================================
// CREDIT STORE
// =============================================================================

const creditColumns = `mess_id, total_credits, used_credits, available_credits,
	trial_used, trial_start, trial_end, trial_credits_used, status,
	last_billing_date, next_billing_date, created_at, updated_at`

func (s *Store) GetMessCredits(ctx context.Context, messID string) (*mess.MessCredits, error) {
	unlock := s.read()
	defer unlock()

	c, err := scanCredits(s.q.QueryRowContext(ctx,
		"SELECT "+creditColumns+" FROM mess_credits WHERE mess_id = ?", messID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrCreditsNotFound, messID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) SaveMessCredits(ctx context.Context, c mess.MessCredits) error {
	unlock := s.write()
	defer unlock()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO mess_credits (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mess_id) DO UPDATE SET
			total_credits = excluded.total_credits,
			used_credits = excluded.used_credits,
			available_credits = excluded.available_credits,
			trial_used = excluded.trial_used,
			trial_start = excluded.trial_start,
			trial_end = excluded.trial_end,
			trial_credits_used = excluded.trial_credits_used,
			status = excluded.status,
			last_billing_date = excluded.last_billing_date,
			next_billing_date = excluded.next_billing_date,
			updated_at = excluded.updated_at
	`,
		c.MessID, c.TotalCredits.String(), c.UsedCredits.String(), c.AvailableCredits.String(),
		c.Trial.Used, nullTime(c.Trial.StartDate), nullTime(c.Trial.EndDate), c.Trial.CreditsUsed.String(),
		c.Status, nullTime(c.LastBillingDate), nullTime(c.NextBillingDate),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save mess credits: %w", err)
	}
	return nil
}

func (s *Store) ListMessCreditsByStatus(ctx context.Context, status mess.CreditStatus) ([]mess.MessCredits, error) {
	unlock := s.read()
	defer unlock()

	rows, err := s.q.QueryContext(ctx,
		"SELECT "+creditColumns+" FROM mess_credits WHERE status = ? ORDER BY mess_id", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mess.MessCredits
	for rows.Next() {
		c, err := scanCredits(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCredits(row scanner) (mess.MessCredits, error) {
	var (
		c                                 mess.MessCredits
		total, used, available, trialUsed string
		trialStart, trialEnd, last, next  sql.NullString
		createdAt, updatedAt              string
	)
	err := row.Scan(&c.MessID, &total, &used, &available,
		&c.Trial.Used, &trialStart, &trialEnd, &trialUsed, &c.Status,
		&last, &next, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}
	c.TotalCredits = generic.MustParseDecimal(total)
	c.UsedCredits = generic.MustParseDecimal(used)
	c.AvailableCredits = generic.MustParseDecimal(available)
	c.Trial.CreditsUsed = generic.MustParseDecimal(trialUsed)
	c.Trial.StartDate = parseNullTime(trialStart)
	c.Trial.EndDate = parseNullTime(trialEnd)
	c.LastBillingDate = parseNullTime(last)
	c.NextBillingDate = parseNullTime(next)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// GetPlatformSettings returns the saved settings or the defaults.
func (s *Store) GetPlatformSettings(ctx context.Context) (mess.PlatformSettings, error) {
	unlock := s.read()
	defer unlock()

	var (
		ps                   mess.PlatformSettings
		perMember, updatedAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT trial_enabled, trial_duration_days, credits_per_member, updated_at
		FROM platform_settings WHERE id = 1
	`).Scan(&ps.TrialEnabled, &ps.TrialDurationDays, &perMember, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return mess.DefaultPlatformSettings(), nil
	}
	if err != nil {
		return ps, err
	}
	ps.CreditsPerMember = generic.MustParseDecimal(perMember)
	ps.UpdatedAt = parseTime(updatedAt)
	return ps, nil
}

func (s *Store) SavePlatformSettings(ctx context.Context, ps mess.PlatformSettings) error {
	unlock := s.write()
	defer unlock()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO platform_settings (id, trial_enabled, trial_duration_days, credits_per_member, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trial_enabled = excluded.trial_enabled,
			trial_duration_days = excluded.trial_duration_days,
			credits_per_member = excluded.credits_per_member,
			updated_at = excluded.updated_at
	`, ps.TrialEnabled, ps.TrialDurationDays, ps.CreditsPerMember.String(), formatTime(ps.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save platform settings: %w", err)
	}
	return nil
}

// =============================================================================
// BILLING STORE
// =============================================================================

// SaveBilling upserts a billing document. Status normalisation is the
// caller's job (see mess.Billing.RefreshStatus).
func (s *Store) SaveBilling(ctx context.Context, b mess.Billing) error {
	unlock := s.write()
	defer unlock()

	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode billing: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO billings
		(id, user_id, mess_id, membership_id, period_start, period_end, payment_status, due_date,
		 document_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			period_start = excluded.period_start,
			period_end = excluded.period_end,
			payment_status = excluded.payment_status,
			due_date = excluded.due_date,
			document_json = excluded.document_json,
			updated_at = excluded.updated_at
	`,
		b.ID, b.UserID, b.MessID, b.MembershipID,
		b.BillingPeriod.StartDate.String(), b.BillingPeriod.EndDate.String(),
		b.Payment.Status, nullDate(b.Payment.DueDate),
		string(doc), formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save billing: %w", err)
	}
	return nil
}

func (s *Store) GetBilling(ctx context.Context, id string) (*mess.Billing, error) {
	unlock := s.read()
	defer unlock()

	var doc string
	err := s.q.QueryRowContext(ctx, "SELECT document_json FROM billings WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrBillingNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeBilling(doc)
}

func (s *Store) ListBillingsByMembership(ctx context.Context, membershipID string) ([]mess.Billing, error) {
	unlock := s.read()
	defer unlock()

	return s.queryBillings(ctx,
		"SELECT document_json FROM billings WHERE membership_id = ? ORDER BY period_start DESC",
		membershipID)
}

func (s *Store) ListBillingsByStatus(ctx context.Context, status mess.PaymentStatus) ([]mess.Billing, error) {
	unlock := s.read()
	defer unlock()

	return s.queryBillings(ctx,
		"SELECT document_json FROM billings WHERE payment_status = ? ORDER BY due_date ASC",
		status)
}

func (s *Store) FindBillingCovering(ctx context.Context, membershipID string, d generic.Date) (*mess.Billing, error) {
	unlock := s.read()
	defer unlock()

	var doc string
	err := s.q.QueryRowContext(ctx, `
		SELECT document_json FROM billings
		WHERE membership_id = ? AND period_start <= ? AND period_end >= ?
		ORDER BY period_start DESC
		LIMIT 1
	`, membershipID, d.String(), d.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: membership %s on %s", generic.ErrBillingNotFound, membershipID, d)
	}
	if err != nil {
		return nil, err
	}
	return decodeBilling(doc)
}

func (s *Store) queryBillings(ctx context.Context, query string, args ...any) ([]mess.Billing, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mess.Billing
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		b, err := decodeBilling(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func decodeBilling(doc string) (*mess.Billing, error) {
	var b mess.Billing
	if err := json.Unmarshal([]byte(doc), &b); err != nil {
		return nil, fmt.Errorf("failed to decode billing: %w", err)
	}
	return &b, nil
}

// SavePaymentTransaction inserts a payment or refund event. Events are
// immutable; saving an existing id fails.
func (s *Store) SavePaymentTransaction(ctx context.Context, t mess.PaymentTransaction) error {
	unlock := s.write()
	defer unlock()

	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode payment transaction: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO payment_transactions (id, billing_id, membership_id, tx_type, document_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, nullString(t.BillingID), nullString(t.MembershipID), t.Type, string(doc), formatTime(t.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: payment transaction %s", generic.ErrDuplicateIdempotencyKey, t.ID)
		}
		return fmt.Errorf("failed to save payment transaction: %w", err)
	}
	return nil
}

func (s *Store) GetPaymentTransaction(ctx context.Context, id string) (*mess.PaymentTransaction, error) {
	unlock := s.read()
	defer unlock()

	var doc string
	err := s.q.QueryRowContext(ctx, "SELECT document_json FROM payment_transactions WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment transaction %w: %s", generic.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var t mess.PaymentTransaction
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("failed to decode payment transaction: %w", err)
	}
	return &t, nil
}

func (s *Store) ListPaymentTransactions(ctx context.Context, billingID string) ([]mess.PaymentTransaction, error) {
	unlock := s.read()
	defer unlock()

	rows, err := s.q.QueryContext(ctx,
		"SELECT document_json FROM payment_transactions WHERE billing_id = ? ORDER BY created_at ASC",
		billingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []mess.PaymentTransaction
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var t mess.PaymentTransaction
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, fmt.Errorf("failed to decode payment transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	unlock := s.write()
	defer unlock()

	tables := []string{
		"off_day_applications", "off_days", "off_day_settings", "leaves", "memberships",
		"plans", "messes", "mess_credits", "platform_settings", "billings",
		"payment_transactions", "transactions", "audit_log",
	}
	for _, table := range tables {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullRaw(b json.RawMessage) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullDate(d generic.Date) sql.NullString {
	return nullString(d.String())
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseDate(s string) generic.Date {
	if s == "" {
		return generic.Date{}
	}
	d, _ := generic.ParseDate(s)
	return d
}

func parseAmount(value, unit string) generic.Amount {
	return generic.Amount{
		Value: generic.MustParseDecimal(value),
		Unit:  generic.Unit(unit),
	}
}

func mealTypesJSON(types []mess.MealType) sql.NullString {
	if len(types) == 0 {
		return sql.NullString{}
	}
	b, _ := json.Marshal(types)
	return sql.NullString{String: string(b), Valid: true}
}

func parseMealTypes(ns sql.NullString) []mess.MealType {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var types []mess.MealType
	json.Unmarshal([]byte(ns.String), &types)
	return types
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// SQLite reports partial-index violations by column, not by index name.
func isOffDayUniquenessError(err error) bool {
	return isUniqueConstraintError(err) && strings.Contains(err.Error(), "off_days.mess_id")
}
