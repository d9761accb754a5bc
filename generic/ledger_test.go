package generic_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() (*generic.DefaultLedger, *store.Memory) {
	mem := store.NewMemory()
	return generic.NewLedger(mem), mem
}

func meals(n int) generic.Amount {
	return generic.NewAmountFromInt(n, generic.UnitMeals)
}

func grant(membership string, date string, n int, key string) generic.Transaction {
	return generic.Transaction{
		AccountID:      generic.AccountID(membership),
		Book:           "extension_meals",
		EffectiveAt:    generic.MustParseDate(date),
		Delta:          meals(n),
		Type:           generic.TxAdjustment,
		IdempotencyKey: key,
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_ReversalNetsToZero(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	// GIVEN: An off-day granted 3 extension meals
	require.NoError(t, ledger.Append(ctx, grant("ms-1", "2026-10-20", 3, "offday:od-1:ms-1:apply")))

	// WHEN: It is cancelled and the grant reversed
	rev := grant("ms-1", "2026-10-21", -3, "offday:od-1:ms-1:reverse")
	rev.Type = generic.TxReversal
	require.NoError(t, ledger.Append(ctx, rev))

	// THEN: Both entries remain and the balance is zero
	txs, err := ledger.Transactions(ctx, "ms-1", "extension_meals")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, generic.TxReversal, txs[1].Type)

	bal, err := ledger.Balance(ctx, "ms-1", "extension_meals", generic.UnitMeals)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestLedger_RejectsReplayedKey(t *testing.T) {
	ctx := context.Background()
	ledger, mem := newTestLedger()

	require.NoError(t, ledger.Append(ctx, grant("ms-1", "2026-10-20", 3, "k-1")))
	err := ledger.Append(ctx, grant("ms-1", "2026-10-20", 3, "k-1"))
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)
	assert.True(t, generic.IsClientError(err))

	// A batch with one replayed key writes nothing.
	err = ledger.AppendBatch(ctx, []generic.Transaction{
		grant("ms-2", "2026-10-20", 1, "k-2"),
		grant("ms-2", "2026-10-20", 1, "k-1"),
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	exists, err := mem.Exists(ctx, "k-2")
	require.NoError(t, err)
	assert.False(t, exists)

	bal, err := ledger.Balance(ctx, "ms-1", "extension_meals", generic.UnitMeals)
	require.NoError(t, err)
	assert.Equal(t, "3", bal.Value.String())
}

func TestLedger_BooksAreSeparate(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	credit := generic.Transaction{
		AccountID:   "mess-1",
		Book:        "mess_credits",
		EffectiveAt: generic.MustParseDate("2026-10-16"),
		Delta:       generic.NewAmountFromDecimal(decimal.RequireFromString("2.5"), generic.UnitCredits),
		Type:        generic.TxAdjustment,
	}
	require.NoError(t, ledger.Append(ctx, credit))
	require.NoError(t, ledger.Append(ctx, grant("mess-1", "2026-10-16", 4, "")))

	bal, err := ledger.Balance(ctx, "mess-1", "mess_credits", generic.UnitCredits)
	require.NoError(t, err)
	assert.Equal(t, "2.5 credits", bal.String())
}

func TestLedger_OrdersByEffectiveDate(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger()

	require.NoError(t, ledger.Append(ctx, grant("ms-1", "2026-10-22", 1, "c")))
	require.NoError(t, ledger.Append(ctx, grant("ms-1", "2026-10-20", 2, "a")))
	require.NoError(t, ledger.Append(ctx, grant("ms-1", "2026-10-22", 3, "d")))
	require.NoError(t, ledger.Append(ctx, grant("ms-1", "2026-10-21", 4, "b")))

	txs, err := ledger.Transactions(ctx, "ms-1", "extension_meals")
	require.NoError(t, err)
	var keys []string
	for _, tx := range txs {
		keys = append(keys, tx.IdempotencyKey)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestAudit_NewestFirstWithFilters(t *testing.T) {
	ctx := context.Background()
	_, mem := newTestLedger()

	for i, action := range []generic.AuditAction{generic.AuditCreated, generic.AuditExtensionApplied, generic.AuditUpdated} {
		require.NoError(t, mem.AppendAudit(ctx, generic.AuditEntry{
			ActorID:     "owner-1",
			Action:      action,
			SubjectType: "off_day",
			SubjectID:   "od-1",
			ScopeID:     "mess-1",
			After:       generic.Snapshot(map[string]int{"step": i}),
		}))
	}
	require.NoError(t, mem.AppendAudit(ctx, generic.AuditEntry{SubjectType: "off_day", SubjectID: "od-2", Action: generic.AuditCreated}))

	entries, err := mem.QueryAudit(ctx, generic.AuditFilter{SubjectType: "off_day", SubjectID: "od-1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, generic.AuditUpdated, entries[0].Action)
	assert.JSONEq(t, `{"step":0}`, string(entries[2].After))

	applied, err := mem.QueryAudit(ctx, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditExtensionApplied}})
	require.NoError(t, err)
	assert.Len(t, applied, 1)
}

// =============================================================================
// DATES
// =============================================================================

func TestParseDate_KeepsWrittenDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2026-10-21", "2026-10-21"},
		{"2026-10-21T00:00:00.000Z", "2026-10-21"},
		{"2026-10-21T23:30:00+05:30", "2026-10-21"},
		{" 2026-10-21 ", "2026-10-21"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := generic.ParseDate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
		})
	}

	_, err := generic.ParseDate("21/10/2026")
	assert.ErrorIs(t, err, generic.ErrInvalidDate)
	assert.True(t, generic.IsClientError(err))
}

func TestDate_JSON(t *testing.T) {
	var v struct {
		D generic.Date `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"2026-11-08"}`), &v))
	assert.Equal(t, 8, v.D.Day())

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2026-11-08"}`, string(b))

	v.D = generic.Date{}
	b, err = json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":null}`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`{"d":20261108}`), &v))
}

func TestDateRange(t *testing.T) {
	diwali, err := generic.NewDateRange(generic.MustParseDate("2026-11-08"), generic.MustParseDate("2026-11-10"))
	require.NoError(t, err)
	assert.Equal(t, 3, diwali.Len())
	assert.Len(t, diwali.Days(), 3)
	assert.True(t, diwali.Contains(generic.MustParseDate("2026-11-10")))
	assert.False(t, diwali.Contains(generic.MustParseDate("2026-11-11")))
	assert.True(t, diwali.Overlaps(generic.SingleDay(generic.MustParseDate("2026-11-08"))))
	assert.False(t, diwali.IsSingleDay())

	_, err = generic.NewDateRange(generic.MustParseDate("2026-11-10"), generic.MustParseDate("2026-11-08"))
	assert.ErrorIs(t, err, generic.ErrInvalidRange)

	_, err = generic.NewDateRange(generic.MustParseDate("2026-11-10"), generic.Date{})
	assert.ErrorIs(t, err, generic.ErrIncompleteRange)
}

func TestDaysBetween_AcrossMonths(t *testing.T) {
	assert.Equal(t, 31, generic.DaysBetween(generic.MustParseDate("2026-10-16"), generic.MustParseDate("2026-11-16")))
	assert.Equal(t, -1, generic.DaysBetween(generic.MustParseDate("2026-03-01"), generic.MustParseDate("2026-02-28")))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestInsufficientCreditsError(t *testing.T) {
	var err error = &generic.InsufficientCreditsError{
		AccountID: "mess-1",
		Required:  decimal.NewFromInt(3),
		Available: decimal.RequireFromString("1.5"),
	}
	wrapped := fmt.Errorf("approve: %w", err)

	assert.ErrorIs(t, wrapped, generic.ErrInsufficientCredits)
	var ice *generic.InsufficientCreditsError
	require.True(t, errors.As(wrapped, &ice))
	assert.Equal(t, "1.5", ice.Shortfall().String())
	assert.False(t, generic.IsNotFound(wrapped))
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, generic.IsNotFound(fmt.Errorf("%w: od-9", generic.ErrOffDayNotFound)))
	assert.True(t, generic.IsClientError(generic.Invalid("reason", "is required")))
	assert.True(t, generic.IsClientError(generic.ErrDuplicateOffDay))
	assert.False(t, generic.IsClientError(errors.New("disk full")))
	assert.EqualError(t, generic.Invalid("reason", "max %d characters", 500), "reason: max 500 characters")
}
