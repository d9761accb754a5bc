package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmess/billing-engine/api"
	"github.com/smartmess/billing-engine/credits"
	"github.com/smartmess/billing-engine/factory"
	"github.com/smartmess/billing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type server struct {
	t       *testing.T
	now     time.Time
	handler *api.Handler
	router  *chi.Mux
}

// newServer starts from an empty database with the clock at
// 2026-10-16 10:00 UTC.
func newServer(t *testing.T) *server {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := &server{t: t, now: time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)}
	s.handler = api.NewHandler(store, api.Options{
		Now:      func() time.Time { return s.now },
		Location: time.UTC,
	})
	s.router = api.NewRouter(s.handler, []string{"http://localhost:5173"})
	return s
}

func (s *server) do(method, path string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.ActorHeader, "owner-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s *server) ok(method, path string, body any, into any) {
	s.t.Helper()
	code, env := s.do(method, path, body)
	require.Less(s.t, code, 300, env.Message)
	require.True(s.t, env.Success)
	if into != nil {
		require.NoError(s.t, json.Unmarshal(env.Data, into))
	}
}

type idDTO struct {
	ID string `json:"id"`
}

type membershipDTO struct {
	ID                    string `json:"id"`
	Status                string `json:"status"`
	PaymentStatus         string `json:"paymentStatus"`
	SubscriptionStartDate string `json:"subscriptionStartDate"`
	SubscriptionEndDate   string `json:"subscriptionEndDate"`
}

// seedMess creates mess-1 with a Monthly plan. The plan is saved through
// the catalog since plan creation over HTTP needs an active subscription.
func (s *server) seedMess() {
	s.ok("POST", "/api/messes", map[string]any{"id": "mess-1", "name": "Annapurna Mess", "ownerId": "owner-1", "chatRoomId": "room-1"}, nil)
	plan, err := factory.NewPlanFactory().ParsePlan(factory.MonthlyPlanJSON("plan-monthly", "mess-1", 3000))
	require.NoError(s.t, err)
	require.NoError(s.t, s.handler.Catalog.SavePlan(context.Background(), *plan))
}

// member joins mess-1 on the Monthly plan and returns the membership id.
func (s *server) member(userID string) string {
	var m idDTO
	s.ok("POST", "/api/memberships", map[string]any{"userId": userID, "messId": "mess-1", "planId": "plan-monthly"}, &m)
	s.ok("POST", "/api/payment-requests/"+m.ID+"/submit", nil, nil)
	return m.ID
}

// =============================================================================
// OFF DAY ROUND TRIP
// =============================================================================

func TestOffDay_CreateExtendsAndCancelRestores(t *testing.T) {
	// GIVEN: A trial mess with one approved Monthly member
	s := newServer(t)
	s.seedMess()
	s.ok("POST", "/api/credit-management/mess-1/trial", nil, nil)
	id := s.member("user-1")
	s.ok("POST", "/api/payment-requests/"+id+"/approve", nil, nil)

	var m membershipDTO
	s.ok("GET", "/api/memberships/"+id, nil, &m)
	assert.Equal(t, "active", m.Status)
	assert.Equal(t, "2026-10-16", m.SubscriptionStartDate)
	assert.Equal(t, "2026-11-15", m.SubscriptionEndDate)

	// WHEN: The owner closes the mess tomorrow with extension on
	var off idDTO
	code, env := s.do("POST", "/api/mess/mess-1/off-days", map[string]any{
		"date":                  "2026-10-17",
		"reason":                "Festival",
		"subscriptionExtension": true,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	require.NoError(t, json.Unmarshal(env.Data, &off))

	// THEN: The subscription gained one day
	s.ok("GET", "/api/memberships/"+id, nil, &m)
	assert.Equal(t, "2026-11-16", m.SubscriptionEndDate)

	var detail struct {
		ExtensionState string `json:"extensionState"`
		Applications   []struct {
			MembershipID string `json:"membershipId"`
			DaysAdded    int    `json:"daysAdded"`
			State        string `json:"state"`
		} `json:"applications"`
	}
	s.ok("GET", "/api/mess/mess-1/off-days/"+off.ID, nil, &detail)
	assert.Equal(t, "applied", detail.ExtensionState)
	require.Len(t, detail.Applications, 1)
	assert.Equal(t, 1, detail.Applications[0].DaysAdded)

	// WHEN: It is cancelled
	s.ok("DELETE", "/api/mess/mess-1/off-days/"+off.ID, nil, nil)

	// THEN: The end date is back and the audit trail shows both steps
	s.ok("GET", "/api/memberships/"+id, nil, &m)
	assert.Equal(t, "2026-11-15", m.SubscriptionEndDate)

	var audit []struct {
		Action string `json:"action"`
	}
	s.ok("GET", "/api/mess/mess-1/off-days/"+off.ID+"/audit", nil, &audit)
	require.GreaterOrEqual(t, len(audit), 2)
	assert.Equal(t, "create", audit[0].Action)

	// AND: A second cancel is a 400
	code, env = s.do("DELETE", "/api/mess/mess-1/off-days/"+off.ID, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
}

func TestOffDay_Validation(t *testing.T) {
	s := newServer(t)
	s.seedMess()
	s.ok("POST", "/api/credit-management/mess-1/trial", nil, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"past date", map[string]any{"date": "2026-10-15", "reason": "x"}},
		{"missing dates", map[string]any{"reason": "x"}},
		{"only start date", map[string]any{"startDate": "2026-10-20", "reason": "x"}},
		{"end before start", map[string]any{"startDate": "2026-10-20", "endDate": "2026-10-18", "reason": "x"}},
		{"malformed date", map[string]any{"date": "20/10/2026", "reason": "x"}},
		{"unknown meal type", map[string]any{"date": "2026-10-20", "reason": "x", "mealTypes": []string{"snack"}}},
		{"missing reason", map[string]any{"date": "2026-10-20"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do("POST", "/api/mess/mess-1/off-days", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestOffDay_DuplicateDateRejected(t *testing.T) {
	s := newServer(t)
	s.seedMess()
	s.ok("POST", "/api/credit-management/mess-1/trial", nil, nil)

	body := map[string]any{"date": "2026-10-20", "reason": "Maintenance"}
	s.ok("POST", "/api/mess/mess-1/off-days", body, nil)

	code, env := s.do("POST", "/api/mess/mess-1/off-days", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "already exists")
}

func TestOffDay_UnknownIsNotFound(t *testing.T) {
	s := newServer(t)
	s.seedMess()

	code, env := s.do("GET", "/api/mess/mess-1/off-days/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
}

// =============================================================================
// SUBSCRIPTION GATE
// =============================================================================

func TestGate_InactiveMessCannotCreateOffDays(t *testing.T) {
	// GIVEN: A mess with no trial and no credits
	s := newServer(t)
	s.seedMess()

	// WHEN: It tries to create an off-day
	code, env := s.do("POST", "/api/mess/mess-1/off-days", map[string]any{"date": "2026-10-20", "reason": "x"})

	// THEN: 403, but reading and paying stay open
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, env.Success)

	code, _ = s.do("GET", "/api/mess/mess-1/off-days", nil)
	assert.Equal(t, http.StatusOK, code)

	var status struct {
		IsActive bool `json:"isActive"`
	}
	s.ok("GET", "/api/credit-management/mess-1/status", nil, &status)
	assert.False(t, status.IsActive)

	s.ok("POST", "/api/credit-management/mess-1/purchase", map[string]any{"amount": 10}, nil)
	s.ok("GET", "/api/credit-management/mess-1/status", nil, &status)
	assert.True(t, status.IsActive)

	code, _ = s.do("POST", "/api/mess/mess-1/off-days", map[string]any{"date": "2026-10-20", "reason": "x"})
	assert.Equal(t, http.StatusCreated, code)
}

// =============================================================================
// APPROVAL AND CREDITS
// =============================================================================

func TestApprove_InsufficientCreditsReturnsShortfall(t *testing.T) {
	// GIVEN: A mess that bought exactly one credit and already spent it
	s := newServer(t)
	s.seedMess()
	s.ok("POST", "/api/credit-management/mess-1/purchase", map[string]any{"amount": "1"}, nil)
	first := s.member("user-1")
	s.ok("POST", "/api/payment-requests/"+first+"/approve", nil, nil)
	second := s.member("user-2")

	// WHEN: The owner approves the second member
	code, env := s.do("POST", "/api/payment-requests/"+second+"/approve", nil)

	// THEN: 400 with the numbers needed to top up, member untouched
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	var short struct {
		RequiredCredits  string `json:"requiredCredits"`
		AvailableCredits string `json:"availableCredits"`
		Shortfall        string `json:"shortfall"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &short))
	assert.Equal(t, "1", short.RequiredCredits)
	assert.Equal(t, "0", short.AvailableCredits)
	assert.Equal(t, "1", short.Shortfall)

	var m membershipDTO
	s.ok("GET", "/api/memberships/"+second, nil, &m)
	assert.Equal(t, "pending", m.Status)

	var txs []struct {
		Type string `json:"type"`
	}
	s.ok("GET", "/api/credit-management/mess-1/transactions", nil, &txs)
	assert.Len(t, txs, 2) // purchase, first deduction
}

func TestApprove_NoCreditRecordReturnsShortfall(t *testing.T) {
	// GIVEN: A pending member of a mess that never touched credits
	s := newServer(t)
	s.seedMess()
	m, err := s.handler.Approvals.Join(context.Background(), credits.JoinInput{
		UserID: "user-1", MessID: "mess-1", PlanID: "plan-monthly",
	})
	require.NoError(t, err)

	// WHEN: The owner approves it
	code, env := s.do("POST", "/api/payment-requests/"+m.ID+"/approve", nil)

	// THEN: 400 with the shortfall, not 404
	assert.Equal(t, http.StatusBadRequest, code)
	var short struct {
		RequiredCredits  string `json:"requiredCredits"`
		AvailableCredits string `json:"availableCredits"`
		Shortfall        string `json:"shortfall"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &short))
	assert.Equal(t, "1", short.RequiredCredits)
	assert.Equal(t, "0", short.AvailableCredits)
	assert.Equal(t, "1", short.Shortfall)

	var got membershipDTO
	s.ok("GET", "/api/memberships/"+m.ID, nil, &got)
	assert.Equal(t, "pending", got.Status)
}

func TestApprove_Twice(t *testing.T) {
	s := newServer(t)
	s.seedMess()
	s.ok("POST", "/api/credit-management/mess-1/trial", nil, nil)
	id := s.member("user-1")
	s.ok("POST", "/api/payment-requests/"+id+"/approve", nil, nil)

	code, env := s.do("POST", "/api/payment-requests/"+id+"/approve", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "already processed")

	code, _ = s.do("POST", "/api/payment-requests/"+id+"/reject", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPurchase_DuplicateIdempotencyKeyConflicts(t *testing.T) {
	s := newServer(t)
	s.seedMess()

	body := map[string]any{"amount": 5, "idempotencyKey": "order-42"}
	s.ok("POST", "/api/credit-management/mess-1/purchase", body, nil)

	code, _ := s.do("POST", "/api/credit-management/mess-1/purchase", body)
	assert.Equal(t, http.StatusConflict, code)

	var credits struct {
		AvailableCredits string `json:"availableCredits"`
	}
	s.ok("GET", "/api/credit-management/mess-1", nil, &credits)
	assert.Equal(t, "5", credits.AvailableCredits)
}

func TestPlatformSettings_Validation(t *testing.T) {
	s := newServer(t)

	code, _ := s.do("PUT", "/api/credit-management/settings", map[string]any{"trialEnabled": true, "trialDurationDays": 0, "creditsPerMember": 1})
	assert.Equal(t, http.StatusBadRequest, code)

	var saved struct {
		TrialDurationDays int `json:"trialDurationDays"`
	}
	s.ok("PUT", "/api/credit-management/settings", map[string]any{"trialEnabled": true, "trialDurationDays": 14, "creditsPerMember": 2}, &saved)
	assert.Equal(t, 14, saved.TrialDurationDays)
}

// =============================================================================
// BILLING
// =============================================================================

func TestBilling_AdjustPayRefund(t *testing.T) {
	// GIVEN: An approved member
	s := newServer(t)
	s.seedMess()
	s.ok("POST", "/api/credit-management/mess-1/trial", nil, nil)
	id := s.member("user-1")
	s.ok("POST", "/api/payment-requests/"+id+"/approve", nil, nil)

	// WHEN: A 1000 bill gets a 100 discount and a 50 penalty
	var bill struct {
		ID          string `json:"id"`
		FinalAmount string `json:"finalAmount"`
		Payment     struct {
			Status string `json:"status"`
		} `json:"payment"`
		Transactions []struct {
			Type string `json:"type"`
		} `json:"transactions"`
	}
	s.ok("POST", "/api/billing", map[string]any{"membershipId": id, "baseAmount": "1000"}, &bill)
	s.ok("POST", "/api/billing/"+bill.ID+"/adjustments", map[string]any{"type": "discount", "amount": 100, "reason": "loyalty"}, nil)
	s.ok("POST", "/api/billing/"+bill.ID+"/adjustments", map[string]any{"type": "penalty", "amount": 50, "reason": "late"}, &bill)

	// THEN: finalAmount is 950
	assert.Equal(t, "950.00", bill.FinalAmount)

	// WHEN: It is paid, then over-refunded
	s.ok("POST", "/api/billing/"+bill.ID+"/pay", map[string]any{"method": "upi"}, &bill)
	assert.Equal(t, "paid", bill.Payment.Status)
	require.Len(t, bill.Transactions, 1)

	code, _ := s.do("POST", "/api/billing/"+bill.ID+"/refund", map[string]any{"amount": 1000, "reason": "too much"})
	assert.Equal(t, http.StatusBadRequest, code)

	s.ok("POST", "/api/billing/"+bill.ID+"/refund", map[string]any{"amount": 50, "reason": "missed meals"}, &bill)
	assert.Len(t, bill.Transactions, 2)

	// AND: Both bills show on the membership
	var bills []idDTO
	s.ok("GET", "/api/memberships/"+id+"/billing", nil, &bills)
	assert.Len(t, bills, 2)
}

func TestBilling_UnknownAdjustmentType(t *testing.T) {
	s := newServer(t)
	s.seedMess()
	s.ok("POST", "/api/credit-management/mess-1/trial", nil, nil)
	id := s.member("user-1")

	var bill idDTO
	s.ok("POST", "/api/billing", map[string]any{"membershipId": id}, &bill)

	code, _ := s.do("POST", "/api/billing/"+bill.ID+"/adjustments", map[string]any{"type": "gift", "amount": 10, "reason": "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do("GET", "/api/billing/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestScheduler_RunNowMarksOverdue(t *testing.T) {
	// GIVEN: A pending bill due 2026-10-23
	s := newServer(t)
	s.seedMess()
	s.ok("POST", "/api/credit-management/mess-1/trial", nil, nil)
	id := s.member("user-1")

	var bill idDTO
	s.ok("POST", "/api/billing", map[string]any{"membershipId": id}, &bill)

	// WHEN: The clock passes the due date and the sweeps run
	s.now = s.now.AddDate(0, 0, 10)
	api.NewScheduler(s.handler).RunNow()

	// THEN: The bill and the membership are overdue, the trial expired
	var got struct {
		Payment struct {
			Status string `json:"status"`
		} `json:"payment"`
	}
	s.ok("GET", "/api/billing/"+bill.ID, nil, &got)
	assert.Equal(t, "overdue", got.Payment.Status)

	var m membershipDTO
	s.ok("GET", "/api/memberships/"+id, nil, &m)
	assert.Equal(t, "overdue", m.PaymentStatus)

	var status struct {
		IsTrialActive bool   `json:"isTrialActive"`
		CreditStatus  string `json:"creditStatus"`
	}
	s.ok("GET", "/api/credit-management/mess-1/status", nil, &status)
	assert.False(t, status.IsTrialActive)
	assert.Equal(t, "expired", status.CreditStatus)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newServer(t)
	sched := api.NewScheduler(s.handler)
	require.NoError(t, sched.Start())
	require.NoError(t, sched.Start())
	sched.Stop()
	sched.Stop()
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_LoadEach(t *testing.T) {
	s := newServer(t)

	var list []idDTO
	s.ok("GET", "/api/scenarios", nil, &list)
	require.NotEmpty(t, list)

	for _, sc := range list {
		t.Run(sc.ID, func(t *testing.T) {
			s.ok("POST", "/api/scenarios/load", map[string]any{"scenarioId": sc.ID}, nil)

			var current idDTO
			s.ok("GET", "/api/scenarios/current", nil, &current)
			assert.Equal(t, sc.ID, current.ID)
		})
	}

	code, _ := s.do("POST", "/api/scenarios/load", map[string]any{"scenarioId": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestScenarios_MonthlyMessExtendedMembers(t *testing.T) {
	s := newServer(t)
	s.ok("POST", "/api/scenarios/load", map[string]any{"scenarioId": "monthly-mess"}, nil)

	var offDays []struct {
		ExtensionState string `json:"extensionState"`
	}
	s.ok("GET", "/api/mess/mess-demo/off-days", nil, &offDays)
	require.Len(t, offDays, 1)
	assert.Equal(t, "applied", offDays[0].ExtensionState)
}
