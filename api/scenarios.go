/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates a mess, its meal plans, members
	and credits through the same services the API uses, so the seeded data
	obeys every business rule.

AVAILABLE SCENARIOS:

	monthly-mess:  Trial mess with three plans, approved members and an
	               off-day tomorrow that extended their subscriptions
	low-credits:   Mess with one credit left; the second approval fails
	               with a shortfall
	billing:       Paid monthly bill with a discount and a refund

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create mess and plans via factory
 3. Fund the mess (trial or purchase)
 4. Join and approve members
 5. Optionally add off-days, leaves and billing activity

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "monthly-mess"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - factory/plan.go: Plan JSON presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/smartmess/billing-engine/billing"
	"github.com/smartmess/billing-engine/credits"
	"github.com/smartmess/billing-engine/factory"
	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/meals"
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "monthly-mess",
		Name:        "Monthly Mess",
		Description: "Trial mess with three plans, approved members and an off-day tomorrow",
	},
	{
		ID:          "low-credits",
		Name:        "Low Credits",
		Description: "One credit left: the second approval is refused with a shortfall",
	},
	{
		ID:          "billing",
		Name:        "Billing Adjustments",
		Description: "Paid monthly bill with a discount adjustment and a partial refund",
	},
}

const (
	demoMessID  = "mess-demo"
	demoOwnerID = "owner-demo"
)

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeOK(w, scenarios, "")
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeOK(w, s, "")
			return
		}
	}
	writeOK(w, nil, "No scenario loaded")
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	var load func(context.Context) error
	switch req.ScenarioID {
	case "monthly-mess":
		load = h.loadMonthlyMessScenario
	case "low-credits":
		load = h.loadLowCreditsScenario
	case "billing":
		load = h.loadBillingScenario
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID))
		return
	}

	if err := h.Store.Reset(ctx); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.Catalog.Flush()
	if err := load(ctx); err != nil {
		h.writeServiceError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("Scenarios", "Scenario loaded", map[string]any{"scenario": req.ScenarioID})
	writeOK(w, map[string]string{"scenarioId": req.ScenarioID, "messId": demoMessID}, "Scenario loaded")
}

func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.Catalog.Flush()
	h.currentScenario = ""
	writeOK(w, nil, "Database reset")
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadMonthlyMessScenario(ctx context.Context) error {
	if err := h.seedMess(ctx); err != nil {
		return err
	}
	monthly, err := h.seedPlan(ctx, factory.MonthlyPlanJSON, "plan-monthly", 3000)
	if err != nil {
		return err
	}
	daytime, err := h.seedPlan(ctx, factory.DaytimePlanJSON, "plan-daytime", 2200)
	if err != nil {
		return err
	}
	if _, err := h.seedPlan(ctx, factory.WeeklyPlanJSON, "plan-weekly", 900); err != nil {
		return err
	}
	if _, err := h.Credits.ActivateTrial(ctx, demoMessID, demoOwnerID); err != nil {
		return err
	}

	for i, planID := range []string{monthly.ID, monthly.ID, daytime.ID} {
		if _, err := h.seedMember(ctx, fmt.Sprintf("user-%d", i+1), planID); err != nil {
			return err
		}
	}

	tomorrow := generic.TodayAt(h.now(), h.loc).AddDays(1)
	_, err = h.OffDays.CreateOffDay(ctx, meals.CreateOffDayInput{
		MessID:                demoMessID,
		ActorID:               demoOwnerID,
		Date:                  tomorrow,
		Reason:                "Festival holiday",
		SubscriptionExtension: boolPtr(true),
	})
	return err
}

func (h *Handler) loadLowCreditsScenario(ctx context.Context) error {
	if err := h.seedMess(ctx); err != nil {
		return err
	}
	plan, err := h.seedPlan(ctx, factory.MonthlyPlanJSON, "plan-monthly", 3000)
	if err != nil {
		return err
	}
	if _, err := h.Credits.Purchase(ctx, credits.PurchaseInput{
		MessID:         demoMessID,
		Amount:         decimal.NewFromInt(1),
		ActorID:        demoOwnerID,
		IdempotencyKey: "demo-purchase-1",
	}); err != nil {
		return err
	}
	if _, err := h.seedMember(ctx, "user-1", plan.ID); err != nil {
		return err
	}

	// Left pending: approving it needs one more credit.
	m, err := h.Approvals.Join(ctx, credits.JoinInput{UserID: "user-2", MessID: demoMessID, PlanID: plan.ID})
	if err != nil {
		return err
	}
	_, err = h.Approvals.Submit(ctx, m.ID, "user-2")
	return err
}

func (h *Handler) loadBillingScenario(ctx context.Context) error {
	if err := h.seedMess(ctx); err != nil {
		return err
	}
	plan, err := h.seedPlan(ctx, factory.MonthlyPlanJSON, "plan-monthly", 1000)
	if err != nil {
		return err
	}
	if _, err := h.Credits.ActivateTrial(ctx, demoMessID, demoOwnerID); err != nil {
		return err
	}
	res, err := h.seedMember(ctx, "user-1", plan.ID)
	if err != nil {
		return err
	}

	next := res.Membership.SubscriptionEndDate.AddDays(1)
	b, err := h.Bills.Create(ctx, billing.CreateInput{
		MembershipID: res.Membership.ID,
		PeriodStart:  next,
		PeriodEnd:    plan.Pricing.Period.EndDate(next),
		ActorID:      demoOwnerID,
	})
	if err != nil {
		return err
	}
	if _, err := h.Bills.AddAdjustment(ctx, b.ID, billing.AdjustmentInput{
		Type:    mess.AdjustDiscount,
		Amount:  decimal.NewFromInt(100),
		Reason:  "Loyalty discount",
		ActorID: demoOwnerID,
	}); err != nil {
		return err
	}
	if _, _, err := h.Bills.MarkPaid(ctx, b.ID, billing.PaymentInput{Method: "upi", ActorID: "user-1"}); err != nil {
		return err
	}
	_, _, err = h.Bills.Refund(ctx, b.ID, billing.RefundInput{
		Amount:  decimal.NewFromInt(50),
		Reason:  "Two missed meals",
		ActorID: demoOwnerID,
	})
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedMess(ctx context.Context) error {
	return h.Store.SaveMess(ctx, mess.Mess{
		ID:        demoMessID,
		Name:      "Demo Mess",
		OwnerID:   demoOwnerID,
		ChatRoom:  "room-demo",
		CreatedAt: h.now(),
	})
}

func (h *Handler) seedPlan(ctx context.Context, preset func(id, messID string, amount int64) string, id string, amount int64) (*mess.Plan, error) {
	plan, err := h.Plans.ParsePlan(preset(id, demoMessID, amount))
	if err != nil {
		return nil, err
	}
	plan.CreatedAt = h.now()
	if err := h.Catalog.SavePlan(ctx, *plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// seedMember runs the whole join, submit, approve flow for one user.
func (h *Handler) seedMember(ctx context.Context, userID, planID string) (*credits.ApprovalResult, error) {
	m, err := h.Approvals.Join(ctx, credits.JoinInput{UserID: userID, MessID: demoMessID, PlanID: planID})
	if err != nil {
		return nil, err
	}
	if _, err := h.Approvals.Submit(ctx, m.ID, userID); err != nil {
		return nil, err
	}
	return h.Approvals.Approve(ctx, m.ID, demoOwnerID)
}

func boolPtr(b bool) *bool { return &b }
