/*
Package factory provides JSON to Go meal-plan conversion.

PURPOSE:
  Converts JSON plan definitions into mess.Plan values. Mess owners edit
  plans in the admin UI; the factory validates the document, fills in
  defaults and produces the struct the reconciler and billing read.

JSON SCHEMA:
  {
    "id": "plan-monthly",
    "messId": "mess-1",
    "name": "Monthly",
    "pricing": {"amount": "2500", "period": "month"},
    "mealsPerDay": 3,
    "mealOptions": {"breakfast": true, "lunch": true, "dinner": true},
    "leaveRules": {"maxLeaveMeals": 30, "extendSubscription": true}
  }

DEFAULTS:
  - pricing.period:  "month"
  - mealOptions:     all three meals when every flag is false or absent
  - mealsPerDay:     number of enabled meals when 0
  - isActive:        true

USAGE:
  factory := NewPlanFactory()

  // From JSON string
  plan, err := factory.ParsePlan(jsonString)

  // From a preset
  plan, err := factory.ParsePlan(factory.MonthlyPlanJSON("plan-1", "mess-1", 2500))

SEE ALSO:
  - mess/mess.go: Plan type definition
  - meals/catalog.go: Cached plan lookup
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PlanJSON is the JSON representation of a meal plan.
type PlanJSON struct {
	ID          string           `json:"id,omitempty"`
	MessID      string           `json:"messId"`
	Name        string           `json:"name"`
	Pricing     PricingJSON      `json:"pricing"`
	MealsPerDay int              `json:"mealsPerDay,omitempty"`
	MealOptions *MealOptionsJSON `json:"mealOptions,omitempty"`
	LeaveRules  *LeaveRulesJSON  `json:"leaveRules,omitempty"`
	IsActive    *bool            `json:"isActive,omitempty"`
}

// PricingJSON represents plan pricing. Amount accepts a JSON number or string.
type PricingJSON struct {
	Amount json.Number `json:"amount"`
	Period string      `json:"period,omitempty"` // day, week, 15days, month, 3months, 6months, year
}

type MealOptionsJSON struct {
	Breakfast bool `json:"breakfast"`
	Lunch     bool `json:"lunch"`
	Dinner    bool `json:"dinner"`
}

type LeaveRulesJSON struct {
	MaxLeaveMeals      int  `json:"maxLeaveMeals,omitempty"`
	ExtendSubscription bool `json:"extendSubscription,omitempty"`
}

// =============================================================================
// PLAN FACTORY
// =============================================================================

// PlanFactory converts JSON plans to Go structs.
type PlanFactory struct{}

// NewPlanFactory creates a new plan factory.
func NewPlanFactory() *PlanFactory {
	return &PlanFactory{}
}

// ParsePlan parses a JSON string into a Plan.
func (f *PlanFactory) ParsePlan(jsonStr string) (*mess.Plan, error) {
	var pj PlanJSON
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	dec.UseNumber()
	if err := dec.Decode(&pj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse plan JSON: %v", generic.ErrValidation, err)
	}

	return f.FromJSON(pj)
}

// FromJSON converts PlanJSON to mess.Plan.
func (f *PlanFactory) FromJSON(pj PlanJSON) (*mess.Plan, error) {
	if strings.TrimSpace(pj.MessID) == "" {
		return nil, generic.Invalid("messId", "is required")
	}
	if strings.TrimSpace(pj.Name) == "" {
		return nil, generic.Invalid("name", "is required")
	}

	amount, err := parseAmount(pj.Pricing.Amount)
	if err != nil {
		return nil, err
	}

	period := mess.PricingPeriod(pj.Pricing.Period)
	if period == "" {
		period = mess.PeriodMonth
	}
	if !period.Valid() {
		return nil, generic.Invalid("pricing.period", "unknown period %q", pj.Pricing.Period)
	}

	plan := &mess.Plan{
		ID:          pj.ID,
		MessID:      pj.MessID,
		Name:        pj.Name,
		Pricing:     mess.Pricing{Amount: amount, Period: period},
		MealsPerDay: pj.MealsPerDay,
		MealOptions: parseMealOptions(pj.MealOptions),
		IsActive:    true,
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if pj.IsActive != nil {
		plan.IsActive = *pj.IsActive
	}
	if pj.LeaveRules != nil {
		if pj.LeaveRules.MaxLeaveMeals < 0 {
			return nil, generic.Invalid("leaveRules.maxLeaveMeals", "cannot be negative")
		}
		plan.LeaveRules = mess.LeaveRules{
			MaxLeaveMeals:      pj.LeaveRules.MaxLeaveMeals,
			ExtendSubscription: pj.LeaveRules.ExtendSubscription,
		}
	}

	enabled := countEnabled(plan.MealOptions)
	switch {
	case plan.MealsPerDay < 0 || plan.MealsPerDay > 3:
		return nil, generic.Invalid("mealsPerDay", "must be between 1 and 3")
	case plan.MealsPerDay == 0:
		plan.MealsPerDay = enabled
	}

	return plan, nil
}

// ToJSON converts a Plan to PlanJSON.
func (f *PlanFactory) ToJSON(plan *mess.Plan) PlanJSON {
	active := plan.IsActive
	return PlanJSON{
		ID:     plan.ID,
		MessID: plan.MessID,
		Name:   plan.Name,
		Pricing: PricingJSON{
			Amount: json.Number(plan.Pricing.Amount.String()),
			Period: string(plan.Pricing.Period),
		},
		MealsPerDay: plan.MealsPerDay,
		MealOptions: &MealOptionsJSON{
			Breakfast: plan.MealOptions.Breakfast,
			Lunch:     plan.MealOptions.Lunch,
			Dinner:    plan.MealOptions.Dinner,
		},
		LeaveRules: &LeaveRulesJSON{
			MaxLeaveMeals:      plan.LeaveRules.MaxLeaveMeals,
			ExtendSubscription: plan.LeaveRules.ExtendSubscription,
		},
		IsActive: &active,
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseAmount(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, generic.Invalid("pricing.amount", "is required")
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, generic.Invalid("pricing.amount", "%q is not a number", string(n))
	}
	if d.IsNegative() {
		return decimal.Zero, generic.Invalid("pricing.amount", "cannot be negative")
	}
	return d, nil
}

// A plan that lists no meals serves all three.
func parseMealOptions(mo *MealOptionsJSON) mess.MealOptions {
	if mo == nil || (!mo.Breakfast && !mo.Lunch && !mo.Dinner) {
		return mess.MealOptions{Breakfast: true, Lunch: true, Dinner: true}
	}
	return mess.MealOptions{Breakfast: mo.Breakfast, Lunch: mo.Lunch, Dinner: mo.Dinner}
}

func countEnabled(mo mess.MealOptions) int {
	n := 0
	for _, on := range []bool{mo.Breakfast, mo.Lunch, mo.Dinner} {
		if on {
			n++
		}
	}
	return n
}

// =============================================================================
// PRESET PLANS
// =============================================================================

// MonthlyPlanJSON returns a three-meal monthly plan.
func MonthlyPlanJSON(id, messID string, amount int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"messId": %q,
		"name": "Monthly",
		"pricing": {"amount": %d, "period": "month"},
		"mealsPerDay": 3,
		"mealOptions": {"breakfast": true, "lunch": true, "dinner": true},
		"leaveRules": {"maxLeaveMeals": 30, "extendSubscription": true}
	}`, id, messID, amount)
}

// DaytimePlanJSON returns a breakfast and lunch plan without dinner.
func DaytimePlanJSON(id, messID string, amount int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"messId": %q,
		"name": "Daytime",
		"pricing": {"amount": %d, "period": "month"},
		"mealsPerDay": 2,
		"mealOptions": {"breakfast": true, "lunch": true, "dinner": false},
		"leaveRules": {"maxLeaveMeals": 20, "extendSubscription": true}
	}`, id, messID, amount)
}

// WeeklyPlanJSON returns a lunch-and-dinner weekly plan.
func WeeklyPlanJSON(id, messID string, amount int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"messId": %q,
		"name": "Weekly",
		"pricing": {"amount": %d, "period": "week"},
		"mealsPerDay": 2,
		"mealOptions": {"breakfast": false, "lunch": true, "dinner": true}
	}`, id, messID, amount)
}
