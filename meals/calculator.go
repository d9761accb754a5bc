package meals

import (
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// MISSED MEAL CALCULATOR
// =============================================================================

// MissedMeals counts the meals a closure takes from one member:
//
//	Σ over days d of |closed(d) ∩ plan − excused(d)|
//
// where excused(d) is the union of what the member's approved leaves
// already cover on d. Meals missed to personal leave are handled by the
// leave flow and are not credited twice.
func MissedMeals(closure Window, plan mess.Plan, leaves []mess.Leave) int {
	planMeals := PlanMeals(plan)

	leaveWindows := make([]Window, 0, len(leaves))
	for _, l := range leaves {
		if l.Status != mess.LeaveApproved {
			continue
		}
		leaveWindows = append(leaveWindows, LeaveWindow(l))
	}

	missed := 0
	for _, d := range closure.Range.Days() {
		eligible := closure.MealsOn(d).Intersect(planMeals)
		if eligible.IsEmpty() {
			continue
		}
		excused := NoMeals
		for _, lw := range leaveWindows {
			excused = excused.Union(lw.MealsOn(d))
		}
		missed += eligible.Minus(excused).Count()
	}
	return missed
}

// MealsPerDay is the divisor that turns missed meals into days: the number
// of meals the plan enables, else its mealsPerDay, else three.
func MealsPerDay(plan mess.Plan) int {
	enabled := 0
	for _, on := range []bool{plan.MealOptions.Breakfast, plan.MealOptions.Lunch, plan.MealOptions.Dinner} {
		if on {
			enabled++
		}
	}
	switch {
	case enabled > 0:
		return enabled
	case plan.MealsPerDay > 0:
		return plan.MealsPerDay
	default:
		return AllMeals.Count()
	}
}

// ExtensionDays converts missed meals into whole subscription days,
// rounding up.
func ExtensionDays(missed int, plan mess.Plan) int {
	if missed <= 0 {
		return 0
	}
	perDay := MealsPerDay(plan)
	if perDay < 1 {
		perDay = 1
	}
	return (missed + perDay - 1) / perDay
}
