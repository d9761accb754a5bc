/*
Package meals implements off-day and leave reconciliation.

PURPOSE:
  When a mess closes (an off-day), members on plans that would have been
  served lose meals. With subscription extension enabled, each affected
  membership's end date moves forward by the days those meals represent.
  Cancelling the off-day replays the recorded deltas in reverse.

KEY CONCEPTS:
  MealSet:  Which of breakfast/lunch/dinner are meant (bitmask)
  Window:   A date range with per-boundary meal sets
  Calculator: eligible = closed ∩ plan; missed = eligible − leave-excused
  Reconciler: Create/Update/Cancel off-days, the extension saga
  Catalog:  Cached plan lookup

BOUNDARY RULE:
  For a range, the first day closes the start-boundary meals, the last day
  the end-boundary meals, every interior day all three. A single day uses
  its own meal list. The same rule applies to personal leaves.

SEE ALSO:
  - mess/offday.go: OffDay and OffDayApplication
  - generic/ledger.go: Extension-meal ledger entries
*/
package meals

import (
	"strings"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// MEAL SET
// =============================================================================

// MealSet is a set of meal types.
type MealSet uint8

const (
	MealBreakfast MealSet = 1 << iota
	MealLunch
	MealDinner

	NoMeals  MealSet = 0
	AllMeals         = MealBreakfast | MealLunch | MealDinner
)

func mealBit(t mess.MealType) MealSet {
	switch t {
	case mess.Breakfast:
		return MealBreakfast
	case mess.Lunch:
		return MealLunch
	case mess.Dinner:
		return MealDinner
	}
	return NoMeals
}

// SetOf builds a set from meal types. Unknown types are ignored.
func SetOf(types ...mess.MealType) MealSet {
	var s MealSet
	for _, t := range types {
		s |= mealBit(t)
	}
	return s
}

// SetOrAll is SetOf, except that an empty list means all three meals.
func SetOrAll(types []mess.MealType) MealSet {
	if len(types) == 0 {
		return AllMeals
	}
	return SetOf(types...)
}

// PlanMeals returns the meals a plan serves. A plan with no options set
// serves all three.
func PlanMeals(p mess.Plan) MealSet {
	var s MealSet
	if p.MealOptions.Breakfast {
		s |= MealBreakfast
	}
	if p.MealOptions.Lunch {
		s |= MealLunch
	}
	if p.MealOptions.Dinner {
		s |= MealDinner
	}
	if s == NoMeals {
		return AllMeals
	}
	return s
}

func (s MealSet) Intersect(o MealSet) MealSet { return s & o }
func (s MealSet) Union(o MealSet) MealSet     { return s | o }
func (s MealSet) Minus(o MealSet) MealSet     { return s &^ o }
func (s MealSet) Has(t mess.MealType) bool    { return s&mealBit(t) != 0 }
func (s MealSet) IsEmpty() bool               { return s == NoMeals }

// Count returns the number of meals in the set.
func (s MealSet) Count() int {
	n := 0
	for _, bit := range []MealSet{MealBreakfast, MealLunch, MealDinner} {
		if s&bit != 0 {
			n++
		}
	}
	return n
}

// Types lists the set in serving order.
func (s MealSet) Types() []mess.MealType {
	var out []mess.MealType
	for _, t := range mess.AllMealTypes {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s MealSet) String() string {
	if s == NoMeals {
		return "none"
	}
	parts := make([]string, 0, 3)
	for _, t := range s.Types() {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, "+")
}

// =============================================================================
// WINDOW - Date range with boundary meals
// =============================================================================

// Window is a closure or absence over an inclusive date range.
type Window struct {
	Range      generic.DateRange
	StartMeals MealSet
	EndMeals   MealSet
}

// MealsOn returns the meals the window covers on d.
func (w Window) MealsOn(d generic.Date) MealSet {
	if !w.Range.Contains(d) {
		return NoMeals
	}
	if w.Range.IsSingleDay() {
		return w.StartMeals
	}
	switch {
	case d.Equal(w.Range.Start):
		return w.StartMeals
	case d.Equal(w.Range.End):
		return w.EndMeals
	default:
		return AllMeals
	}
}

// OffDayWindow returns the closure window of an off-day. A single day uses
// MealTypes, falling back to StartDateMealTypes; empty lists mean all meals.
func OffDayWindow(o mess.OffDay) Window {
	r := o.Range()
	if r.IsSingleDay() {
		types := o.MealTypes
		if len(types) == 0 {
			types = o.StartDateMealTypes
		}
		meals := SetOrAll(types)
		return Window{Range: r, StartMeals: meals, EndMeals: meals}
	}
	return Window{
		Range:      r,
		StartMeals: SetOrAll(o.StartDateMealTypes),
		EndMeals:   SetOrAll(o.EndDateMealTypes),
	}
}

// LeaveWindow returns the absence window of a personal leave.
func LeaveWindow(l mess.Leave) Window {
	r := l.Range()
	if r.End.IsZero() || r.End.Before(r.Start) {
		r = generic.SingleDay(l.StartDate)
	}
	return Window{
		Range:      r,
		StartMeals: SetOrAll(l.StartDateMealTypes),
		EndMeals:   SetOrAll(l.EndDateMealTypes),
	}
}
