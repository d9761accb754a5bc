package meals_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/meals"
	"github.com/smartmess/billing-engine/mess"
	"github.com/smartmess/billing-engine/store/sqlite"
)

var (
	fullPlan    = mess.Plan{ID: "full", MealsPerDay: 3, MealOptions: mess.MealOptions{Breakfast: true, Lunch: true, Dinner: true}}
	daytimePlan = mess.Plan{ID: "day", MealsPerDay: 2, MealOptions: mess.MealOptions{Breakfast: true, Lunch: true}}
	barePlan    = mess.Plan{ID: "bare"}
)

func singleDay(d string, types ...mess.MealType) meals.Window {
	return meals.OffDayWindow(mess.OffDay{OffDate: day(d), MealTypes: types})
}

// =============================================================================
// MEAL SET
// =============================================================================

func TestMealSet_Operations(t *testing.T) {
	s := meals.SetOf(mess.Breakfast, mess.Dinner)

	assert.Equal(t, 2, s.Count())
	assert.True(t, s.Has(mess.Dinner))
	assert.False(t, s.Has(mess.Lunch))
	assert.Equal(t, []mess.MealType{mess.Breakfast, mess.Dinner}, s.Types())
	assert.Equal(t, "breakfast+dinner", s.String())
	assert.Equal(t, meals.MealDinner, s.Minus(meals.MealBreakfast))
	assert.Equal(t, meals.AllMeals, s.Union(meals.MealLunch))
	assert.True(t, s.Intersect(meals.MealLunch).IsEmpty())
	assert.Equal(t, meals.AllMeals, meals.SetOrAll(nil))
	assert.Equal(t, "none", meals.NoMeals.String())
}

func TestWindow_BoundaryRule(t *testing.T) {
	w := meals.OffDayWindow(mess.OffDay{
		OffDate:            day("2026-10-20"),
		EndDate:            day("2026-10-22"),
		StartDateMealTypes: []mess.MealType{mess.Dinner},
		EndDateMealTypes:   []mess.MealType{mess.Breakfast, mess.Lunch},
	})

	assert.Equal(t, meals.MealDinner, w.MealsOn(day("2026-10-20")))
	assert.Equal(t, meals.AllMeals, w.MealsOn(day("2026-10-21")))
	assert.Equal(t, meals.MealBreakfast|meals.MealLunch, w.MealsOn(day("2026-10-22")))
	assert.Equal(t, meals.NoMeals, w.MealsOn(day("2026-10-23")))
}

func TestWindow_SingleDayFallsBackToStartMeals(t *testing.T) {
	w := meals.OffDayWindow(mess.OffDay{
		OffDate:            day("2026-10-20"),
		StartDateMealTypes: []mess.MealType{mess.Lunch},
	})
	assert.Equal(t, meals.MealLunch, w.MealsOn(day("2026-10-20")))
}

// =============================================================================
// MISSED MEALS
// =============================================================================

func TestMissedMeals(t *testing.T) {
	leaveOn := func(start, end string, status mess.LeaveStatus, startMeals, endMeals []mess.MealType) mess.Leave {
		return mess.Leave{
			StartDate:          day(start),
			EndDate:            day(end),
			StartDateMealTypes: startMeals,
			EndDateMealTypes:   endMeals,
			Status:             status,
		}
	}

	tests := []struct {
		name    string
		closure meals.Window
		plan    mess.Plan
		leaves  []mess.Leave
		want    int
	}{
		{
			name:    "full day, full plan",
			closure: singleDay("2026-10-20"),
			plan:    fullPlan,
			want:    3,
		},
		{
			name:    "dinner closure, daytime plan",
			closure: singleDay("2026-10-20", mess.Dinner),
			plan:    daytimePlan,
			want:    0,
		},
		{
			name:    "full day, daytime plan",
			closure: singleDay("2026-10-20"),
			plan:    daytimePlan,
			want:    2,
		},
		{
			name:    "plan without options counts every meal",
			closure: singleDay("2026-10-20", mess.Lunch, mess.Dinner),
			plan:    barePlan,
			want:    2,
		},
		{
			name:    "approved leave covers the day",
			closure: singleDay("2026-10-20"),
			plan:    fullPlan,
			leaves:  []mess.Leave{leaveOn("2026-10-19", "2026-10-21", mess.LeaveApproved, nil, nil)},
			want:    0,
		},
		{
			name:    "pending leave excuses nothing",
			closure: singleDay("2026-10-20"),
			plan:    fullPlan,
			leaves:  []mess.Leave{leaveOn("2026-10-20", "2026-10-20", mess.LeavePending, nil, nil)},
			want:    3,
		},
		{
			name:    "leave ending with breakfast on the closure day",
			closure: singleDay("2026-10-20"),
			plan:    fullPlan,
			leaves: []mess.Leave{leaveOn("2026-10-18", "2026-10-20", mess.LeaveApproved,
				nil, []mess.MealType{mess.Breakfast})},
			want: 2,
		},
		{
			name: "range with partial boundaries",
			closure: meals.OffDayWindow(mess.OffDay{
				OffDate:            day("2026-10-20"),
				EndDate:            day("2026-10-22"),
				StartDateMealTypes: []mess.MealType{mess.Dinner},
				EndDateMealTypes:   []mess.MealType{mess.Breakfast},
			}),
			plan: fullPlan,
			want: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, meals.MissedMeals(tt.closure, tt.plan, tt.leaves))
		})
	}
}

func TestExtensionDays_RoundsUp(t *testing.T) {
	assert.Equal(t, 0, meals.ExtensionDays(0, fullPlan))
	assert.Equal(t, 1, meals.ExtensionDays(1, fullPlan))
	assert.Equal(t, 1, meals.ExtensionDays(3, fullPlan))
	assert.Equal(t, 2, meals.ExtensionDays(4, fullPlan))
	assert.Equal(t, 2, meals.ExtensionDays(3, daytimePlan))
	assert.Equal(t, 3, meals.MealsPerDay(barePlan))
	assert.Equal(t, 2, meals.MealsPerDay(mess.Plan{MealsPerDay: 2}))
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_CachesPlans(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	catalog := meals.NewCatalog(store, time.Minute)
	require.NoError(t, catalog.SavePlan(ctx, mess.Plan{
		ID: "p-1", MessID: "mess-1", Name: "Monthly", MealsPerDay: 3,
		Pricing: mess.Pricing{Amount: generic.MustParseDecimal("3000"), Period: mess.PeriodMonth},
	}))

	// Written behind the catalog's back; the cached copy still wins.
	require.NoError(t, store.SavePlan(ctx, mess.Plan{
		ID: "p-1", MessID: "mess-1", Name: "Renamed", MealsPerDay: 3,
		Pricing: mess.Pricing{Amount: generic.MustParseDecimal("3000"), Period: mess.PeriodMonth},
	}))

	p, err := catalog.Plan(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Monthly", p.Name)

	catalog.Invalidate("p-1")
	p, err = catalog.Plan(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Name)

	_, err = catalog.Plan(ctx, "p-404")
	assert.ErrorIs(t, err, generic.ErrPlanNotFound)
}
