package meals_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartmess/billing-engine/factory"
	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/logging"
	"github.com/smartmess/billing-engine/meals"
	"github.com/smartmess/billing-engine/mess"
)

func newLeaves(t *testing.T) (*meals.Leaves, *fixture) {
	f := newFixture(t)
	return meals.NewLeaves(f.store, logging.NewNop(), func() time.Time { return testNow }, time.UTC), f
}

func TestLeaves_Lifecycle(t *testing.T) {
	leaves, _ := newLeaves(t)
	ctx := context.Background()

	l, err := leaves.Create(ctx, meals.CreateLeaveInput{
		UserID:    "user-1",
		MessID:    "mess-1",
		StartDate: day("2026-10-20"),
		EndDate:   day("2026-10-22"),
		Reason:    "Visiting family",
	})
	require.NoError(t, err)
	assert.Equal(t, mess.LeavePending, l.Status)
	assert.Equal(t, mess.AllMealTypes, l.StartDateMealTypes)

	approved, err := leaves.Approve(ctx, l.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, mess.LeaveApproved, approved.Status)
	assert.Equal(t, "owner-1", approved.ReviewedBy)

	_, err = leaves.Reject(ctx, l.ID, "owner-1")
	assert.ErrorIs(t, err, generic.ErrStateConflict)

	cancelled, err := leaves.Cancel(ctx, l.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, mess.LeaveCancelled, cancelled.Status)

	list, err := leaves.ListByUser(ctx, "user-1", "mess-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mess.LeaveCancelled, list[0].Status)
}

func TestLeaves_Validation(t *testing.T) {
	leaves, _ := newLeaves(t)
	ctx := context.Background()

	_, err := leaves.Create(ctx, meals.CreateLeaveInput{UserID: "user-1", MessID: "mess-1", StartDate: day("2026-10-10")})
	assert.ErrorIs(t, err, generic.ErrPastDate)

	_, err = leaves.Create(ctx, meals.CreateLeaveInput{
		UserID: "user-1", MessID: "mess-1", StartDate: day("2026-10-22"), EndDate: day("2026-10-20"),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidRange)

	_, err = leaves.Create(ctx, meals.CreateLeaveInput{MessID: "mess-1", StartDate: day("2026-10-20")})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = leaves.Approve(ctx, "leave-404", "owner-1")
	assert.ErrorIs(t, err, generic.ErrLeaveNotFound)
}

func TestLeaves_ApprovedLeaveReducesExtension(t *testing.T) {
	// GIVEN: A member approved for breakfast-only leave on 2026-10-20
	// WHEN: The mess closes that day
	// THEN: Only lunch and dinner are credited

	leaves, f := newLeaves(t)
	ctx := context.Background()
	plan := f.plan(t, `{"id":"p","messId":"mess-1","name":"Full","pricing":{"amount":3000,"period":"month"}}`)
	m := f.member(t, "m-1", plan.ID, "2026-11-15")

	l, err := leaves.Create(ctx, meals.CreateLeaveInput{
		UserID:             m.UserID,
		MessID:             "mess-1",
		StartDate:          day("2026-10-20"),
		StartDateMealTypes: []mess.MealType{mess.Breakfast},
	})
	require.NoError(t, err)
	_, err = leaves.Approve(ctx, l.ID, "owner-1")
	require.NoError(t, err)

	o, err := f.reconciler.CreateOffDay(ctx, meals.CreateOffDayInput{MessID: "mess-1", Date: day("2026-10-20")})
	require.NoError(t, err)

	apps, err := f.reconciler.Applications(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, 2, apps[0].MissedMeals)
	assert.Equal(t, 2, f.membership(t, "m-1").LeaveExtensionMeals)
}

func TestLeaves_RangeWithStartMealsOnly_CoversWholeLastDay(t *testing.T) {
	// GIVEN: A member away from dinner on 10-20 through 10-22, last day unspecified
	// WHEN: The mess closes on 10-22
	// THEN: The member was away all day, so nothing is credited

	leaves, f := newLeaves(t)
	ctx := context.Background()
	plan := f.plan(t, factory.MonthlyPlanJSON("plan-monthly", "mess-1", 3000))
	m := f.member(t, "m-1", plan.ID, "2026-11-15")

	l, err := leaves.Create(ctx, meals.CreateLeaveInput{
		UserID:             m.UserID,
		MessID:             "mess-1",
		StartDate:          day("2026-10-20"),
		EndDate:            day("2026-10-22"),
		StartDateMealTypes: []mess.MealType{mess.Dinner},
	})
	require.NoError(t, err)
	assert.Equal(t, mess.AllMealTypes, l.EndDateMealTypes)
	_, err = leaves.Approve(ctx, l.ID, "owner-1")
	require.NoError(t, err)

	o, err := f.reconciler.CreateOffDay(ctx, meals.CreateOffDayInput{MessID: "mess-1", Date: day("2026-10-22")})
	require.NoError(t, err)

	apps, err := f.reconciler.Applications(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, apps)
	got := f.membership(t, "m-1")
	assert.Equal(t, "2026-11-15", got.SubscriptionEndDate.String())
	assert.Zero(t, got.LeaveExtensionMeals)
}

func TestLeaves_SingleDayEndMealsFollowStart(t *testing.T) {
	leaves, _ := newLeaves(t)

	l, err := leaves.Create(context.Background(), meals.CreateLeaveInput{
		UserID:             "user-1",
		MessID:             "mess-1",
		StartDate:          day("2026-10-20"),
		StartDateMealTypes: []mess.MealType{mess.Lunch},
	})
	require.NoError(t, err)
	assert.Equal(t, []mess.MealType{mess.Lunch}, l.EndDateMealTypes)
}
