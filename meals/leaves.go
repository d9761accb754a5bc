package meals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/logging"
	"github.com/smartmess/billing-engine/mess"
)

// =============================================================================
// PERSONAL LEAVES
// =============================================================================

// Leaves manages members' own absences. Approved leaves are what the
// reconciler subtracts from an off-day's missed meals.
type Leaves struct {
	store  mess.TxStore
	logger logging.Logger
	now    func() time.Time
	loc    *time.Location
}

func NewLeaves(store mess.TxStore, logger logging.Logger, now func() time.Time, loc *time.Location) *Leaves {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Leaves{store: store, logger: logger, now: now, loc: loc}
}

type CreateLeaveInput struct {
	UserID             string
	MessID             string
	StartDate          generic.Date
	EndDate            generic.Date
	StartDateMealTypes []mess.MealType
	EndDateMealTypes   []mess.MealType
	Reason             string
}

// Create records a pending leave for a member of the mess.
func (s *Leaves) Create(ctx context.Context, in CreateLeaveInput) (*mess.Leave, error) {
	if in.UserID == "" {
		return nil, generic.Invalid("userId", "is required")
	}
	end := in.EndDate
	if end.IsZero() {
		end = in.StartDate
	}
	rng, err := generic.NewDateRange(in.StartDate, end)
	if err != nil {
		return nil, err
	}
	if rng.Start.Before(generic.TodayAt(s.now(), s.loc)) {
		return nil, generic.ErrPastDate
	}
	if err := validateMealTypes(in.StartDateMealTypes, in.EndDateMealTypes); err != nil {
		return nil, err
	}
	if _, err := s.store.GetMess(ctx, in.MessID); err != nil {
		return nil, err
	}

	// A single day has one boundary; on a range an unspecified last day
	// means all meals, as for off-days.
	endFallback := []mess.MealType(nil)
	if rng.IsSingleDay() {
		endFallback = in.StartDateMealTypes
	}

	now := s.now()
	l := mess.Leave{
		ID:                 uuid.NewString(),
		UserID:             in.UserID,
		MessID:             in.MessID,
		StartDate:          rng.Start,
		EndDate:            rng.End,
		StartDateMealTypes: normalizeMealTypes(in.StartDateMealTypes, nil),
		EndDateMealTypes:   normalizeMealTypes(in.EndDateMealTypes, endFallback),
		Status:             mess.LeavePending,
		Reason:             strings.TrimSpace(in.Reason),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.SaveLeave(ctx, l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Leaves) Get(ctx context.Context, id string) (*mess.Leave, error) {
	return s.store.GetLeave(ctx, id)
}

func (s *Leaves) ListByUser(ctx context.Context, userID, messID string) ([]mess.Leave, error) {
	return s.store.ListLeavesByUser(ctx, userID, messID)
}

func (s *Leaves) Approve(ctx context.Context, id, actorID string) (*mess.Leave, error) {
	return s.transition(ctx, id, actorID, mess.LeaveApproved, mess.LeavePending)
}

func (s *Leaves) Reject(ctx context.Context, id, actorID string) (*mess.Leave, error) {
	return s.transition(ctx, id, actorID, mess.LeaveRejected, mess.LeavePending)
}

// Cancel withdraws a pending or approved leave.
func (s *Leaves) Cancel(ctx context.Context, id, actorID string) (*mess.Leave, error) {
	return s.transition(ctx, id, actorID, mess.LeaveCancelled, mess.LeavePending, mess.LeaveApproved)
}

func (s *Leaves) transition(ctx context.Context, id, actorID string, to mess.LeaveStatus, from ...mess.LeaveStatus) (*mess.Leave, error) {
	var out mess.Leave
	err := s.store.WithTx(ctx, func(tx mess.Store) error {
		l, err := tx.GetLeave(ctx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if l.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: leave is %s", generic.ErrStateConflict, l.Status)
		}

		before := *l
		l.Status = to
		l.ReviewedBy = actorID
		l.UpdatedAt = s.now()
		if err := tx.SaveLeave(ctx, *l); err != nil {
			return err
		}
		out = *l
		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   l.UpdatedAt,
			ActorID:     actorID,
			Action:      generic.AuditUpdated,
			SubjectType: "leave",
			SubjectID:   l.ID,
			ScopeID:     l.MessID,
			Before:      generic.Snapshot(before),
			After:       generic.Snapshot(l),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Leaves", "Leave status changed", map[string]any{
		"leave_id": id,
		"status":   string(to),
	})
	return &out, nil
}
