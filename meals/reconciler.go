/*
reconciler.go - Off-day lifecycle and the subscription-extension saga

PURPOSE:
  Creates, updates and cancels off-days. When an off-day extends
  subscriptions, every affected membership gets its end date pushed out by
  the days its missed meals represent, and cancelling the off-day takes
  exactly that back.

EXTENSION SAGA:
  1. PLAN    For each active/pending membership compute missed meals and
             days once. Persist them as `planned` OffDayApplications.
  2. APPLY   One DB transaction per membership: move the end date, bump
             leaveExtensionMeals, append an extension_meals ledger entry
             keyed offday:<id>:<membership>:apply, mark the row `applied`.
  3. DONE    extensionState -> applied.

  A crash between steps leaves planned rows behind; Resume (or the
  scheduler) finishes them. The ledger idempotency key makes re-applying a
  committed row impossible.

REVERSAL:
  Cancel replays the `applied` rows in reverse (end date -= daysAdded,
  leaveExtensionMeals -= missedMeals floored at 0). Plans and leaves are
  NOT re-read, so later edits cannot skew the reversal.

SIDE EFFECTS (best-effort, after commit):
  - billing snapshot of the extension on the member's current bill
  - announcement to the mess room
*/
package meals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartmess/billing-engine/generic"
	"github.com/smartmess/billing-engine/logging"
	"github.com/smartmess/billing-engine/mess"
	"github.com/smartmess/billing-engine/notify"
)

const (
	// BookExtensionMeals is the ledger of meals credited to a membership.
	BookExtensionMeals generic.Book = "extension_meals"

	TxExtension generic.TransactionType = "extension"

	SubjectOffDay     = "off_day"
	SubjectMembership = "membership"
	SubjectSettings   = "off_day_settings"
)

// ExtensionRecorder attaches extension snapshots to billing records.
type ExtensionRecorder interface {
	RecordExtension(ctx context.Context, membershipID string, snap mess.ExtensionSnapshot) error
	ReverseExtension(ctx context.Context, membershipID, offDayID string) error
}

// Reconciler owns the off-day lifecycle.
type Reconciler struct {
	store     mess.TxStore
	catalog   *Catalog
	announcer notify.Announcer
	billing   ExtensionRecorder
	logger    logging.Logger
	now       func() time.Time
	loc       *time.Location
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option      { return func(r *Reconciler) { r.now = now } }
func WithLocation(loc *time.Location) Option     { return func(r *Reconciler) { r.loc = loc } }
func WithAnnouncer(a notify.Announcer) Option    { return func(r *Reconciler) { r.announcer = a } }
func WithExtensionRecorder(b ExtensionRecorder) Option {
	return func(r *Reconciler) { r.billing = b }
}
func WithLogger(l logging.Logger) Option { return func(r *Reconciler) { r.logger = l } }

func NewReconciler(store mess.TxStore, catalog *Catalog, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:     store,
		catalog:   catalog,
		announcer: notify.Nop{},
		logger:    logging.NewNop(),
		now:       time.Now,
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) today() generic.Date {
	return generic.TodayAt(r.now(), r.loc)
}

// =============================================================================
// CREATE
// =============================================================================

// CreateOffDayInput describes a new closure. Either Date, or both
// StartDate and EndDate, must be set. Nil pointers take the mess's
// off-day settings.
type CreateOffDayInput struct {
	MessID                string
	ActorID               string
	Date                  generic.Date
	StartDate             generic.Date
	EndDate               generic.Date
	Reason                string
	MealTypes             []mess.MealType
	StartDateMealTypes    []mess.MealType
	EndDateMealTypes      []mess.MealType
	BillingDeduction      *bool
	SubscriptionExtension *bool
	ExtensionDays         *int
}

func (in CreateOffDayInput) dateRange() (generic.DateRange, error) {
	if !in.StartDate.IsZero() || !in.EndDate.IsZero() {
		return generic.NewDateRange(in.StartDate, in.EndDate)
	}
	if in.Date.IsZero() {
		return generic.DateRange{}, generic.ErrIncompleteRange
	}
	return generic.SingleDay(in.Date), nil
}

// CreateOffDay validates and stores an off-day, then runs the extension
// saga when extension is enabled. Saga failures are logged and left for
// Resume; the off-day itself stays created.
func (r *Reconciler) CreateOffDay(ctx context.Context, in CreateOffDayInput) (*mess.OffDay, error) {
	rng, err := in.dateRange()
	if err != nil {
		return nil, err
	}
	if rng.Start.Before(r.today()) {
		return nil, generic.ErrPastDate
	}
	if err := validateMealTypes(in.MealTypes, in.StartDateMealTypes, in.EndDateMealTypes); err != nil {
		return nil, err
	}

	m, err := r.store.GetMess(ctx, in.MessID)
	if err != nil {
		return nil, err
	}
	settings, err := r.store.GetOffDaySettings(ctx, in.MessID)
	if err != nil {
		return nil, fmt.Errorf("failed to load off day settings: %w", err)
	}

	extension := settings.DefaultSubscriptionExtension
	if in.SubscriptionExtension != nil {
		extension = *in.SubscriptionExtension
	}
	billingDeduction := settings.DefaultBillingDeduction
	if in.BillingDeduction != nil {
		billingDeduction = *in.BillingDeduction
	}
	days := 1
	if in.ExtensionDays != nil {
		days = *in.ExtensionDays
	} else if settings.DefaultExtensionDays > 0 {
		days = settings.DefaultExtensionDays
	}
	if extension && days < 1 {
		return nil, generic.Invalid("extensionDays", "must be at least 1 when subscription extension is enabled")
	}

	// Fast path; the partial unique index is the real guard.
	if _, err := r.store.FindActiveOffDay(ctx, in.MessID, rng.Start); err == nil {
		return nil, generic.ErrDuplicateOffDay
	} else if !generic.IsNotFound(err) {
		return nil, err
	}

	now := r.now()
	o := mess.OffDay{
		ID:                    uuid.NewString(),
		MessID:                in.MessID,
		OffDate:               rng.Start,
		Reason:                strings.TrimSpace(in.Reason),
		BillingDeduction:      billingDeduction,
		SubscriptionExtension: extension,
		ExtensionDays:         days,
		Status:                mess.OffDayActive,
		ExtensionState:        mess.ExtensionNone,
		CreatedBy:             in.ActorID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if rng.IsSingleDay() {
		o.MealTypes = normalizeMealTypes(in.MealTypes, in.StartDateMealTypes)
	} else {
		o.EndDate = rng.End
		o.StartDateMealTypes = normalizeMealTypes(in.StartDateMealTypes, nil)
		o.EndDateMealTypes = normalizeMealTypes(in.EndDateMealTypes, nil)
	}
	if extension {
		o.ExtensionState = mess.ExtensionApplying
	}

	err = r.store.WithTx(ctx, func(tx mess.Store) error {
		if err := tx.CreateOffDay(ctx, o); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     in.ActorID,
			Action:      generic.AuditCreated,
			SubjectType: SubjectOffDay,
			SubjectID:   o.ID,
			ScopeID:     o.MessID,
			After:       generic.Snapshot(o),
		})
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Reconciler", "Off day created", map[string]any{
		"off_day_id": o.ID,
		"mess_id":    o.MessID,
		"range":      o.Range().String(),
		"extension":  extension,
	})

	if extension {
		if err := r.applyExtension(ctx, &o, in.ActorID); err != nil {
			r.logger.Error("Reconciler", "Extension saga incomplete, will resume", map[string]any{
				"off_day_id": o.ID,
				"error":      err,
			})
		}
	}

	if settings.AnnounceOffDays {
		r.announce(ctx, m, in.ActorID, createdMessage(o))
	}
	return &o, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateOffDayInput carries the fields to merge. Nil means unchanged.
type UpdateOffDayInput struct {
	ActorID               string
	Date                  *generic.Date
	EndDate               *generic.Date
	Reason                *string
	MealTypes             []mess.MealType
	StartDateMealTypes    []mess.MealType
	EndDateMealTypes      []mess.MealType
	BillingDeduction      *bool
	SubscriptionExtension *bool
	ExtensionDays         *int
}

// UpdateOffDay merges fields into an active off-day. Extensions already
// applied to memberships are left as they are.
func (r *Reconciler) UpdateOffDay(ctx context.Context, messID, id string, in UpdateOffDayInput) (*mess.OffDay, error) {
	o, err := r.GetOffDay(ctx, messID, id)
	if err != nil {
		return nil, err
	}
	if o.Status == mess.OffDayCancelled {
		return nil, fmt.Errorf("cannot update off day: %w", generic.ErrAlreadyCancelled)
	}
	if err := validateMealTypes(in.MealTypes, in.StartDateMealTypes, in.EndDateMealTypes); err != nil {
		return nil, err
	}

	before := *o
	updated := *o

	if in.Date != nil {
		if in.Date.IsZero() {
			return nil, generic.Invalid("offDate", "cannot be empty")
		}
		if !in.Date.Equal(o.OffDate) && in.Date.Before(r.today()) {
			return nil, generic.ErrPastDate
		}
		updated.OffDate = *in.Date
	}
	if in.EndDate != nil {
		updated.EndDate = *in.EndDate
	}
	if !updated.EndDate.IsZero() {
		if updated.EndDate.Before(updated.OffDate) {
			return nil, generic.ErrInvalidRange
		}
		if updated.EndDate.Equal(updated.OffDate) {
			updated.EndDate = generic.Date{}
		}
	}
	if in.Reason != nil {
		updated.Reason = strings.TrimSpace(*in.Reason)
	}
	if in.MealTypes != nil {
		updated.MealTypes = normalizeMealTypes(in.MealTypes, nil)
	}
	if in.StartDateMealTypes != nil {
		updated.StartDateMealTypes = normalizeMealTypes(in.StartDateMealTypes, nil)
	}
	if in.EndDateMealTypes != nil {
		updated.EndDateMealTypes = normalizeMealTypes(in.EndDateMealTypes, nil)
	}
	if updated.IsRange() && !o.IsRange() && in.StartDateMealTypes == nil {
		// The single-day meals become the first day's meals.
		updated.StartDateMealTypes = normalizeMealTypes(updated.MealTypes, nil)
	}
	if in.BillingDeduction != nil {
		updated.BillingDeduction = *in.BillingDeduction
	}
	if in.SubscriptionExtension != nil {
		updated.SubscriptionExtension = *in.SubscriptionExtension
		if updated.SubscriptionExtension && in.ExtensionDays == nil && updated.ExtensionDays < 1 {
			updated.ExtensionDays = 1
		}
	}
	if in.ExtensionDays != nil {
		updated.ExtensionDays = *in.ExtensionDays
	}
	if updated.SubscriptionExtension && updated.ExtensionDays < 1 {
		return nil, generic.Invalid("extensionDays", "must be at least 1 when subscription extension is enabled")
	}

	if !updated.OffDate.Equal(o.OffDate) {
		other, err := r.store.FindActiveOffDay(ctx, messID, updated.OffDate)
		switch {
		case err == nil && other.ID != o.ID:
			return nil, generic.ErrDuplicateOffDay
		case err != nil && !generic.IsNotFound(err):
			return nil, err
		}
	}

	now := r.now()
	updated.UpdatedAt = now

	err = r.store.WithTx(ctx, func(tx mess.Store) error {
		if err := tx.UpdateOffDay(ctx, updated); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     in.ActorID,
			Action:      generic.AuditUpdated,
			SubjectType: SubjectOffDay,
			SubjectID:   updated.ID,
			ScopeID:     updated.MessID,
			Before:      generic.Snapshot(before),
			After:       generic.Snapshot(updated),
		})
	})
	if err != nil {
		return nil, err
	}

	r.announceIfEnabled(ctx, updated.MessID, in.ActorID, updatedMessage(updated))
	return &updated, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelOffDay soft-deletes an off-day and reverses any applied extension.
func (r *Reconciler) CancelOffDay(ctx context.Context, messID, id, actorID string) (*mess.OffDay, error) {
	o, err := r.GetOffDay(ctx, messID, id)
	if err != nil {
		return nil, err
	}
	if o.Status == mess.OffDayCancelled {
		return nil, generic.ErrAlreadyCancelled
	}

	before := *o
	now := r.now()
	o.Status = mess.OffDayCancelled
	o.UpdatedAt = now
	if o.ExtensionState == mess.ExtensionApplying || o.ExtensionState == mess.ExtensionApplied {
		o.ExtensionState = mess.ExtensionReversing
	}

	err = r.store.WithTx(ctx, func(tx mess.Store) error {
		if err := tx.UpdateOffDay(ctx, *o); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     actorID,
			Action:      generic.AuditDeleted,
			SubjectType: SubjectOffDay,
			SubjectID:   o.ID,
			ScopeID:     o.MessID,
			Before:      generic.Snapshot(before),
			After:       generic.Snapshot(o),
		})
	})
	if err != nil {
		return nil, err
	}

	if o.ExtensionState == mess.ExtensionReversing {
		if err := r.reverseExtension(ctx, o, actorID); err != nil {
			r.logger.Error("Reconciler", "Extension reversal incomplete, will resume", map[string]any{
				"off_day_id": o.ID,
				"error":      err,
			})
		}
	}

	r.announceIfEnabled(ctx, o.MessID, actorID, cancelledMessage(*o))
	return o, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetOffDay returns an off-day of messID.
func (r *Reconciler) GetOffDay(ctx context.Context, messID, id string) (*mess.OffDay, error) {
	o, err := r.store.GetOffDay(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.MessID != messID {
		return nil, fmt.Errorf("%w: %s", generic.ErrOffDayNotFound, id)
	}
	return o, nil
}

// ListOffDays lists a mess's off-days, optionally narrowed by status and window.
func (r *Reconciler) ListOffDays(ctx context.Context, filter mess.OffDayFilter) ([]mess.OffDay, error) {
	return r.store.ListOffDays(ctx, filter)
}

// Applications returns the recorded per-membership deltas of an off-day.
func (r *Reconciler) Applications(ctx context.Context, offDayID string) ([]mess.OffDayApplication, error) {
	return r.store.ListOffDayApplications(ctx, offDayID)
}

// AuditTrail returns the off-day's audit entries, oldest first.
func (r *Reconciler) AuditTrail(ctx context.Context, messID, id string) ([]generic.AuditEntry, error) {
	if _, err := r.GetOffDay(ctx, messID, id); err != nil {
		return nil, err
	}
	return r.store.QueryAudit(ctx, generic.AuditFilter{
		SubjectType: SubjectOffDay,
		SubjectID:   id,
	})
}

// =============================================================================
// SETTINGS
// =============================================================================

func (r *Reconciler) Settings(ctx context.Context, messID string) (mess.OffDaySettings, error) {
	if _, err := r.store.GetMess(ctx, messID); err != nil {
		return mess.OffDaySettings{}, err
	}
	return r.store.GetOffDaySettings(ctx, messID)
}

func (r *Reconciler) SaveSettings(ctx context.Context, s mess.OffDaySettings, actorID string) (mess.OffDaySettings, error) {
	if _, err := r.store.GetMess(ctx, s.MessID); err != nil {
		return mess.OffDaySettings{}, err
	}
	if s.DefaultExtensionDays < 1 {
		return mess.OffDaySettings{}, generic.Invalid("defaultExtensionDays", "must be at least 1")
	}

	before, err := r.store.GetOffDaySettings(ctx, s.MessID)
	if err != nil {
		return mess.OffDaySettings{}, err
	}
	s.UpdatedAt = r.now()

	err = r.store.WithTx(ctx, func(tx mess.Store) error {
		if err := tx.SaveOffDaySettings(ctx, s); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   s.UpdatedAt,
			ActorID:     actorID,
			Action:      generic.AuditUpdated,
			SubjectType: SubjectSettings,
			SubjectID:   s.MessID,
			ScopeID:     s.MessID,
			Before:      generic.Snapshot(before),
			After:       generic.Snapshot(s),
		})
	})
	if err != nil {
		return mess.OffDaySettings{}, err
	}
	return s, nil
}

// =============================================================================
// RESUME
// =============================================================================

// Resume finishes an interrupted apply or reversal of one off-day.
func (r *Reconciler) Resume(ctx context.Context, messID, id, actorID string) (*mess.OffDay, error) {
	o, err := r.GetOffDay(ctx, messID, id)
	if err != nil {
		return nil, err
	}
	if err := r.resume(ctx, o, actorID); err != nil {
		return nil, err
	}
	return o, nil
}

// ResumePending finishes every interrupted saga. Returns how many off-days
// were completed.
func (r *Reconciler) ResumePending(ctx context.Context) (int, error) {
	pending, err := r.store.ListOffDaysByExtensionState(ctx, mess.ExtensionApplying, mess.ExtensionReversing)
	if err != nil {
		return 0, err
	}

	done := 0
	var errs []error
	for i := range pending {
		o := pending[i]
		if err := r.resume(ctx, &o, "system"); err != nil {
			errs = append(errs, fmt.Errorf("off day %s: %w", o.ID, err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

func (r *Reconciler) resume(ctx context.Context, o *mess.OffDay, actorID string) error {
	switch o.ExtensionState {
	case mess.ExtensionApplying:
		if o.Status == mess.OffDayCancelled {
			o.ExtensionState = mess.ExtensionReversing
			return r.reverseExtension(ctx, o, actorID)
		}
		return r.applyExtension(ctx, o, actorID)
	case mess.ExtensionReversing:
		return r.reverseExtension(ctx, o, actorID)
	default:
		return nil
	}
}

// =============================================================================
// SAGA STEPS
// =============================================================================

// applyExtension plans (once) and applies every planned application.
func (r *Reconciler) applyExtension(ctx context.Context, o *mess.OffDay, actorID string) error {
	apps, err := r.store.ListOffDayApplications(ctx, o.ID)
	if err != nil {
		return err
	}
	if len(apps) == 0 {
		apps, err = r.plan(ctx, *o)
		if err != nil {
			return err
		}
	}

	var errs []error
	var applied []mess.OffDayApplication
	for _, app := range apps {
		if app.State != mess.ApplicationPlanned {
			continue
		}
		done, err := r.applyOne(ctx, *o, app, actorID)
		if err != nil {
			r.logger.Error("Reconciler", "Failed to apply extension", map[string]any{
				"off_day_id":    o.ID,
				"membership_id": app.MembershipID,
				"error":         err,
			})
			errs = append(errs, err)
			continue
		}
		applied = append(applied, done)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := r.setExtensionState(ctx, o, mess.ExtensionApplied); err != nil {
		return err
	}

	for _, app := range applied {
		r.recordBilling(ctx, *o, app)
	}
	return nil
}

// plan computes each membership's delta and persists them as planned.
func (r *Reconciler) plan(ctx context.Context, o mess.OffDay) ([]mess.OffDayApplication, error) {
	memberships, err := r.store.ListMembershipsByMess(ctx, o.MessID, mess.MembershipActive, mess.MembershipPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	closure := OffDayWindow(o)
	var apps []mess.OffDayApplication
	for _, m := range memberships {
		plan, err := r.catalog.Plan(ctx, m.PlanID)
		if err != nil {
			r.logger.Warn("Reconciler", "Skipping membership without plan", map[string]any{
				"membership_id": m.ID,
				"plan_id":       m.PlanID,
				"error":         err.Error(),
			})
			continue
		}
		leaves, err := r.store.ListApprovedLeaves(ctx, m.UserID, o.MessID, closure.Range)
		if err != nil {
			return nil, fmt.Errorf("failed to load leaves for %s: %w", m.UserID, err)
		}

		missed := MissedMeals(closure, *plan, leaves)
		if missed == 0 {
			continue
		}
		apps = append(apps, mess.OffDayApplication{
			OffDayID:     o.ID,
			MembershipID: m.ID,
			MissedMeals:  missed,
			DaysAdded:    ExtensionDays(missed, *plan),
			State:        mess.ApplicationPlanned,
		})
	}

	err = r.store.WithTx(ctx, func(tx mess.Store) error {
		for _, app := range apps {
			if err := tx.SaveOffDayApplication(ctx, app); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record extension plan: %w", err)
	}
	return apps, nil
}

func (r *Reconciler) applyOne(ctx context.Context, o mess.OffDay, app mess.OffDayApplication, actorID string) (mess.OffDayApplication, error) {
	now := r.now()
	err := r.store.WithTx(ctx, func(tx mess.Store) error {
		m, err := tx.GetMembership(ctx, app.MembershipID)
		if err != nil {
			return err
		}
		before := *m

		// A membership without an end date has nothing to extend; the meals
		// are still credited.
		if m.SubscriptionEndDate.IsZero() {
			app.DaysAdded = 0
		}

		err = generic.NewLedger(tx).Append(ctx, generic.Transaction{
			AccountID:      generic.AccountID(m.ID),
			Book:           BookExtensionMeals,
			EffectiveAt:    o.OffDate,
			Delta:          generic.NewAmountFromInt(app.MissedMeals, generic.UnitMeals),
			Type:           TxExtension,
			ReferenceID:    o.ID,
			Reason:         "mess off day extension",
			IdempotencyKey: applyKey(o.ID, m.ID),
			Metadata:       map[string]string{"days_added": fmt.Sprint(app.DaysAdded)},
			CreatedBy:      actorID,
			CreatedAt:      now,
		})
		if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
			// Already applied by an earlier run.
			app.State = mess.ApplicationApplied
			return tx.SaveOffDayApplication(ctx, app)
		}
		if err != nil {
			return err
		}

		app.OriginalEndDate = m.SubscriptionEndDate
		if app.DaysAdded > 0 {
			m.SubscriptionEndDate = m.SubscriptionEndDate.AddDays(app.DaysAdded)
		}
		app.NewEndDate = m.SubscriptionEndDate
		m.LeaveExtensionMeals += app.MissedMeals
		m.UpdatedAt = now
		if err := tx.SaveMembership(ctx, *m); err != nil {
			return err
		}

		app.State = mess.ApplicationApplied
		app.AppliedAt = &now
		if err := tx.SaveOffDayApplication(ctx, app); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     actorID,
			Action:      generic.AuditExtensionApplied,
			SubjectType: SubjectMembership,
			SubjectID:   m.ID,
			ScopeID:     o.MessID,
			Before:      generic.Snapshot(before),
			After:       generic.Snapshot(m),
		})
	})
	return app, err
}

// reverseExtension replays every applied application in reverse.
func (r *Reconciler) reverseExtension(ctx context.Context, o *mess.OffDay, actorID string) error {
	apps, err := r.store.ListOffDayApplications(ctx, o.ID)
	if err != nil {
		return err
	}

	var errs []error
	for _, app := range apps {
		if app.State != mess.ApplicationApplied {
			continue
		}
		if err := r.reverseOne(ctx, *o, app, actorID); err != nil {
			r.logger.Error("Reconciler", "Failed to reverse extension", map[string]any{
				"off_day_id":    o.ID,
				"membership_id": app.MembershipID,
				"error":         err,
			})
			errs = append(errs, err)
			continue
		}
		if r.billing != nil {
			if err := r.billing.ReverseExtension(ctx, app.MembershipID, o.ID); err != nil && !generic.IsNotFound(err) {
				r.logger.Warn("Reconciler", "Failed to clear billing extension snapshot", map[string]any{
					"membership_id": app.MembershipID,
					"error":         err.Error(),
				})
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return r.setExtensionState(ctx, o, mess.ExtensionReversed)
}

func (r *Reconciler) reverseOne(ctx context.Context, o mess.OffDay, app mess.OffDayApplication, actorID string) error {
	now := r.now()
	return r.store.WithTx(ctx, func(tx mess.Store) error {
		m, err := tx.GetMembership(ctx, app.MembershipID)
		if err != nil {
			return err
		}
		before := *m

		err = generic.NewLedger(tx).Append(ctx, generic.Transaction{
			AccountID:      generic.AccountID(m.ID),
			Book:           BookExtensionMeals,
			EffectiveAt:    o.OffDate,
			Delta:          generic.NewAmountFromInt(-app.MissedMeals, generic.UnitMeals),
			Type:           generic.TxReversal,
			ReferenceID:    o.ID,
			Reason:         "mess off day cancelled",
			IdempotencyKey: reverseKey(o.ID, m.ID),
			Metadata:       map[string]string{"days_removed": fmt.Sprint(app.DaysAdded)},
			CreatedBy:      actorID,
			CreatedAt:      now,
		})
		if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
			app.State = mess.ApplicationReversed
			return tx.SaveOffDayApplication(ctx, app)
		}
		if err != nil {
			return err
		}

		if app.DaysAdded > 0 && !m.SubscriptionEndDate.IsZero() {
			m.SubscriptionEndDate = m.SubscriptionEndDate.AddDays(-app.DaysAdded)
		}
		m.LeaveExtensionMeals -= app.MissedMeals
		if m.LeaveExtensionMeals < 0 {
			m.LeaveExtensionMeals = 0
		}
		m.UpdatedAt = now
		if err := tx.SaveMembership(ctx, *m); err != nil {
			return err
		}

		app.State = mess.ApplicationReversed
		app.ReversedAt = &now
		if err := tx.SaveOffDayApplication(ctx, app); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, generic.AuditEntry{
			Timestamp:   now,
			ActorID:     actorID,
			Action:      generic.AuditExtensionReversed,
			SubjectType: SubjectMembership,
			SubjectID:   m.ID,
			ScopeID:     o.MessID,
			Before:      generic.Snapshot(before),
			After:       generic.Snapshot(m),
		})
	})
}

func (r *Reconciler) setExtensionState(ctx context.Context, o *mess.OffDay, state mess.ExtensionState) error {
	o.ExtensionState = state
	o.UpdatedAt = r.now()
	return r.store.WithTx(ctx, func(tx mess.Store) error {
		return tx.UpdateOffDay(ctx, *o)
	})
}

func (r *Reconciler) recordBilling(ctx context.Context, o mess.OffDay, app mess.OffDayApplication) {
	if r.billing == nil {
		return
	}
	err := r.billing.RecordExtension(ctx, app.MembershipID, mess.ExtensionSnapshot{
		OffDayID:        o.ID,
		ExtensionMeals:  app.MissedMeals,
		ExtensionDays:   app.DaysAdded,
		OriginalEndDate: app.OriginalEndDate,
		NewEndDate:      app.NewEndDate,
	})
	if err != nil && !generic.IsNotFound(err) {
		r.logger.Warn("Reconciler", "Failed to record extension on billing", map[string]any{
			"membership_id": app.MembershipID,
			"off_day_id":    o.ID,
			"error":         err.Error(),
		})
	}
}

func applyKey(offDayID, membershipID string) string {
	return fmt.Sprintf("offday:%s:%s:apply", offDayID, membershipID)
}

func reverseKey(offDayID, membershipID string) string {
	return fmt.Sprintf("offday:%s:%s:reverse", offDayID, membershipID)
}

// =============================================================================
// HELPERS
// =============================================================================

func validateMealTypes(lists ...[]mess.MealType) error {
	for _, list := range lists {
		for _, t := range list {
			if mealBit(t) == NoMeals {
				return generic.Invalid("mealTypes", "unknown meal type %q", t)
			}
		}
	}
	return nil
}

// normalizeMealTypes dedupes into serving order; empty input falls back.
func normalizeMealTypes(types, fallback []mess.MealType) []mess.MealType {
	if len(types) == 0 {
		types = fallback
	}
	if len(types) == 0 {
		return append([]mess.MealType(nil), mess.AllMealTypes...)
	}
	return SetOf(types...).Types()
}
