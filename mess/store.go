package mess

import (
	"context"

	"github.com/smartmess/billing-engine/generic"
)

// =============================================================================
// STORE - Persistence contract for every SmartMess entity
// =============================================================================

// Lookups return a wrapped generic.ErrNotFound sentinel when the record is
// missing; settings lookups return defaults instead.

type MessStore interface {
	SaveMess(ctx context.Context, m Mess) error
	GetMess(ctx context.Context, id string) (*Mess, error)
	ListMesses(ctx context.Context) ([]Mess, error)
}

type PlanStore interface {
	SavePlan(ctx context.Context, p Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context, messID string) ([]Plan, error)
}

type MembershipStore interface {
	SaveMembership(ctx context.Context, m Membership) error
	GetMembership(ctx context.Context, id string) (*Membership, error)
	// ListMembershipsByMess returns every membership of the mess, or only
	// those in one of statuses when given.
	ListMembershipsByMess(ctx context.Context, messID string, statuses ...MembershipStatus) ([]Membership, error)
}

type LeaveStore interface {
	SaveLeave(ctx context.Context, l Leave) error
	GetLeave(ctx context.Context, id string) (*Leave, error)
	ListLeavesByUser(ctx context.Context, userID, messID string) ([]Leave, error)
	// ListApprovedLeaves returns the user's approved leaves in the mess that
	// overlap r.
	ListApprovedLeaves(ctx context.Context, userID, messID string, r generic.DateRange) ([]Leave, error)
}

// OffDayFilter narrows ListOffDays. Zero fields match everything.
type OffDayFilter struct {
	MessID string
	Status OffDayStatus
	From   generic.Date
	To     generic.Date
}

type OffDayStore interface {
	// CreateOffDay returns generic.ErrDuplicateOffDay when another active
	// off-day exists for the same mess and date.
	CreateOffDay(ctx context.Context, o OffDay) error
	UpdateOffDay(ctx context.Context, o OffDay) error
	GetOffDay(ctx context.Context, id string) (*OffDay, error)
	ListOffDays(ctx context.Context, filter OffDayFilter) ([]OffDay, error)
	FindActiveOffDay(ctx context.Context, messID string, date generic.Date) (*OffDay, error)
	ListOffDaysByExtensionState(ctx context.Context, states ...ExtensionState) ([]OffDay, error)

	SaveOffDayApplication(ctx context.Context, a OffDayApplication) error
	ListOffDayApplications(ctx context.Context, offDayID string) ([]OffDayApplication, error)

	GetOffDaySettings(ctx context.Context, messID string) (OffDaySettings, error)
	SaveOffDaySettings(ctx context.Context, s OffDaySettings) error
}

type CreditStore interface {
	GetMessCredits(ctx context.Context, messID string) (*MessCredits, error)
	SaveMessCredits(ctx context.Context, c MessCredits) error
	ListMessCreditsByStatus(ctx context.Context, status CreditStatus) ([]MessCredits, error)

	GetPlatformSettings(ctx context.Context) (PlatformSettings, error)
	SavePlatformSettings(ctx context.Context, s PlatformSettings) error
}

type BillingStore interface {
	SaveBilling(ctx context.Context, b Billing) error
	GetBilling(ctx context.Context, id string) (*Billing, error)
	ListBillingsByMembership(ctx context.Context, membershipID string) ([]Billing, error)
	ListBillingsByStatus(ctx context.Context, status PaymentStatus) ([]Billing, error)
	// FindBillingCovering returns the latest billing record of the membership
	// whose period contains d.
	FindBillingCovering(ctx context.Context, membershipID string, d generic.Date) (*Billing, error)

	SavePaymentTransaction(ctx context.Context, t PaymentTransaction) error
	GetPaymentTransaction(ctx context.Context, id string) (*PaymentTransaction, error)
	ListPaymentTransactions(ctx context.Context, billingID string) ([]PaymentTransaction, error)
}

// Store is everything the services need from persistence.
type Store interface {
	generic.Store
	generic.AuditLog
	MessStore
	PlanStore
	MembershipStore
	LeaveStore
	OffDayStore
	CreditStore
	BillingStore
}

// TxStore runs fn against a Store bound to one database transaction. The
// transaction commits when fn returns nil. Nested calls join the outer
// transaction.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
