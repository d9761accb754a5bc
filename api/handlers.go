/*
handlers.go - HTTP API handlers for the SmartMess billing engine

PURPOSE:
  Exposes the billing services over REST. Handlers parse the request,
  delegate to a service and wrap the result in the {success, data, message}
  envelope. No business rule lives here.

ENDPOINTS:
  Messes and plans:
    POST   /api/messes                          Create mess
    GET    /api/messes/{messId}                 Get mess
    GET    /api/mess/{messId}/plans             List meal plans
    POST   /api/mess/{messId}/plans             Create meal plan

  Memberships:
    POST   /api/memberships                     Join (pending)
    GET    /api/memberships/{id}                Get membership
    GET    /api/memberships/{id}/billing        Billing records
    POST   /api/payment-requests/{id}/submit    Member sends request
    POST   /api/payment-requests/{id}/approve   Owner approves (charges credits)
    POST   /api/payment-requests/{id}/reject    Owner rejects

  Off days, leaves, credits, billing:
    see offdays.go, credits.go, billing.go

ARCHITECTURE:
  Handler holds every service. NewHandler wires them over one store so
  tests and cmd/server build the same graph.

ERROR HANDLING:
  writeServiceError (response.go) maps service errors:
  - 400: validation, state conflicts, insufficient credits
  - 403: subscription gate
  - 404: missing records
  - 500: everything else, logged

SECURITY NOTE:
  No authentication. The caller's identity arrives in X-Actor-ID and is
  trusted as given.

SEE ALSO:
  - server.go: Router and middleware
  - dto.go: Request bodies
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/smartmess/billing-engine/billing"
	"github.com/smartmess/billing-engine/credits"
	"github.com/smartmess/billing-engine/factory"
	"github.com/smartmess/billing-engine/logging"
	"github.com/smartmess/billing-engine/meals"
	"github.com/smartmess/billing-engine/mess"
	"github.com/smartmess/billing-engine/notify"
	"github.com/smartmess/billing-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Plans     *factory.PlanFactory
	Catalog   *meals.Catalog
	OffDays   *meals.Reconciler
	Leaves    *meals.Leaves
	Credits   *credits.Ledger
	Gate      *credits.Gate
	Approvals *credits.Approvals
	Bills     *billing.Manager
	Logger    logging.Logger

	now func() time.Time
	loc *time.Location

	// Track currently loaded scenario
	currentScenario string
}

// Options tune NewHandler. Zero values take production defaults.
type Options struct {
	Logger       logging.Logger
	Announcer    notify.Announcer
	Now          func() time.Time
	Location     *time.Location
	PlanCacheTTL time.Duration
}

// NewHandler builds every service over store.
func NewHandler(store *sqlite.Store, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Announcer == nil {
		opts.Announcer = notify.NewLogAnnouncer(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.PlanCacheTTL <= 0 {
		opts.PlanCacheTTL = time.Hour
	}

	catalog := meals.NewCatalog(store, opts.PlanCacheTTL)
	bills := billing.NewManager(store, opts.Logger, opts.Now, opts.Location)
	ledger := credits.NewLedger(store, opts.Logger, opts.Now)

	return &Handler{
		Store:   store,
		Plans:   factory.NewPlanFactory(),
		Catalog: catalog,
		OffDays: meals.NewReconciler(store, catalog,
			meals.WithClock(opts.Now),
			meals.WithLocation(opts.Location),
			meals.WithAnnouncer(opts.Announcer),
			meals.WithExtensionRecorder(bills),
			meals.WithLogger(opts.Logger),
		),
		Leaves:    meals.NewLeaves(store, opts.Logger, opts.Now, opts.Location),
		Credits:   ledger,
		Gate:      credits.NewGate(store, opts.Now),
		Approvals: credits.NewApprovals(store, ledger, bills, opts.Logger, opts.Now, opts.Location),
		Bills:     bills,
		Logger:    opts.Logger,
		now:       opts.Now,
		loc:       opts.Location,
	}
}

// =============================================================================
// MESS HANDLERS
// =============================================================================

// CreateMess registers a mess.
func (h *Handler) CreateMess(w http.ResponseWriter, r *http.Request) {
	var req CreateMessRequest
	if !decode(w, r, &req) {
		return
	}
	m := mess.Mess{
		ID:        strings.TrimSpace(req.ID),
		Name:      strings.TrimSpace(req.Name),
		OwnerID:   req.OwnerID,
		ChatRoom:  req.ChatRoomID,
		CreatedAt: h.now(),
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := h.Store.SaveMess(r.Context(), m); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, m, "Mess created")
}

func (h *Handler) GetMess(w http.ResponseWriter, r *http.Request) {
	m, err := h.Store.GetMess(r.Context(), chi.URLParam(r, "messId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, m, "")
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Catalog.Plans(r.Context(), chi.URLParam(r, "messId"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if plans == nil {
		plans = []mess.Plan{}
	}
	writeOK(w, plans, "")
}

// CreatePlan accepts a plan in the factory's JSON format. The mess id in
// the URL wins over any in the body.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	messID := chi.URLParam(r, "messId")
	var pj factory.PlanJSON
	if !decode(w, r, &pj) {
		return
	}
	pj.MessID = messID
	if _, err := h.Store.GetMess(r.Context(), messID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	plan, err := h.Plans.FromJSON(pj)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	plan.CreatedAt = h.now()
	if err := h.Catalog.SavePlan(r.Context(), *plan); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, plan, "Meal plan created")
}

// =============================================================================
// MEMBERSHIP HANDLERS
// =============================================================================

// JoinMess creates a pending membership. The mess must be accepting users.
func (h *Handler) JoinMess(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.Store.GetMess(r.Context(), req.MessID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	ok, err := h.Gate.CanAcceptNewUsers(r.Context(), req.MessID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "This mess is not accepting new members right now")
		return
	}
	m, err := h.Approvals.Join(r.Context(), credits.JoinInput{
		UserID: req.UserID,
		MessID: req.MessID,
		PlanID: req.PlanID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, m, "Membership requested")
}

func (h *Handler) GetMembership(w http.ResponseWriter, r *http.Request) {
	m, err := h.Approvals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, m, "")
}

func (h *Handler) MembershipBilling(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Approvals.Get(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	bills, err := h.Bills.ListByMembership(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if bills == nil {
		bills = []mess.Billing{}
	}
	writeOK(w, bills, "")
}

// =============================================================================
// PAYMENT REQUEST HANDLERS
// =============================================================================

func (h *Handler) SubmitPaymentRequest(w http.ResponseWriter, r *http.Request) {
	m, err := h.Approvals.Submit(r.Context(), chi.URLParam(r, "membershipId"), actorID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, m, "Payment request sent")
}

// ApprovePaymentRequest charges the mess's credits and activates the member.
// A shortfall answers 400 with the numbers needed to buy more.
func (h *Handler) ApprovePaymentRequest(w http.ResponseWriter, r *http.Request) {
	res, err := h.Approvals.Approve(r.Context(), chi.URLParam(r, "membershipId"), actorID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, res, "Payment request approved")
}

func (h *Handler) RejectPaymentRequest(w http.ResponseWriter, r *http.Request) {
	m, err := h.Approvals.Reject(r.Context(), chi.URLParam(r, "membershipId"), actorID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, m, "Payment request rejected")
}

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

func (h *Handler) CreateLeave(w http.ResponseWriter, r *http.Request) {
	var req CreateLeaveRequest
	if !decode(w, r, &req) {
		return
	}
	l, err := h.Leaves.Create(r.Context(), meals.CreateLeaveInput{
		UserID:             req.UserID,
		MessID:             req.MessID,
		StartDate:          req.StartDate,
		EndDate:            req.EndDate,
		StartDateMealTypes: req.StartDateMealTypes,
		EndDateMealTypes:   req.EndDateMealTypes,
		Reason:             req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCreated(w, l, "Leave requested")
}

func (h *Handler) ApproveLeave(w http.ResponseWriter, r *http.Request) {
	h.leaveTransition(w, r, h.Leaves.Approve, "Leave approved")
}

func (h *Handler) RejectLeave(w http.ResponseWriter, r *http.Request) {
	h.leaveTransition(w, r, h.Leaves.Reject, "Leave rejected")
}

func (h *Handler) CancelLeave(w http.ResponseWriter, r *http.Request) {
	h.leaveTransition(w, r, h.Leaves.Cancel, "Leave cancelled")
}

func (h *Handler) leaveTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (*mess.Leave, error), message string) {
	l, err := fn(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeOK(w, l, message)
}
