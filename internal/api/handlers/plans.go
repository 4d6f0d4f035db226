// Package handlers contains the HTTP handler implementations for the medcase
// entitlement API.
//
// Handlers follow a common pattern: the service contract the handler depends
// on is declared locally as a narrow interface and injected through the
// constructor, which keeps handlers decoupled from concrete service types and
// easy to test with hand-rolled mocks.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medcase/internal/billing"
	"medcase/internal/core"
	"medcase/internal/entitlement"
	"medcase/internal/types"
)

// PlanService abstracts the transition engine for the plan handlers.
type PlanService interface {
	ChangePlan(ctx context.Context, req entitlement.PlanChangeRequest) (*entitlement.PlanChangeResult, error)
	SimulatePayment(ctx context.Context, userID string, plan types.PlanTier) (*entitlement.PlanChangeResult, error)
}

// UpdatePlanRequest is the body for POST /v1/plan/update. PaymentStatus is
// optional; when present it must report success or the change is rejected.
type UpdatePlanRequest struct {
	UserID        string `json:"userId" validate:"required"`
	PlanType      string `json:"planType" validate:"required"`
	PaymentStatus string `json:"paymentStatus" validate:"omitempty"`
}

// SimulatePaymentRequest is the body for POST /v1/plan/simulate-payment.
type SimulatePaymentRequest struct {
	UserID   string `json:"userId" validate:"required"`
	PlanType string `json:"planType" validate:"required"`
}

// PlanChangeResponse is the payload returned by both plan mutation endpoints.
type PlanChangeResponse struct {
	Message     string            `json:"message"`
	Entitlement types.Entitlement `json:"entitlement"`
	Usage       types.UsageLedger `json:"usage"`
}

// PlanListing is one catalog entry in the GET /v1/plans response.
type PlanListing struct {
	Plan        types.PlanTier   `json:"plan"`
	Description string           `json:"description"`
	Limits      types.PlanLimits `json:"limits"`
	Validity    string           `json:"validity,omitempty"`
}

// PlanHandler serves the plan catalog and the two plan mutation endpoints.
type PlanHandler struct {
	service   PlanService
	plans     billing.PlanRegistry
	validator *core.Validator
	logger    *slog.Logger
}

// NewPlanHandler creates a PlanHandler.
func NewPlanHandler(svc PlanService, plans billing.PlanRegistry, v *core.Validator, l *slog.Logger) *PlanHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PlanHandler{
		service:   svc,
		plans:     plans,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the plan endpoints on the v1 router.
func (h *PlanHandler) RegisterRoutes(r chi.Router) {
	r.Post("/plan/update", h.UpdatePlan)
	r.Post("/plan/simulate-payment", h.SimulatePayment)
	r.Get("/plans", h.ListPlans)
}

// UpdatePlan handles POST /v1/plan/update: a direct plan assignment carrying
// an externally determined payment outcome.
func (h *PlanHandler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req UpdatePlanRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	// The tier is passed through raw: unknown-to-Free defaulting is a
	// read-path rule, and a typo here must not silently downgrade the user
	// and wipe their counters. The engine rejects unrecognized tiers.
	change := entitlement.PlanChangeRequest{
		UserID: req.UserID,
		Plan:   types.PlanTier(req.PlanType),
	}
	if req.PaymentStatus != "" {
		status := types.PaymentStatus(req.PaymentStatus)
		change.PaymentStatus = &status
	}

	result, err := h.service.ChangePlan(r.Context(), change)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PlanChangeResponse{
		Message:     "plan updated",
		Entitlement: result.Entitlement,
		Usage:       result.Usage,
	}})
}

// SimulatePayment handles POST /v1/plan/simulate-payment: the payment step
// always succeeds and the plan change is applied immediately.
func (h *PlanHandler) SimulatePayment(w http.ResponseWriter, r *http.Request) {
	var req SimulatePaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.SimulatePayment(r.Context(), req.UserID, types.PlanTier(req.PlanType))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PlanChangeResponse{
		Message:     "payment simulated, plan updated",
		Entitlement: result.Entitlement,
		Usage:       result.Usage,
	}})
}

// ListPlans handles GET /v1/plans: the public plan catalog.
func (h *PlanHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	listings := make([]PlanListing, 0, len(types.KnownPlanTiers))
	for _, tier := range types.KnownPlanTiers {
		listings = append(listings, PlanListing{
			Plan:        tier,
			Description: h.plans.Describe(tier),
			Limits:      h.plans.Limits(tier),
			Validity:    describeValidity(h.plans.DurationRules(tier)),
		})
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: listings})
}

// describeValidity renders the duration rules for the catalog listing.
func describeValidity(rules types.DurationRules) string {
	switch {
	case rules.ValidityYears == 1:
		return "1 year"
	case rules.ValidityYears > 1:
		return fmt.Sprintf("%d years", rules.ValidityYears)
	case rules.ValidityMonths == 1:
		return "1 month"
	case rules.ValidityMonths > 1:
		return fmt.Sprintf("%d months", rules.ValidityMonths)
	default:
		return ""
	}
}
