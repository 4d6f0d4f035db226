package entitlement

import (
	"context"
	"log/slog"
	"time"

	"medcase/internal/billing"
	"medcase/internal/types"
)

// TransitionStore applies a plan change and the accompanying ledger reset as
// one atomic write.
type TransitionStore interface {
	ApplyPlanChange(
		ctx context.Context,
		userID string,
		plan types.PlanTier,
		expireAt, deleteAt *time.Time,
		now time.Time,
	) (*types.Entitlement, *types.UsageLedger, error)
}

// PlanChangeRequest is the input to a plan transition. PaymentStatus is
// optional: when present it must be the success sentinel or the transition is
// rejected without any state change.
type PlanChangeRequest struct {
	UserID        string
	Plan          types.PlanTier
	PaymentStatus *types.PaymentStatus
}

// PlanChangeResult is the outcome of a successful transition: the updated
// entitlement and the freshly zeroed usage snapshot.
type PlanChangeResult struct {
	Entitlement types.Entitlement
	Usage       types.UsageLedger
}

// TransitionEngine is the single write path for plan assignment. Both entry
// points (manual update and simulated payment) share the same core logic and
// differ only in how the payment step is treated.
type TransitionEngine struct {
	store  TransitionStore
	plans  billing.PlanRegistry
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewTransitionEngine creates a TransitionEngine.
func NewTransitionEngine(store TransitionStore, plans billing.PlanRegistry, logger *slog.Logger) *TransitionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionEngine{
		store:  store,
		plans:  plans,
		logger: logger,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc overrides the clock. Intended for tests.
func (e *TransitionEngine) WithNowFunc(fn func() time.Time) *TransitionEngine {
	e.nowFn = fn
	return e
}

// ChangePlan validates the request and applies the transition:
//
//   - PlanExpireAt and DeleteDataAt are computed from the catalog's duration
//     rules relative to now; Free yields null for both.
//   - The entitlement is overwritten unconditionally, so a manual downgrade
//     clears any previously scheduled deletion.
//   - The usage ledger is reset to zero regardless of whether the new plan
//     is more or less generous than the old one.
//
// Every state transition the plan field permits flows through here or the
// sweeper's expiry downgrade: upgrades, renewals, lateral switches, and
// manual downgrades.
func (e *TransitionEngine) ChangePlan(ctx context.Context, req PlanChangeRequest) (*PlanChangeResult, error) {
	if req.UserID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingUserID, "user ID is required", nil)
	}
	if req.Plan == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingPlan, "plan type is required", nil)
	}
	if !req.Plan.IsKnown() {
		return nil, types.NewAppError(types.ErrCodeValidationUnknownPlan, "unknown plan type", nil)
	}
	if req.PaymentStatus != nil && *req.PaymentStatus != types.PaymentSucceeded {
		return nil, types.NewAppError(types.ErrCodePaymentNotCompleted, "payment not completed or failed", nil)
	}

	now := e.nowFn()
	expireAt, deleteAt := billing.PlanDates(e.plans.DurationRules(req.Plan), now)

	ent, ledger, err := e.store.ApplyPlanChange(ctx, req.UserID, req.Plan, expireAt, deleteAt, now)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "plan transition applied",
		"user_id", req.UserID,
		"plan", string(req.Plan),
		"plan_expire_at", expireAt,
		"delete_data_at", deleteAt,
	)

	return &PlanChangeResult{Entitlement: *ent, Usage: *ledger}, nil
}

// SimulatePayment is the stand-in payment entry point: the payment step
// always succeeds, then the same transition core runs. There is deliberately
// no real gateway behind this.
func (e *TransitionEngine) SimulatePayment(ctx context.Context, userID string, plan types.PlanTier) (*PlanChangeResult, error) {
	e.logger.InfoContext(ctx, "simulating payment",
		"user_id", userID,
		"plan", string(plan),
	)
	status := types.PaymentSucceeded
	return e.ChangePlan(ctx, PlanChangeRequest{
		UserID:        userID,
		Plan:          plan,
		PaymentStatus: &status,
	})
}
