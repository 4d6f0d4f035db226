package db

import (
	"context"
	"time"

	"medcase/internal/types"
)

// PlanStore executes plan transitions as a single transaction: the plan and
// both deadlines are overwritten and the usage ledger is zeroed together, so
// a crash can never leave a new plan with stale counters.
type PlanStore struct {
	pool TxBeginner
}

// NewPlanStore creates a PlanStore over the given pool.
func NewPlanStore(pool TxBeginner) *PlanStore {
	return &PlanStore{pool: pool}
}

// ApplyPlanChange overwrites the user's plan and deadlines and resets the
// usage ledger, atomically. Returns the updated entitlement and the zeroed
// ledger snapshot.
func (s *PlanStore) ApplyPlanChange(
	ctx context.Context,
	userID string,
	plan types.PlanTier,
	expireAt, deleteAt *time.Time,
	now time.Time,
) (*types.Entitlement, *types.UsageLedger, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin plan transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	repo := NewEntitlementRepo(tx)
	if err := repo.SetPlan(ctx, userID, plan, expireAt, deleteAt); err != nil {
		return nil, nil, err
	}

	if err := resetLedger(ctx, tx, userID, now); err != nil {
		return nil, nil, err
	}

	ent, err := repo.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit plan transaction", err)
	}

	return ent, &types.UsageLedger{UserID: userID, LastReset: now}, nil
}
