package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"medcase/internal/types"
)

// EntitlementRepo provides data access for the entitlements table: one row
// per user holding the current plan and the two derived deadlines.
//
// Rows are created when the user account is created and never deleted while
// the account exists; every method here mutates in place.
type EntitlementRepo struct {
	db DBTX
}

// NewEntitlementRepo creates a new EntitlementRepo backed by the given
// database connection (pool or transaction).
func NewEntitlementRepo(db DBTX) *EntitlementRepo {
	return &EntitlementRepo{db: db}
}

// Get returns the entitlement record for the given user. The stored plan is
// normalized on read, so a row written before a tier was retired still
// resolves to a catalog tier (Free).
func (r *EntitlementRepo) Get(ctx context.Context, userID string) (*types.Entitlement, error) {
	var e types.Entitlement
	err := r.db.QueryRow(ctx,
		`SELECT user_id, plan, plan_expire_at, delete_data_at
		 FROM entitlements WHERE user_id = $1`,
		userID,
	).Scan(&e.UserID, &e.Plan, &e.PlanExpireAt, &e.DeleteDataAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load entitlement", err)
	}
	e.Plan = e.Plan.Normalize()
	return &e, nil
}

// SetPlan overwrites the plan and both deadlines in a single statement.
// This is an unconditional overwrite, not a merge: a downgrade through this
// path clears any previously scheduled deletion. Returns the not-found error
// when no entitlement row exists for the user.
func (r *EntitlementRepo) SetPlan(
	ctx context.Context,
	userID string,
	plan types.PlanTier,
	expireAt, deleteAt *time.Time,
) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET plan = $2, plan_expire_at = $3, delete_data_at = $4, updated_at = NOW()
		 WHERE user_id = $1`,
		userID, plan, expireAt, deleteAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update plan", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// scanEntitlements drains a result set of full entitlement rows.
func scanEntitlements(rows pgx.Rows) ([]types.Entitlement, error) {
	defer rows.Close()

	var out []types.Entitlement
	for rows.Next() {
		var e types.Entitlement
		if err := rows.Scan(&e.UserID, &e.Plan, &e.PlanExpireAt, &e.DeleteDataAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan entitlement row", err)
		}
		e.Plan = e.Plan.Normalize()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating entitlement rows", err)
	}
	return out, nil
}

// ListExpired returns up to limit entitlements holding a paid plan whose
// validity window has lapsed at `now`. Free rows never match, so the expire
// pass cannot touch a Free user's record.
func (r *EntitlementRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]types.Entitlement, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, plan, plan_expire_at, delete_data_at
		 FROM entitlements
		 WHERE plan <> $1 AND plan_expire_at IS NOT NULL AND plan_expire_at <= $2
		 ORDER BY plan_expire_at ASC
		 LIMIT $3`,
		types.PlanFree, now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list expired entitlements", err)
	}
	return scanEntitlements(rows)
}

// ListCleanupDue returns up to limit entitlements whose data retention
// deadline has passed at `now`.
func (r *EntitlementRepo) ListCleanupDue(ctx context.Context, now time.Time, limit int) ([]types.Entitlement, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, plan, plan_expire_at, delete_data_at
		 FROM entitlements
		 WHERE delete_data_at IS NOT NULL AND delete_data_at <= $1
		 ORDER BY delete_data_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list cleanup-due entitlements", err)
	}
	return scanEntitlements(rows)
}

// DowngradeToFree reverts an expired paid plan. The delete_data_at deadline
// is deliberately left in place for the cleanup pass. The plan guard in the
// WHERE clause makes a repeat call a no-op, so the expire pass stays
// idempotent even when two sweeps overlap.
func (r *EntitlementRepo) DowngradeToFree(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET plan = $2, plan_expire_at = NULL, updated_at = NOW()
		 WHERE user_id = $1 AND plan <> $2`,
		userID, types.PlanFree,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to downgrade expired plan", err)
	}
	return nil
}

// ClearDeleteDataAt marks the cleanup attempt for a user as complete.
// Idempotent: clearing an already-null deadline affects zero rows.
func (r *EntitlementRepo) ClearDeleteDataAt(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE entitlements
		 SET delete_data_at = NULL, updated_at = NOW()
		 WHERE user_id = $1 AND delete_data_at IS NOT NULL`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear deletion deadline", err)
	}
	return nil
}
