package db

import (
	"context"
	"time"

	"medcase/internal/types"
)

// MaintenanceStore bundles the queries the lifecycle sweeper needs: the two
// scan passes plus the per-user corrections. It composes the entitlement
// repository with the ledger reset upsert so the sweeper depends on one
// narrow surface.
type MaintenanceStore struct {
	db   DBTX
	ents *EntitlementRepo
}

// NewMaintenanceStore creates a MaintenanceStore backed by the given database
// connection.
func NewMaintenanceStore(db DBTX) *MaintenanceStore {
	return &MaintenanceStore{
		db:   db,
		ents: NewEntitlementRepo(db),
	}
}

// ListExpiredEntitlements returns paid-plan rows whose validity lapsed at now.
func (s *MaintenanceStore) ListExpiredEntitlements(ctx context.Context, now time.Time, limit int) ([]types.Entitlement, error) {
	return s.ents.ListExpired(ctx, now, limit)
}

// DowngradeToFree reverts an expired paid plan, leaving delete_data_at for
// the cleanup pass.
func (s *MaintenanceStore) DowngradeToFree(ctx context.Context, userID string) error {
	return s.ents.DowngradeToFree(ctx, userID)
}

// ResetUsage zeroes the user's counters, creating the ledger row if needed.
func (s *MaintenanceStore) ResetUsage(ctx context.Context, userID string, now time.Time) error {
	return resetLedger(ctx, s.db, userID, now)
}

// ListCleanupDue returns rows whose data retention deadline has passed.
func (s *MaintenanceStore) ListCleanupDue(ctx context.Context, now time.Time, limit int) ([]types.Entitlement, error) {
	return s.ents.ListCleanupDue(ctx, now, limit)
}

// ClearDeleteDataAt marks a user's cleanup attempt complete.
func (s *MaintenanceStore) ClearDeleteDataAt(ctx context.Context, userID string) error {
	return s.ents.ClearDeleteDataAt(ctx, userID)
}
