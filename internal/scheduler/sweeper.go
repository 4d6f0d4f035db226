// This file implements the lifecycle sweeper: the batch job that downgrades
// expired paid plans and purges case data past its retention deadline. It
// runs unattended on a fixed daily cadence and has no other entry point, so
// every pass must be idempotent under immediate re-run and tolerant of
// per-record failures.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"medcase/internal/types"
)

// DefaultBatchLimit is the maximum number of entitlement records fetched per
// scan iteration, so a large backlog cannot blow a single invocation.
const DefaultBatchLimit = 50

// DefaultCaseParallelism caps concurrent per-case delete calls for one user.
const DefaultCaseParallelism = 4

// SweeperDB defines the database operations the sweeper needs. The sweep is
// read-scan-then-write with no cross-record locking; every write is
// individually idempotent instead.
type SweeperDB interface {
	// ListExpiredEntitlements returns up to limit records with a paid plan
	// whose plan_expire_at <= now. Free records never appear.
	ListExpiredEntitlements(ctx context.Context, now time.Time, limit int) ([]types.Entitlement, error)

	// DowngradeToFree sets plan = free and plan_expire_at = NULL, leaving
	// delete_data_at intact for the cleanup pass. No-op for a Free record.
	DowngradeToFree(ctx context.Context, userID string) error

	// ResetUsage zeroes the user's counters with last_reset = now.
	ResetUsage(ctx context.Context, userID string, now time.Time) error

	// ListCleanupDue returns up to limit records with delete_data_at <= now.
	ListCleanupDue(ctx context.Context, now time.Time, limit int) ([]types.Entitlement, error)

	// ClearDeleteDataAt nulls delete_data_at, marking the cleanup attempt
	// complete. No-op when already null.
	ClearDeleteDataAt(ctx context.Context, userID string) error
}

// CaseStore lists the case artifacts owned by a user. Backed by the external
// AI service's case index; this subsystem never reads artifact contents.
type CaseStore interface {
	ListCaseIDs(ctx context.Context, userID string) ([]string, error)
}

// CaseDeleter issues the per-case deletion side effects against the external
// AI service. Both calls are expected to be idempotent on retry: deleting an
// already-deleted case is success, not an error.
type CaseDeleter interface {
	DeleteCaseFiles(ctx context.Context, caseID string) error
	DeleteCaseIndex(ctx context.Context, caseID string) error
}

// Sweeper runs the two lifecycle passes.
type Sweeper struct {
	db          SweeperDB
	cases       CaseStore
	deleter     CaseDeleter
	logger      *slog.Logger
	batchLimit  int
	parallelism int
}

// NewSweeper creates a Sweeper. A batchLimit or parallelism of zero falls
// back to the defaults.
func NewSweeper(db SweeperDB, cases CaseStore, deleter CaseDeleter, logger *slog.Logger, batchLimit, parallelism int) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	if parallelism <= 0 {
		parallelism = DefaultCaseParallelism
	}
	return &Sweeper{
		db:          db,
		cases:       cases,
		deleter:     deleter,
		logger:      logger,
		batchLimit:  batchLimit,
		parallelism: parallelism,
	}
}

// DowngradeExpired reverts every paid plan whose validity lapsed at `now` to
// Free and zeroes that user's usage. delete_data_at is left in place; the
// cleanup pass owns it.
//
// A record that fails is logged and skipped; it stays in the scan set and is
// retried on the next run. When an entire batch makes no progress the pass
// stops rather than re-fetching the same failing rows forever.
func (s *Sweeper) DowngradeExpired(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		batch, err := s.db.ListExpiredEntitlements(ctx, now, s.batchLimit)
		if err != nil {
			return total, fmt.Errorf("listing expired entitlements: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		succeeded := 0
		for _, ent := range batch {
			if err := s.expireOne(ctx, ent, now); err != nil {
				s.logger.ErrorContext(ctx, "failed to downgrade expired plan",
					"user_id", ent.UserID,
					"plan", string(ent.Plan),
					"error", err,
				)
				continue
			}
			succeeded++
		}
		total += succeeded

		if succeeded == 0 {
			return total, fmt.Errorf("expire pass stalled: %d records failed", len(batch))
		}
	}

	s.logger.InfoContext(ctx, "expire pass complete", "downgraded", total)
	return total, nil
}

// expireOne applies the two corrections for a single expired record.
func (s *Sweeper) expireOne(ctx context.Context, ent types.Entitlement, now time.Time) error {
	if err := s.db.DowngradeToFree(ctx, ent.UserID); err != nil {
		return err
	}
	if err := s.db.ResetUsage(ctx, ent.UserID, now); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "expired plan downgraded",
		"user_id", ent.UserID,
		"previous_plan", string(ent.Plan),
		"expired_at", ent.PlanExpireAt,
	)
	return nil
}

// CleanupExpiredData purges case data for every user whose retention
// deadline has passed. Per user: enumerate case IDs, attempt stored-file and
// index deletion for every case, then clear delete_data_at regardless of
// individual failures, marking the attempt complete. A case whose deletion
// failed is not retried on the next sweep; the pass always terminates and
// never blocks on one failing case.
//
// Only a failure to enumerate cases leaves delete_data_at set, since nothing
// was attempted for that user.
func (s *Sweeper) CleanupExpiredData(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		batch, err := s.db.ListCleanupDue(ctx, now, s.batchLimit)
		if err != nil {
			return total, fmt.Errorf("listing cleanup-due entitlements: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		succeeded := 0
		for _, ent := range batch {
			if err := s.cleanupOne(ctx, ent); err != nil {
				s.logger.ErrorContext(ctx, "failed to clean up expired data",
					"user_id", ent.UserID,
					"error", err,
				)
				continue
			}
			succeeded++
		}
		total += succeeded

		if succeeded == 0 {
			return total, fmt.Errorf("cleanup pass stalled: %d records failed", len(batch))
		}
	}

	s.logger.InfoContext(ctx, "cleanup pass complete", "cleaned", total)
	return total, nil
}

// cleanupOne deletes all case artifacts for one user and clears the deadline.
func (s *Sweeper) cleanupOne(ctx context.Context, ent types.Entitlement) error {
	caseIDs, err := s.cases.ListCaseIDs(ctx, ent.UserID)
	if err != nil {
		return fmt.Errorf("listing cases for user %s: %w", ent.UserID, err)
	}

	// Every case is attempted independently; a failure is logged and the
	// rest proceed. The group error is deliberately ignored.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, caseID := range caseIDs {
		g.Go(func() error {
			s.deleteCase(gctx, ent.UserID, caseID)
			return nil
		})
	}
	_ = g.Wait()

	if err := s.db.ClearDeleteDataAt(ctx, ent.UserID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "user data cleanup complete",
		"user_id", ent.UserID,
		"cases_attempted", len(caseIDs),
	)
	return nil
}

// deleteCase fires both deletion side effects for one case, best-effort.
func (s *Sweeper) deleteCase(ctx context.Context, userID, caseID string) {
	if err := s.deleter.DeleteCaseFiles(ctx, caseID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete case files",
			"user_id", userID,
			"case_id", caseID,
			"error", err,
		)
	}
	if err := s.deleter.DeleteCaseIndex(ctx, caseID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete case index",
			"user_id", userID,
			"case_id", caseID,
			"error", err,
		)
	}
}

// RunFullSweep executes both passes, expire first so a record that expired
// and whose grace already lapsed is corrected and purged in one run. Each
// pass's failure is independent: an expire-pass error does not stop the
// cleanup pass.
func (s *Sweeper) RunFullSweep(ctx context.Context, now time.Time) (int, error) {
	downgraded, expireErr := s.DowngradeExpired(ctx, now)
	cleaned, cleanupErr := s.CleanupExpiredData(ctx, now)

	total := downgraded + cleaned
	if expireErr != nil {
		return total, expireErr
	}
	return total, cleanupErr
}
