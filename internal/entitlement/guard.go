// Package entitlement implements the plan and usage-quota domain logic: the
// request-path quota gate, the post-success usage commit, and the plan
// transition engine. Storage is abstracted behind narrow interfaces so the
// services can be tested without a database.
package entitlement

import (
	"context"
	"log/slog"
	"time"

	"medcase/internal/billing"
	"medcase/internal/types"
)

// EntitlementReader resolves a user's current plan assignment.
type EntitlementReader interface {
	// Get returns the entitlement record, or a not-found error for an
	// unknown user. An absent or unrecognized plan value reads as Free.
	Get(ctx context.Context, userID string) (*types.Entitlement, error)
}

// LedgerStore opens per-user ledger transactions.
type LedgerStore interface {
	BeginLedgerTx(ctx context.Context, userID string) (LedgerTx, error)
}

// LedgerReader serves the read-only usage query.
type LedgerReader interface {
	// GetLedger returns the ledger, or a zeroed ledger stamped at `now`
	// when none exists yet.
	GetLedger(ctx context.Context, userID string, now time.Time) (*types.UsageLedger, error)
}

// LedgerTx is a transaction pinned to one user's usage ledger. Ledger locks
// the row (creating it at zero if absent) so the check-then-commit sequence
// serializes per user.
type LedgerTx interface {
	Ledger(ctx context.Context, now time.Time) (*types.UsageLedger, error)
	Reset(ctx context.Context, now time.Time) error
	RecordUpload(ctx context.Context, uploadID string, agentCost int, now time.Time) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// QuotaDecision is the typed result of a successful quota check. The next
// request-handling stage consumes it explicitly; nothing is smuggled through
// shared request state. The stage that performs the upload is responsible
// for calling CommitUpload once the upload has actually succeeded.
type QuotaDecision struct {
	Plan   types.PlanTier
	Limits types.PlanLimits
	Usage  types.UsageLedger
}

// Guard is the request-path quota gate. It admits or rejects a
// quota-consuming action and exposes the resolved limits and counters to the
// caller; it never increments the ledger itself.
type Guard struct {
	ents    EntitlementReader
	ledgers LedgerStore
	reader  LedgerReader
	plans   billing.PlanRegistry
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewGuard creates a Guard over the given stores and plan catalog.
func NewGuard(
	ents EntitlementReader,
	ledgers LedgerStore,
	reader LedgerReader,
	plans billing.PlanRegistry,
	logger *slog.Logger,
) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		ents:    ents,
		ledgers: ledgers,
		reader:  reader,
		plans:   plans,
		logger:  logger,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc overrides the clock. Intended for tests.
func (g *Guard) WithNowFunc(fn func() time.Time) *Guard {
	g.nowFn = fn
	return g
}

// CheckReportUpload gates a report upload for the given user.
//
// The sequence runs inside one ledger transaction with the row locked:
//  1. Resolve the plan (unknown user -> not-found; absent plan -> Free).
//  2. Lazily create and lock the usage ledger.
//  3. Apply the rolling reset if the window has elapsed, before any
//     comparison, so a user who sat at their limit is admitted again.
//  4. Reject with a quota error when the report counter is at its cap, or
//     when the agent-call counter has no room left for the fixed cost the
//     upload will commit.
//
// On success the lazy-create/reset is committed and the caller receives the
// resolved decision.
func (g *Guard) CheckReportUpload(ctx context.Context, userID string) (*QuotaDecision, error) {
	if userID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthUserMissing, "no authenticated user", nil)
	}

	ent, err := g.ents.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := g.nowFn()

	tx, err := g.ledgers.BeginLedgerTx(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	led, err := tx.Ledger(ctx, now)
	if err != nil {
		return nil, err
	}

	if led.ResetDue(now, billing.UsageResetWindow) {
		if err := tx.Reset(ctx, now); err != nil {
			return nil, err
		}
		g.logger.InfoContext(ctx, "usage window reset",
			"user_id", userID,
			"previous_reset", led.LastReset,
		)
		led = &types.UsageLedger{UserID: userID, LastReset: now}
	}

	limits := g.plans.Limits(ent.Plan)
	if !limits.Reports.Allows(led.ReportsUploaded) {
		// Persist the lazy create / rolling reset even on rejection.
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, types.NewQuotaError(types.ErrCodeQuotaReportsExceeded, ent.Plan, limits.Reports)
	}

	// One admitted upload commits a fixed number of agent calls; the whole
	// cost must fit so the counter never lands past its cap.
	if !limits.AgentCalls.IsUnlimited() &&
		led.AgentCalls+billing.AgentCallsPerReport > limits.AgentCalls.Value() {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, types.NewQuotaError(types.ErrCodeQuotaAgentsExceeded, ent.Plan, limits.AgentCalls)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &QuotaDecision{Plan: ent.Plan, Limits: limits, Usage: *led}, nil
}

// CommitUpload records a successful report upload: +1 report and the fixed
// agent-call cost. The uploadID deduplicates retries of the same logical
// upload; a repeat commit is a logged no-op. Call this only after the upload
// itself has been confirmed successful.
func (g *Guard) CommitUpload(ctx context.Context, userID, uploadID string) error {
	now := g.nowFn()

	tx, err := g.ledgers.BeginLedgerTx(ctx, userID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Ledger(ctx, now); err != nil {
		return err
	}

	applied, err := tx.RecordUpload(ctx, uploadID, billing.AgentCallsPerReport, now)
	if err != nil {
		return err
	}
	if !applied {
		g.logger.WarnContext(ctx, "duplicate usage commit ignored",
			"user_id", userID,
			"upload_id", uploadID,
		)
	}

	return tx.Commit(ctx)
}

// UsageSnapshot answers the usage query: current counters plus remaining
// headroom under the user's plan. The rolling window reset is applied only on
// the quota check, never here, so a user past the window reads their stale
// counters until their next upload attempt.
func (g *Guard) UsageSnapshot(ctx context.Context, userID string) (*types.UsageSnapshot, error) {
	ent, err := g.ents.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := g.nowFn()
	led, err := g.reader.GetLedger(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	limits := g.plans.Limits(ent.Plan)
	snap := &types.UsageSnapshot{
		UserID:          userID,
		Plan:            ent.Plan,
		ReportsUploaded: led.ReportsUploaded,
		AgentCalls:      led.AgentCalls,
		Unlimited:       limits.Reports.IsUnlimited() && limits.AgentCalls.IsUnlimited(),
		LastReset:       led.LastReset,
	}
	if r, ok := limits.Reports.Remaining(led.ReportsUploaded); ok {
		snap.RemainingReports = &r
	}
	if a, ok := limits.AgentCalls.Remaining(led.AgentCalls); ok {
		snap.RemainingAgents = &a
	}
	return snap, nil
}
