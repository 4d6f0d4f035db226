package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"medcase/internal/types"
)

// UsageStore provides access to the usage_ledgers table plus the
// usage_events dedupe table. The request path (quota check, usage commit)
// goes through BeginLedgerTx so that the read-check-write sequence holds a
// row lock on the user's ledger; two concurrent uploads for the same user
// serialize instead of both passing the limit check.
type UsageStore struct {
	pool TxBeginner
	db   DBTX
}

// NewUsageStore creates a UsageStore. Reads and resets run against db;
// ledger transactions are started on pool.
func NewUsageStore(pool TxBeginner, db DBTX) *UsageStore {
	return &UsageStore{pool: pool, db: db}
}

// BeginLedgerTx opens a transaction scoped to a single user's ledger.
// The ledger row is not locked until Ledger is called.
func (s *UsageStore) BeginLedgerTx(ctx context.Context, userID string) (*LedgerTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin ledger transaction", err)
	}
	return &LedgerTx{db: tx, commit: tx.Commit, rollback: tx.Rollback, userID: userID}, nil
}

// GetLedger returns the user's ledger without locking or creating it. A user
// whose ledger was never created reads as zero counters with last_reset at
// `now`.
func (s *UsageStore) GetLedger(ctx context.Context, userID string, now time.Time) (*types.UsageLedger, error) {
	var led types.UsageLedger
	err := s.db.QueryRow(ctx,
		`SELECT user_id, reports_uploaded, agent_calls, last_reset
		 FROM usage_ledgers WHERE user_id = $1`,
		userID,
	).Scan(&led.UserID, &led.ReportsUploaded, &led.AgentCalls, &led.LastReset)
	if errors.Is(err, pgx.ErrNoRows) {
		return &types.UsageLedger{UserID: userID, LastReset: now}, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load usage ledger", err)
	}
	return &led, nil
}

// ResetUsage zeroes a user's counters outside a ledger transaction. The
// upsert also covers users whose ledger was never lazily created, so the
// sweeper can reset any user it downgrades.
func (s *UsageStore) ResetUsage(ctx context.Context, userID string, now time.Time) error {
	return resetLedger(ctx, s.db, userID, now)
}

// resetLedger is the single reset statement shared by every write path that
// zeroes usage: the rolling-window reset, plan transitions, and the expire
// pass all go through it.
func resetLedger(ctx context.Context, db DBTX, userID string, now time.Time) error {
	_, err := db.Exec(ctx,
		`INSERT INTO usage_ledgers (user_id, reports_uploaded, agent_calls, last_reset)
		 VALUES ($1, 0, 0, $2)
		 ON CONFLICT (user_id) DO UPDATE
		   SET reports_uploaded = 0, agent_calls = 0, last_reset = EXCLUDED.last_reset`,
		userID, now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset usage ledger", err)
	}
	return nil
}

// LedgerTx wraps a database transaction pinned to one user's usage ledger.
type LedgerTx struct {
	db       DBTX
	commit   func(ctx context.Context) error
	rollback func(ctx context.Context) error
	userID   string
}

// Ledger lazily creates the user's ledger row (counters at zero, last_reset
// now) and returns it under a FOR UPDATE lock. A concurrent creation attempt
// hits the ON CONFLICT clause and converges to the single existing row.
func (t *LedgerTx) Ledger(ctx context.Context, now time.Time) (*types.UsageLedger, error) {
	_, err := t.db.Exec(ctx,
		`INSERT INTO usage_ledgers (user_id, reports_uploaded, agent_calls, last_reset)
		 VALUES ($1, 0, 0, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		t.userID, now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create usage ledger", err)
	}

	var led types.UsageLedger
	err = t.db.QueryRow(ctx,
		`SELECT user_id, reports_uploaded, agent_calls, last_reset
		 FROM usage_ledgers WHERE user_id = $1
		 FOR UPDATE`,
		t.userID,
	).Scan(&led.UserID, &led.ReportsUploaded, &led.AgentCalls, &led.LastReset)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to lock usage ledger", err)
	}
	return &led, nil
}

// Reset zeroes both counters and stamps last_reset inside the transaction.
func (t *LedgerTx) Reset(ctx context.Context, now time.Time) error {
	return resetLedger(ctx, t.db, t.userID, now)
}

// RecordUpload commits one report upload: +1 report, +agentCost agent calls.
// The uploadID keys a usage_events row so a client retry of the same logical
// upload increments nothing; it returns false when the event was already
// recorded.
func (t *LedgerTx) RecordUpload(ctx context.Context, uploadID string, agentCost int, now time.Time) (bool, error) {
	tag, err := t.db.Exec(ctx,
		`INSERT INTO usage_events (user_id, upload_id, recorded_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, upload_id) DO NOTHING`,
		t.userID, uploadID, now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record upload event", err)
	}
	if tag.RowsAffected() == 0 {
		// Duplicate commit of the same upload.
		return false, nil
	}

	_, err = t.db.Exec(ctx,
		`UPDATE usage_ledgers
		 SET reports_uploaded = reports_uploaded + 1, agent_calls = agent_calls + $2
		 WHERE user_id = $1`,
		t.userID, agentCost,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to increment usage counters", err)
	}
	return true, nil
}

// Commit commits the transaction.
func (t *LedgerTx) Commit(ctx context.Context) error {
	if err := t.commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit ledger transaction", err)
	}
	return nil
}

// Rollback rolls back the transaction. Safe to call after Commit (no-op).
func (t *LedgerTx) Rollback(ctx context.Context) error {
	return t.rollback(ctx)
}
