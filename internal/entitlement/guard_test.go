package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"medcase/internal/billing"
	"medcase/internal/types"
)

// fixedNow is the reference clock for guard tests.
var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type mockEnts struct {
	ent *types.Entitlement
	err error
}

func (m *mockEnts) Get(ctx context.Context, userID string) (*types.Entitlement, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.ent, nil
}

// mockLedgerTx records the calls the guard makes inside one transaction.
type mockLedgerTx struct {
	ledger *types.UsageLedger

	resetCalled bool
	recorded    []string
	recordErr   error
	applied     bool
	committed   bool
	rolledBack  bool
}

func (m *mockLedgerTx) Ledger(ctx context.Context, now time.Time) (*types.UsageLedger, error) {
	if m.ledger == nil {
		return &types.UsageLedger{LastReset: now}, nil
	}
	return m.ledger, nil
}

func (m *mockLedgerTx) Reset(ctx context.Context, now time.Time) error {
	m.resetCalled = true
	return nil
}

func (m *mockLedgerTx) RecordUpload(ctx context.Context, uploadID string, agentCost int, now time.Time) (bool, error) {
	if m.recordErr != nil {
		return false, m.recordErr
	}
	m.recorded = append(m.recorded, uploadID)
	return m.applied, nil
}

func (m *mockLedgerTx) Commit(ctx context.Context) error {
	m.committed = true
	return nil
}

func (m *mockLedgerTx) Rollback(ctx context.Context) error {
	if !m.committed {
		m.rolledBack = true
	}
	return nil
}

type mockLedgerStore struct {
	tx  *mockLedgerTx
	err error
}

func (m *mockLedgerStore) BeginLedgerTx(ctx context.Context, userID string) (LedgerTx, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tx, nil
}

type mockLedgerReader struct {
	ledger *types.UsageLedger
	err    error
}

func (m *mockLedgerReader) GetLedger(ctx context.Context, userID string, now time.Time) (*types.UsageLedger, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.ledger, nil
}

func newTestGuard(ents *mockEnts, store *mockLedgerStore, reader *mockLedgerReader) *Guard {
	if reader == nil {
		reader = &mockLedgerReader{}
	}
	g := NewGuard(ents, store, reader, billing.NewStaticPlanRegistry(), nil)
	return g.WithNowFunc(func() time.Time { return fixedNow })
}

func appCode(t *testing.T, err error) types.ErrorCode {
	t.Helper()
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	return appErr.Code
}

func TestCheckReportUploadRequiresUser(t *testing.T) {
	g := newTestGuard(&mockEnts{}, &mockLedgerStore{}, nil)

	_, err := g.CheckReportUpload(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for empty user ID")
	}
	if code := appCode(t, err); code != types.ErrCodeAuthUserMissing {
		t.Errorf("expected auth_user_missing, got %s", code)
	}
}

func TestCheckReportUploadUnknownUser(t *testing.T) {
	notFound := types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	g := newTestGuard(&mockEnts{err: notFound}, &mockLedgerStore{}, nil)

	_, err := g.CheckReportUpload(context.Background(), "u-missing")
	if code := appCode(t, err); code != types.ErrCodeNotFoundUser {
		t.Errorf("expected not_found_user, got %s", code)
	}
}

func TestCheckReportUploadAdmitsUnderLimit(t *testing.T) {
	tx := &mockLedgerTx{ledger: &types.UsageLedger{
		UserID:          "u1",
		ReportsUploaded: 2,
		AgentCalls:      10,
		LastReset:       fixedNow.Add(-24 * time.Hour),
	}}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanFree}},
		&mockLedgerStore{tx: tx},
		nil,
	)

	decision, err := g.CheckReportUpload(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CheckReportUpload: %v", err)
	}
	if decision.Plan != types.PlanFree {
		t.Errorf("expected free plan, got %s", decision.Plan)
	}
	if decision.Usage.ReportsUploaded != 2 {
		t.Errorf("expected usage 2, got %d", decision.Usage.ReportsUploaded)
	}
	if !tx.committed {
		t.Error("expected transaction commit on admission")
	}
	if tx.resetCalled {
		t.Error("reset should not run inside the active window")
	}
}

func TestCheckReportUploadRejectsAtCap(t *testing.T) {
	tx := &mockLedgerTx{ledger: &types.UsageLedger{
		UserID:          "u1",
		ReportsUploaded: 3,
		LastReset:       fixedNow.Add(-24 * time.Hour),
	}}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanFree}},
		&mockLedgerStore{tx: tx},
		nil,
	)

	_, err := g.CheckReportUpload(context.Background(), "u1")
	if code := appCode(t, err); code != types.ErrCodeQuotaReportsExceeded {
		t.Fatalf("expected quota_reports_exceeded, got %s", code)
	}
	// The rejection is still committed so a lazy create or rolling reset
	// performed during the check is not lost.
	if !tx.committed {
		t.Error("expected transaction commit on rejection")
	}
}

func TestCheckReportUploadResetRestoresAllowance(t *testing.T) {
	tx := &mockLedgerTx{ledger: &types.UsageLedger{
		UserID:          "u1",
		ReportsUploaded: 3,
		AgentCalls:      15,
		LastReset:       fixedNow.Add(-31 * 24 * time.Hour),
	}}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanFree}},
		&mockLedgerStore{tx: tx},
		nil,
	)

	decision, err := g.CheckReportUpload(context.Background(), "u1")
	if err != nil {
		t.Fatalf("expected admission after window reset, got %v", err)
	}
	if !tx.resetCalled {
		t.Error("expected rolling reset to run before the limit comparison")
	}
	if decision.Usage.ReportsUploaded != 0 {
		t.Errorf("expected zeroed counters after reset, got %d", decision.Usage.ReportsUploaded)
	}
	if !decision.Usage.LastReset.Equal(fixedNow) {
		t.Errorf("expected last reset stamped at now, got %v", decision.Usage.LastReset)
	}
}

func TestCheckReportUploadRejectsWhenAgentBudgetShort(t *testing.T) {
	// Report headroom remains but the fixed per-upload agent cost no longer
	// fits (free cap is 15): admitting would push the counter past the cap.
	tx := &mockLedgerTx{ledger: &types.UsageLedger{
		UserID:          "u1",
		ReportsUploaded: 1,
		AgentCalls:      12,
		LastReset:       fixedNow.Add(-24 * time.Hour),
	}}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanFree}},
		&mockLedgerStore{tx: tx},
		nil,
	)

	_, err := g.CheckReportUpload(context.Background(), "u1")
	if code := appCode(t, err); code != types.ErrCodeQuotaAgentsExceeded {
		t.Fatalf("expected quota_agent_calls_exceeded, got %s", code)
	}
	if !tx.committed {
		t.Error("expected transaction commit on rejection")
	}
}

func TestCheckReportUploadAgentBudgetExactFit(t *testing.T) {
	tx := &mockLedgerTx{ledger: &types.UsageLedger{
		UserID:          "u1",
		ReportsUploaded: 2,
		AgentCalls:      10,
		LastReset:       fixedNow.Add(-24 * time.Hour),
	}}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanFree}},
		&mockLedgerStore{tx: tx},
		nil,
	)

	if _, err := g.CheckReportUpload(context.Background(), "u1"); err != nil {
		t.Fatalf("an upload whose cost lands exactly on the cap must be admitted: %v", err)
	}
}

func TestCheckReportUploadUnlimitedPlan(t *testing.T) {
	tx := &mockLedgerTx{ledger: &types.UsageLedger{
		UserID:          "u1",
		ReportsUploaded: 100000,
		AgentCalls:      500000,
		LastReset:       fixedNow.Add(-24 * time.Hour),
	}}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanPremiumCare}},
		&mockLedgerStore{tx: tx},
		nil,
	)

	decision, err := g.CheckReportUpload(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unlimited plan must always admit: %v", err)
	}
	if !decision.Limits.Reports.IsUnlimited() {
		t.Error("expected unlimited report limit")
	}
}

func TestCommitUploadRecordsFixedCost(t *testing.T) {
	tx := &mockLedgerTx{
		ledger:  &types.UsageLedger{UserID: "u1", LastReset: fixedNow},
		applied: true,
	}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanFree}},
		&mockLedgerStore{tx: tx},
		nil,
	)

	if err := g.CommitUpload(context.Background(), "u1", "case-123"); err != nil {
		t.Fatalf("CommitUpload: %v", err)
	}
	if len(tx.recorded) != 1 || tx.recorded[0] != "case-123" {
		t.Errorf("expected one recorded upload case-123, got %v", tx.recorded)
	}
	if !tx.committed {
		t.Error("expected commit")
	}
}

func TestCommitUploadDuplicateIsNoOp(t *testing.T) {
	tx := &mockLedgerTx{
		ledger:  &types.UsageLedger{UserID: "u1", LastReset: fixedNow},
		applied: false, // store reports the upload ID was already recorded
	}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanFree}},
		&mockLedgerStore{tx: tx},
		nil,
	)

	if err := g.CommitUpload(context.Background(), "u1", "case-123"); err != nil {
		t.Fatalf("duplicate commit must not error: %v", err)
	}
	if !tx.committed {
		t.Error("expected commit even for a duplicate")
	}
}

func TestUsageSnapshotCappedPlan(t *testing.T) {
	reader := &mockLedgerReader{ledger: &types.UsageLedger{
		UserID:          "u1",
		ReportsUploaded: 1,
		AgentCalls:      5,
		LastReset:       fixedNow.Add(-time.Hour),
	}}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanFree}},
		&mockLedgerStore{},
		reader,
	)

	snap, err := g.UsageSnapshot(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UsageSnapshot: %v", err)
	}
	if snap.Unlimited {
		t.Error("free plan must not report unlimited")
	}
	if snap.RemainingReports == nil || *snap.RemainingReports != 2 {
		t.Errorf("expected 2 remaining reports, got %v", snap.RemainingReports)
	}
	if snap.RemainingAgents == nil || *snap.RemainingAgents != 10 {
		t.Errorf("expected 10 remaining agent calls, got %v", snap.RemainingAgents)
	}
}

func TestUsageSnapshotDoesNotApplyWindowReset(t *testing.T) {
	// The read path surfaces whatever the ledger holds, even past the
	// rolling window; only the quota check performs the reset.
	reader := &mockLedgerReader{ledger: &types.UsageLedger{
		UserID:          "u1",
		ReportsUploaded: 3,
		AgentCalls:      15,
		LastReset:       fixedNow.Add(-40 * 24 * time.Hour),
	}}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanFree}},
		&mockLedgerStore{},
		reader,
	)

	snap, err := g.UsageSnapshot(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UsageSnapshot: %v", err)
	}
	if snap.ReportsUploaded != 3 || snap.AgentCalls != 15 {
		t.Errorf("expected stale counters to surface untouched, got %d/%d",
			snap.ReportsUploaded, snap.AgentCalls)
	}
	if snap.RemainingReports == nil || *snap.RemainingReports != 0 {
		t.Errorf("expected 0 remaining reports, got %v", snap.RemainingReports)
	}
}

func TestUsageSnapshotUnlimitedPlan(t *testing.T) {
	reader := &mockLedgerReader{ledger: &types.UsageLedger{
		UserID:          "u1",
		ReportsUploaded: 42,
		AgentCalls:      210,
		LastReset:       fixedNow.Add(-time.Hour),
	}}
	g := newTestGuard(
		&mockEnts{ent: &types.Entitlement{UserID: "u1", Plan: types.PlanPremiumCare}},
		&mockLedgerStore{},
		reader,
	)

	snap, err := g.UsageSnapshot(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UsageSnapshot: %v", err)
	}
	if !snap.Unlimited {
		t.Error("premium plan must report unlimited")
	}
	if snap.RemainingReports != nil || snap.RemainingAgents != nil {
		t.Error("unlimited plan must not expose numeric remainders")
	}
	if snap.ReportsUploaded != 42 {
		t.Errorf("counters still surface, got %d", snap.ReportsUploaded)
	}
}
