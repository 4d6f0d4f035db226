package types

import "time"

// Entitlement is the per-user record of the current plan and its two derived
// deadlines. PlanExpireAt and DeleteDataAt are nil for Free users; when both
// are set, DeleteDataAt is never earlier than PlanExpireAt.
type Entitlement struct {
	UserID       string     `json:"user_id"`
	Plan         PlanTier   `json:"plan"`
	PlanExpireAt *time.Time `json:"plan_expire_at"`
	DeleteDataAt *time.Time `json:"delete_data_at"`
}

// UsageLedger tracks a user's consumption against the plan caps inside the
// current rolling window. Counters only grow between resets.
type UsageLedger struct {
	UserID          string    `json:"user_id"`
	ReportsUploaded int       `json:"reports_uploaded"`
	AgentCalls      int       `json:"agent_calls"`
	LastReset       time.Time `json:"last_reset"`
}

// ResetDue reports whether the rolling window has elapsed at `now`.
func (u UsageLedger) ResetDue(now time.Time, window time.Duration) bool {
	return now.Sub(u.LastReset) >= window
}

// UsageSnapshot is the read model returned by the usage query: counters plus
// the remaining headroom under the caller's plan. RemainingReports and
// RemainingAgents are nil when the plan is uncapped.
type UsageSnapshot struct {
	UserID           string    `json:"user_id"`
	Plan             PlanTier  `json:"plan"`
	ReportsUploaded  int       `json:"reports_uploaded"`
	AgentCalls       int       `json:"agent_calls"`
	RemainingReports *int      `json:"remaining_reports,omitempty"`
	RemainingAgents  *int      `json:"remaining_agents,omitempty"`
	Unlimited        bool      `json:"unlimited"`
	LastReset        time.Time `json:"last_reset"`
}
