// Package billing provides the plan catalog and billing domain constants.
package billing

import (
	"time"

	"medcase/internal/types"
)

// UsageResetWindow is the rolling window after which a user's usage counters
// are zeroed on the next quota check.
const UsageResetWindow = 30 * 24 * time.Hour

// AgentCallsPerReport is the agent-call cost of one report upload. A single
// ingest fans out to a fixed set of downstream AI operations (summarize,
// classify, translate, index, advise), so the coupling is a constant.
const AgentCallsPerReport = 5

// PlanRegistry is the authoritative catalog of what each tier allows and how
// long it stays valid. Both lookups are total: an unrecognized or empty tier
// resolves to Free, never to an error or an empty limit set.
type PlanRegistry interface {
	// Limits returns the monthly usage caps for the given tier.
	Limits(tier types.PlanTier) types.PlanLimits

	// DurationRules returns the validity window and post-expiry data
	// retention grace for the given tier.
	DurationRules(tier types.PlanTier) types.DurationRules

	// Describe returns the human-readable blurb shown in the plan listing.
	Describe(tier types.PlanTier) string
}

// planEntry bundles everything the catalog knows about one tier.
type planEntry struct {
	limits      types.PlanLimits
	durations   types.DurationRules
	description string
}

// planDefaults is the hardcoded catalog.
//
//	| Plan        | Reports | Agent Calls | Validity | Data Grace |
//	|-------------|---------|-------------|----------|------------|
//	| Free        | 3       | 15          | none     | none       |
//	| HealthPro   | 10      | 50          | 1 month  | 2 days     |
//	| PremiumCare | unlimited | unlimited | 1 year   | 2 days     |
var planDefaults = map[types.PlanTier]planEntry{
	types.PlanFree: {
		limits: types.PlanLimits{
			Reports:    types.LimitOf(3),
			AgentCalls: types.LimitOf(15),
		},
		description: "Basic free access, up to 3 reports per month",
	},
	types.PlanHealthPro: {
		limits: types.PlanLimits{
			Reports:    types.LimitOf(10),
			AgentCalls: types.LimitOf(50),
		},
		durations:   types.DurationRules{ValidityMonths: 1, GraceDays: 2},
		description: "Mid-tier plan with more report and agent usage",
	},
	types.PlanPremiumCare: {
		limits: types.PlanLimits{
			Reports:    types.Unlimited(),
			AgentCalls: types.Unlimited(),
		},
		durations:   types.DurationRules{ValidityYears: 1, GraceDays: 2},
		description: "Unlimited usage, full access to all features",
	},
}

// staticPlanRegistry is a compile-time catalog backed by an in-memory map.
// It is immutable after construction and safe for concurrent use.
type staticPlanRegistry struct {
	plans map[types.PlanTier]planEntry
}

// NewStaticPlanRegistry returns the standard production PlanRegistry backed
// by the hardcoded catalog. No database or external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	// Copy the defaults so callers can never mutate the package-level map.
	m := make(map[types.PlanTier]planEntry, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{plans: m}
}

func (r *staticPlanRegistry) lookup(tier types.PlanTier) planEntry {
	if e, ok := r.plans[tier]; ok {
		return e
	}
	return r.plans[types.PlanFree]
}

// Limits returns the usage caps for the tier, falling back to Free for
// unknown tiers.
func (r *staticPlanRegistry) Limits(tier types.PlanTier) types.PlanLimits {
	return r.lookup(tier).limits
}

// DurationRules returns the validity and grace rules for the tier, falling
// back to Free (no expiry, no grace) for unknown tiers.
func (r *staticPlanRegistry) DurationRules(tier types.PlanTier) types.DurationRules {
	return r.lookup(tier).durations
}

// Describe returns the catalog description for the tier.
func (r *staticPlanRegistry) Describe(tier types.PlanTier) string {
	return r.lookup(tier).description
}

// PlanDates computes the expiry and data-deletion deadlines for a transition
// to the given tier at `now`. Free (and any tier without a validity window)
// yields nil for both: a Free user's data is never scheduled for deletion.
func PlanDates(rules types.DurationRules, now time.Time) (expireAt, deleteAt *time.Time) {
	if !rules.HasExpiry() {
		return nil, nil
	}
	exp := now.AddDate(rules.ValidityYears, rules.ValidityMonths, 0)
	del := exp.AddDate(0, 0, rules.GraceDays)
	return &exp, &del
}
