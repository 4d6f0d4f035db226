package types

// PlanTier identifies the subscription plan held by a user.
type PlanTier string

const (
	PlanFree        PlanTier = "free"
	PlanHealthPro   PlanTier = "health_pro"
	PlanPremiumCare PlanTier = "premium_care"
)

// KnownPlanTiers lists every tier the catalog recognizes, in ascending order
// of generosity. Anything outside this set resolves to Free.
var KnownPlanTiers = []PlanTier{PlanFree, PlanHealthPro, PlanPremiumCare}

// IsKnown reports whether the tier is one of the catalog tiers.
func (t PlanTier) IsKnown() bool {
	switch t {
	case PlanFree, PlanHealthPro, PlanPremiumCare:
		return true
	}
	return false
}

// Normalize maps unknown or empty tiers to Free. Lookup by tier never fails;
// this is the single place that rule is applied.
func (t PlanTier) Normalize() PlanTier {
	if t.IsKnown() {
		return t
	}
	return PlanFree
}

// PaymentStatus is the client-reported outcome of the (simulated) payment step.
type PaymentStatus string

const (
	// PaymentSucceeded is the only value that permits a paid plan transition.
	PaymentSucceeded PaymentStatus = "success"
)
