package types

import (
	"encoding/json"
	"fmt"
)

// unlimitedJSON is the wire representation of an uncapped limit.
var unlimitedJSON = []byte(`"unlimited"`)

// Limit is a usage cap: either a non-negative count or the unlimited sentinel.
// The sentinel is a distinct state, not a magic number, so comparison code can
// never accidentally treat "unlimited" as a small cap (or vice versa).
type Limit struct {
	n         int
	unlimited bool
}

// LimitOf returns a bounded limit of n. Negative values are clamped to zero.
func LimitOf(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// Unlimited returns the uncapped limit sentinel.
func Unlimited() Limit {
	return Limit{unlimited: true}
}

// IsUnlimited reports whether this limit is the uncapped sentinel.
func (l Limit) IsUnlimited() bool {
	return l.unlimited
}

// Value returns the bounded cap. It is only meaningful when IsUnlimited is false.
func (l Limit) Value() int {
	return l.n
}

// Allows reports whether a consumer at `used` may perform one more unit.
// An unlimited cap always passes.
func (l Limit) Allows(used int) bool {
	if l.unlimited {
		return true
	}
	return used < l.n
}

// Remaining returns max(0, cap-used) and whether the value is meaningful
// (false when the limit is unlimited).
func (l Limit) Remaining(used int) (int, bool) {
	if l.unlimited {
		return 0, false
	}
	r := l.n - used
	if r < 0 {
		r = 0
	}
	return r, true
}

// MarshalJSON encodes a bounded limit as its count and the sentinel as the
// string "unlimited".
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return unlimitedJSON, nil
	}
	return json.Marshal(l.n)
}

// UnmarshalJSON accepts either an integer or the string "unlimited".
func (l *Limit) UnmarshalJSON(data []byte) error {
	if string(data) == string(unlimitedJSON) {
		*l = Unlimited()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("limit must be an integer or \"unlimited\": %w", err)
	}
	*l = LimitOf(n)
	return nil
}

// String implements fmt.Stringer for log output.
func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", l.n)
}

// PlanLimits holds the monthly usage caps for a plan tier.
type PlanLimits struct {
	Reports    Limit `json:"reports"`
	AgentCalls Limit `json:"agent_calls"`
}

// DurationRules describes how long a plan stays valid after purchase and how
// long case data is retained after the plan expires. The zero value means the
// plan never expires and its data is never scheduled for deletion (Free).
type DurationRules struct {
	ValidityMonths int
	ValidityYears  int
	GraceDays      int
}

// HasExpiry reports whether the plan carries a validity window at all.
func (d DurationRules) HasExpiry() bool {
	return d.ValidityMonths != 0 || d.ValidityYears != 0
}
