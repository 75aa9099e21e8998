// Package policy provides the tier policy table: the static mapping from a
// service tier to its consumption limits.
package policy

import "sort"

// Tier is a named service level.
type Tier string

// Built-in tiers.
const (
	TierFree  Tier = "free"
	TierPro   Tier = "pro"
	TierAdmin Tier = "admin"
)

// Policy holds the consumption limits for one tier (immutable value type).
type Policy struct {
	Tier              Tier
	RequestsPerMinute int
	RequestsPerDay    int
	TokensPerDay      int64
}

// Defaults returns the built-in tier policies.
func Defaults() []Policy {
	return []Policy{
		{Tier: TierFree, RequestsPerMinute: 2, RequestsPerDay: 50, TokensPerDay: 10000},
		{Tier: TierPro, RequestsPerMinute: 10, RequestsPerDay: 500, TokensPerDay: 100000},
		{Tier: TierAdmin, RequestsPerMinute: 100, RequestsPerDay: 10000, TokensPerDay: 1000000},
	}
}

// Table maps tiers to policies. Immutable after construction; swap the whole
// table to change limits at runtime.
type Table struct {
	policies map[Tier]Policy
}

// NewTable builds a table from the given policies. Entries with non-positive
// limits are dropped. A free policy is always present: if the input does not
// define one, the built-in free default is used so LimitsFor never fails.
func NewTable(policies []Policy) Table {
	m := make(map[Tier]Policy, len(policies))
	for _, p := range policies {
		if p.RequestsPerMinute <= 0 || p.RequestsPerDay <= 0 || p.TokensPerDay <= 0 {
			continue
		}
		m[p.Tier] = p
	}
	if _, ok := m[TierFree]; !ok {
		m[TierFree] = Defaults()[0]
	}
	return Table{policies: m}
}

// DefaultTable returns a table with the built-in tiers.
func DefaultTable() Table {
	return NewTable(Defaults())
}

// LimitsFor returns the policy for a tier. Unknown tiers get the free
// policy: the safe default, never an error.
func (t Table) LimitsFor(tier Tier) Policy {
	if p, ok := t.policies[tier]; ok {
		return p
	}
	return t.policies[TierFree]
}

// Parse validates a tier string against the table. Callers at the system
// boundary should use this instead of relying on the free fallback, so a
// typo is a visible error rather than a silent downgrade.
func (t Table) Parse(s string) (Tier, bool) {
	tier := Tier(s)
	_, ok := t.policies[tier]
	return tier, ok
}

// Tiers returns all policies sorted by tier name.
func (t Table) Tiers() []Policy {
	out := make([]Policy, 0, len(t.policies))
	for _, p := range t.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}
