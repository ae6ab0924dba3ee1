package models

import "time"

// Severity is the authored severity level of a Rule.
type Severity string

const (
	SeverityBlocker  Severity = "Blocker"
	SeverityCritical Severity = "Critical"
	SeverityMajor    Severity = "Major"
	SeverityMinor    Severity = "Minor"
	SeverityInfo     Severity = "Info"
)

// Valid reports whether s is one of the five authored severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityBlocker, SeverityCritical, SeverityMajor, SeverityMinor, SeverityInfo:
		return true
	}
	return false
}

// rank orders severities from most to least urgent, for threshold filtering.
func (s Severity) rank() int {
	switch s {
	case SeverityBlocker:
		return 0
	case SeverityCritical:
		return 1
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 3
	case SeverityInfo:
		return 4
	}
	return 99
}

// AtLeast reports whether s is at least as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.rank() <= threshold.rank()
}

// Rule is an immutable authored governance rule definition (spec.md §3).
// Rule records never change after Catalog load; RuleState carries the
// only runtime-mutable overlay (Invariant I6).
type Rule struct {
	RuleID         string              `yaml:"rule_id" json:"rule_id" validate:"required"`
	Title          string              `yaml:"title" json:"title" validate:"required"`
	Category       string              `yaml:"category" json:"category" validate:"required"`
	Severity       Severity            `yaml:"severity" json:"severity" validate:"required"`
	Description    string              `yaml:"description" json:"description"`
	Requirements   []string            `yaml:"requirements" json:"requirements"`
	Version        string              `yaml:"version" json:"version" validate:"required"`
	EffectiveDate  time.Time           `yaml:"effective_date" json:"effective_date"`
	LastUpdated    time.Time           `yaml:"last_updated" json:"last_updated"`
	PolicyLinkage  map[string][]string `yaml:"policy_linkage" json:"policy_linkage"`
	EnabledDefault bool                `yaml:"enabled_default" json:"enabled_default"`
	ValidatorHint  string              `yaml:"validator_hint" json:"validator_hint"`

	// RawDefinition preserves the as-loaded document fragment, for a
	// backend's round-trip fidelity requirement (§4.3 rules.raw_definition).
	RawDefinition string `yaml:"-" json:"-"`

	// Extras holds unknown keys encountered in the source document so a
	// future schema revision does not silently drop author intent.
	Extras map[string]any `yaml:"-" json:"extras,omitempty"`
}

// ValidatorArg returns the single configuration argument a Validator
// needs from this rule (a pattern, a threshold, a regular expression),
// preferring the first authored requirement and falling back to the
// raw definition fragment for validator_hints with no requirements list.
func (r Rule) ValidatorArg() string {
	if len(r.Requirements) > 0 {
		return r.Requirements[0]
	}
	return r.RawDefinition
}

// RuleState is the per-rule mutable runtime overlay (spec.md §3). Exactly
// one RuleState exists per Rule in a backend (Invariant I2).
type RuleState struct {
	RuleID         string     `json:"rule_id"`
	Enabled        bool       `json:"enabled"`
	DisabledReason string     `json:"disabled_reason,omitempty"`
	DisabledAt     *time.Time `json:"disabled_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewDefaultState builds the RuleState created alongside a Rule's first
// appearance in a backend (Invariant I2).
func NewDefaultState(r Rule, now time.Time) RuleState {
	return RuleState{
		RuleID:    r.RuleID,
		Enabled:   r.EnabledDefault,
		UpdatedAt: now,
	}
}

// RuleRecord is the (Rule, RuleState) pair returned by get_rule / list_rules.
type RuleRecord struct {
	Rule  Rule      `json:"rule"`
	State RuleState `json:"state"`
}

// Category is a derived, never-persisted aggregate (spec.md §3). It is
// recomputed on read and must never be stored independently.
type Category struct {
	Name         string `json:"name"`
	Count        int    `json:"count"`
	EnabledCount int    `json:"enabled_count"`
}
