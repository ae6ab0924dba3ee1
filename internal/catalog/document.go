package catalog

import "github.com/zerouihq/constitution-core/pkg/models"

// ruleDocument is the on-disk shape of a single rule source document
// (spec.md §6.1): a metadata header plus an ordered list of rule
// definitions.
type ruleDocument struct {
	TotalRules  int              `yaml:"total_rules"`
	Category    string           `yaml:"category"`
	Description string           `yaml:"description"`
	Rules       []ruleDefinition `yaml:"rules"`
}

// ruleDefinition mirrors models.Rule's authored fields plus an inline
// catch-all for forward-compatible unknown keys (SPEC_FULL.md §9 design
// note: "duck-typed rule records").
type ruleDefinition struct {
	RuleID         string              `yaml:"rule_id"`
	Title          string              `yaml:"title"`
	Category       string              `yaml:"category"`
	Severity       string              `yaml:"severity"`
	Description    string              `yaml:"description"`
	Requirements   []string            `yaml:"requirements"`
	Version        string              `yaml:"version"`
	EffectiveDate  string              `yaml:"effective_date"`
	LastUpdated    string              `yaml:"last_updated"`
	PolicyLinkage  map[string][]string `yaml:"policy_linkage"`
	EnabledDefault *bool               `yaml:"enabled_default"`
	ValidatorHint  string              `yaml:"validator_hint"`

	Extras map[string]any `yaml:",inline"`
}

// firstMissingField returns the first field whose absence fails load with
// InvalidRule{rule_id, field} per spec.md §4.1. effective_date and
// last_updated are intentionally excluded: they default rather than fail,
// matching the "documented defaults for missing fields" policy used for
// Config (§4.9) and kept consistent here.
func (d ruleDefinition) firstMissingField() string {
	switch {
	case d.RuleID == "":
		return "rule_id"
	case d.Title == "":
		return "title"
	case d.Category == "":
		return "category"
	case d.Severity == "":
		return "severity"
	case d.Version == "":
		return "version"
	}
	return ""
}

func (d ruleDefinition) toRule() models.Rule {
	enabledDefault := true
	if d.EnabledDefault != nil {
		enabledDefault = *d.EnabledDefault
	}
	return models.Rule{
		RuleID:         d.RuleID,
		Title:          d.Title,
		Category:       d.Category,
		Severity:       models.Severity(d.Severity),
		Description:    d.Description,
		Requirements:   d.Requirements,
		Version:        d.Version,
		PolicyLinkage:  d.PolicyLinkage,
		EnabledDefault: enabledDefault,
		ValidatorHint:  d.ValidatorHint,
		Extras:         d.Extras,
	}
}
