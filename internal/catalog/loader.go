// Package catalog implements the Rule Catalog Loader (spec.md §4.1): it
// reads rule source documents from a directory, validates them, and
// produces a canonical, deterministic in-memory Catalog.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zerouihq/constitution-core/pkg/corerr"
	"github.com/zerouihq/constitution-core/pkg/models"
)

// Warning is a non-fatal issue surfaced alongside a successfully loaded
// Catalog (spec.md §4.1 "Missing-field policy").
type Warning struct {
	RuleID string
	File   string
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s (%s): %s", w.RuleID, w.File, w.Reason)
}

// Catalog is the canonical, read-only result of Load (spec.md §4.1).
type Catalog struct {
	Rules      []models.Rule
	indexByID  map[string]int
	byCategory map[string]map[string]struct{}
	Warnings   []Warning
}

// Index returns the position of ruleID in Rules, and whether it exists.
func (c *Catalog) Index(ruleID string) (int, bool) {
	i, ok := c.indexByID[ruleID]
	return i, ok
}

// Get returns the Rule for ruleID.
func (c *Catalog) Get(ruleID string) (models.Rule, bool) {
	i, ok := c.indexByID[ruleID]
	if !ok {
		return models.Rule{}, false
	}
	return c.Rules[i], true
}

// Category returns the set of rule_ids tagged with the given category.
func (c *Catalog) Category(name string) []string {
	set, ok := c.byCategory[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var structValidator = validator.New()

// Load reads every rule source document in directory, in sorted filename
// order, and returns a deterministic Catalog (spec.md §4.1 P1). The same
// directory content always yields the same catalog regardless of
// filesystem enumeration order, because files are sorted before parsing
// and rule_ids are the join key, not enumeration position.
func Load(directory string) (*Catalog, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, corerr.New(corerr.InvalidInput, err, "read catalog directory %s", directory)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	cat := &Catalog{
		indexByID:  make(map[string]int),
		byCategory: make(map[string]map[string]struct{}),
	}
	seenIn := make(map[string]string) // rule_id -> file it was first seen in

	for _, name := range files {
		path := filepath.Join(directory, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, corerr.New(corerr.InvalidInput, err, "read rule document %s", path)
		}

		var doc ruleDocument
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, corerr.New(corerr.LoadError, err, "parse rule document %s", path)
		}

		if doc.TotalRules != len(doc.Rules) {
			return nil, corerr.NewLoad(corerr.MetadataMismatch, map[string]any{
				"file": path, "declared": doc.TotalRules, "actual": len(doc.Rules),
			}, "document %s declares %d rules but contains %d", path, doc.TotalRules, len(doc.Rules))
		}

		for _, def := range doc.Rules {
			if field := def.firstMissingField(); field != "" {
				return nil, corerr.NewLoad(corerr.InvalidRule, map[string]any{
					"rule_id": def.RuleID, "field": field,
				}, "rule %s in %s missing required field %q", def.RuleID, path, field)
			}

			if first, dup := seenIn[def.RuleID]; dup {
				return nil, corerr.NewLoad(corerr.DuplicateIdentifier, map[string]any{
					"rule_id": def.RuleID, "first_file": first, "second_file": path,
				}, "duplicate rule_id %s in %s (first defined in %s)", def.RuleID, path, first)
			}
			seenIn[def.RuleID] = path

			rule := def.toRule()
			rule.RawDefinition = string(raw)
			if def.EffectiveDate != "" {
				if t, perr := time.Parse("2006-01-02", def.EffectiveDate); perr == nil {
					rule.EffectiveDate = t
				}
			}
			if def.LastUpdated != "" {
				if t, perr := time.Parse(time.RFC3339, def.LastUpdated); perr == nil {
					rule.LastUpdated = t
				}
			}
			if !rule.Severity.Valid() {
				return nil, corerr.NewLoad(corerr.InvalidRule, map[string]any{
					"rule_id": def.RuleID, "field": "severity",
				}, "rule %s has invalid severity %q", def.RuleID, def.Severity)
			}

			if err := structValidator.Struct(rule); err != nil {
				return nil, corerr.New(corerr.LoadError, err, "rule %s failed validation", def.RuleID)
			}

			if rule.Description == "" {
				cat.Warnings = append(cat.Warnings, Warning{RuleID: rule.RuleID, File: path, Reason: "empty description"})
			}
			if len(rule.Requirements) == 0 {
				cat.Warnings = append(cat.Warnings, Warning{RuleID: rule.RuleID, File: path, Reason: "empty requirements"})
			}

			cat.indexByID[rule.RuleID] = len(cat.Rules)
			cat.Rules = append(cat.Rules, rule)

			if cat.byCategory[rule.Category] == nil {
				cat.byCategory[rule.Category] = make(map[string]struct{})
			}
			cat.byCategory[rule.Category][rule.RuleID] = struct{}{}
		}
	}

	return cat, nil
}
