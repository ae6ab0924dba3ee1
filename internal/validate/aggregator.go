package validate

import (
	"sort"

	"github.com/zerouihq/constitution-core/pkg/models"
)

// Aggregate deduplicates findings (spec.md §4.12), computes per-rule/
// per-severity counts over the full deduped set, and only then filters
// the emitted finding list by minimum severity (spec.md Testable
// Property P9: counts are computed before severity filtering — a Minor
// finding dropped from Findings by minSeverity must still be reflected
// in CountsBySeverity/CountsByRule).
func Aggregate(findings []models.Finding, minSeverity models.Severity) models.ValidationRun {
	seen := make(map[[5]string]struct{}, len(findings))
	deduped := make([]models.Finding, 0, len(findings))
	for _, f := range findings {
		key := f.DedupeKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, f)
	}

	run := models.ValidationRun{
		CountsBySeverity: make(map[models.Severity]int),
		CountsByRule:     make(map[string]int),
	}
	for _, f := range deduped {
		run.CountsBySeverity[f.Severity]++
		run.CountsByRule[f.RuleID]++
	}

	filtered := deduped[:0:0]
	for _, f := range deduped {
		if minSeverity != "" && !f.Severity.AtLeast(minSeverity) {
			continue
		}
		filtered = append(filtered, f)
	}

	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.RuleID < b.RuleID
	})

	run.Findings = filtered
	run.FindingCount = len(filtered)
	return run
}
