package models

import "strconv"

// Finding is a single rule triggering at a location in source (spec.md §3).
// Findings are owned by the ValidationRun that produced them and are
// discarded after emission to the external consumer.
type Finding struct {
	FilePath        string   `json:"file_path"`
	Line            int      `json:"line,omitempty"` // 1-based, 0 = file-level
	Column          int      `json:"column,omitempty"`
	RuleID          string   `json:"rule_id"`
	Severity        Severity `json:"severity"`
	Message         string   `json:"message"`
	EvidenceSnippet string   `json:"evidence_snippet,omitempty"`
	Confidence      int      `json:"confidence,omitempty"` // 0..100, 0 = unset
}

// DedupeKey is the tuple the Finding Aggregator uses to drop exact
// duplicates (spec.md §4.12): (file_path, line, column, rule_id, message).
func (f Finding) DedupeKey() [5]string {
	return [5]string{
		f.FilePath,
		strconv.Itoa(f.Line),
		strconv.Itoa(f.Column),
		f.RuleID,
		f.Message,
	}
}
