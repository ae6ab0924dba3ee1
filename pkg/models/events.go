package models

import "time"

// UsageEventKind enumerates the qualifying operations that produce an
// append-only UsageEvent (spec.md §3).
type UsageEventKind string

const (
	EventTriggered UsageEventKind = "Triggered"
	EventEnabled   UsageEventKind = "Enabled"
	EventDisabled  UsageEventKind = "Disabled"
	EventOverridden UsageEventKind = "Overridden"
)

// MaxUsageEventContext caps the length of UsageEvent.Context so a single
// runaway caller cannot grow the log unbounded between retention passes.
const MaxUsageEventContext = 2048

// UsageEvent is an append-only observability record (spec.md §3).
type UsageEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	RuleID    string         `json:"rule_id"`
	EventKind UsageEventKind `json:"event_kind"`
	Context   string         `json:"context,omitempty"`
}

// Truncate caps Context to MaxUsageEventContext bytes, matching the
// capped-length field contract in spec.md §3.
func (e UsageEvent) Truncate() UsageEvent {
	if len(e.Context) > MaxUsageEventContext {
		e.Context = e.Context[:MaxUsageEventContext]
	}
	return e
}

// BackendKind names which of the two backends served a ValidationRun or
// is currently active in the factory.
type BackendKind string

const (
	BackendRelational BackendKind = "Relational"
	BackendDocument    BackendKind = "Document"
)

// ValidationRun is the unit of work covering a set of files, producing a
// list of findings and a summary (spec.md §3).
type ValidationRun struct {
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   time.Time   `json:"completed_at"`
	FileCount     int         `json:"file_count"`
	FindingCount  int         `json:"finding_count"`
	BackendUsed   BackendKind `json:"backend_used"`
	Degraded      bool        `json:"degraded"`

	Findings       []Finding      `json:"findings"`
	CountsBySeverity map[Severity]int `json:"counts_by_severity"`
	CountsByRule     map[string]int   `json:"counts_by_rule"`
}
