// Package store defines the Backend Interface (spec.md §4.5) that both
// the relational and document backends implement, plus the request/
// response shapes shared across them.
package store

import (
	"context"
	"time"

	"github.com/zerouihq/constitution-core/pkg/models"
)

// Filter narrows list_rules (spec.md §4.5).
type Filter struct {
	Category  string
	Enabled   *bool
	Substring string
}

// Stats is the result of statistics() (spec.md §4.5).
type Stats struct {
	BySeverity map[models.Severity]int
	ByCategory map[string]models.Category
	Enabled    int
	Disabled   int
	Total      int
}

// HealthStatus is the result of health() (spec.md §4.5).
type HealthStatus struct {
	State  HealthState
	Reason string
}

type HealthState int

const (
	Healthy HealthState = iota
	Degraded
	Unhealthy
)

func (s HealthState) String() string {
	switch s {
	case Healthy:
		return "Healthy"
	case Degraded:
		return "Degraded"
	case Unhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// Update is one element of a bulk_set request (spec.md §4.5).
type Update struct {
	RuleID  string
	Enabled bool
	Reason  string
}

// Snapshot is the full, canonicalizable content payload used for sync and
// migration (spec.md §4.5, §4.7, §4.8).
type Snapshot struct {
	SchemaVersion string
	WrittenAt     time.Time
	Rules         map[string]models.Rule
	State         map[string]models.RuleState
	UsageEvents   []models.UsageEvent
	RunHistory    []models.ValidationRun
}

// Backend is the capability set every concrete backend implements
// (spec.md §4.5). All operations that mutate state are serialized by the
// concrete implementation (Invariant I7: single writer per backend).
type Backend interface {
	Kind() models.BackendKind

	GetRule(ctx context.Context, id string) (models.RuleRecord, error)
	ListRules(ctx context.Context, filter Filter) ([]models.RuleRecord, error)
	Enable(ctx context.Context, id string) (models.RuleState, error)
	Disable(ctx context.Context, id, reason string) (models.RuleState, error)
	BulkSet(ctx context.Context, updates []Update) (int, error)
	Statistics(ctx context.Context) (Stats, error)
	RecordEvent(ctx context.Context, event models.UsageEvent) error
	Health(ctx context.Context) HealthStatus

	Snapshot(ctx context.Context) (Snapshot, error)
	ApplySnapshot(ctx context.Context, snap Snapshot) error

	// LoadCatalog adds or updates each given Rule, creating a default
	// RuleState for any rule_id that is new to this backend (Invariant I2)
	// and leaving existing RuleState untouched for rule_ids already
	// present. Stored rules that are not in rules are kept.
	LoadCatalog(ctx context.Context, rules []models.Rule) error

	Close() error
}
