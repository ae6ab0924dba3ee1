// Package migrate implements the Migration Tool (spec.md §4.8): copy a
// source backend's full content to a destination backend and verify the
// copy by re-reading the destination and comparing it, canonically,
// against the source.
package migrate

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zerouihq/constitution-core/internal/eventbus"
	"github.com/zerouihq/constitution-core/internal/store"
	"github.com/zerouihq/constitution-core/pkg/corerr"
	"github.com/zerouihq/constitution-core/pkg/models"
)

// Record is one completed migration attempt, kept in migration history
// (spec.md §4.8 "Migration history"). ID uniquely identifies the
// attempt across the history log, for cross-referencing with trace
// spans and audit records.
type Record struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Source      models.BackendKind
	Destination models.BackendKind
	RuleCount   int
	Succeeded   bool
	Err         error
}

// Tool runs and records migrations between two backends.
type Tool struct {
	bus *eventbus.Bus

	mu      sync.RWMutex
	history []Record
}

// New builds a Tool. bus may be nil if the embedder does not subscribe
// to migration events.
func New(bus *eventbus.Bus) *Tool {
	return &Tool{bus: bus}
}

// Migrate copies source's full content to destination and verifies it
// (spec.md §4.8 "Operation"):
//  1. snapshot the source
//  2. apply the snapshot to the destination
//  3. re-snapshot the destination
//  4. canonically compare the two snapshots
//
// A mismatch returns corerr.MigrationIntegrityFailure and is recorded as
// a failed attempt; the destination is left as-is (the caller decides
// whether to roll back or retry).
func (t *Tool) Migrate(ctx context.Context, source, destination store.Backend, sourceKind, destKind models.BackendKind) (Record, error) {
	rec := Record{ID: uuid.NewString(), StartedAt: time.Now().UTC(), Source: sourceKind, Destination: destKind}

	srcSnap, err := source.Snapshot(ctx)
	if err != nil {
		rec.Err = err
		t.finish(rec)
		return rec, err
	}

	if err := destination.ApplySnapshot(ctx, srcSnap); err != nil {
		rec.Err = err
		t.finish(rec)
		return rec, err
	}

	destSnap, err := destination.Snapshot(ctx)
	if err != nil {
		rec.Err = err
		t.finish(rec)
		return rec, err
	}

	if !canonicallyEqual(srcSnap, destSnap) {
		err := corerr.New(corerr.MigrationIntegrityFailure, nil, "destination snapshot does not match source after migration")
		rec.Err = err
		t.finish(rec)
		return rec, err
	}

	rec.RuleCount = len(srcSnap.Rules)
	rec.Succeeded = true
	t.finish(rec)

	if t.bus != nil {
		t.bus.Publish(eventbus.MigrationDone, map[string]any{
			"source": string(sourceKind), "destination": string(destKind), "rule_count": rec.RuleCount,
		})
	}
	return rec, nil
}

func (t *Tool) finish(rec Record) {
	rec.CompletedAt = time.Now().UTC()
	t.mu.Lock()
	t.history = append(t.history, rec)
	t.mu.Unlock()
}

// History returns recorded migration attempts, most recent last.
func (t *Tool) History() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Record(nil), t.history...)
}

// canonicallyEqual compares two snapshots' Rules and State maps by
// canonical JSON form, ignoring WrittenAt (a migration artifact, not
// migrated content) and usage/run history (append-only logs, not
// authoritative state subject to the integrity check).
func canonicallyEqual(a, b store.Snapshot) bool {
	return canonicalJSON(a.Rules) == canonicalJSON(b.Rules) && canonicalJSON(a.State) == canonicalJSON(b.State)
}

func canonicalJSON(v any) string {
	switch m := v.(type) {
	case map[string]models.Rule:
		keys := sortedKeys(m)
		out := make([]models.Rule, 0, len(keys))
		for _, k := range keys {
			out = append(out, m[k])
		}
		data, _ := json.Marshal(out)
		return string(data)
	case map[string]models.RuleState:
		keys := sortedStateKeys(m)
		out := make([]models.RuleState, 0, len(keys))
		for _, k := range keys {
			out = append(out, m[k])
		}
		data, _ := json.Marshal(out)
		return string(data)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

func sortedKeys(m map[string]models.Rule) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStateKeys(m map[string]models.RuleState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
