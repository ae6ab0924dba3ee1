// Package document implements the Document Backend (spec.md §4.4): a
// single structured-document file holding the same logical data as the
// relational backend, written through the Atomic File Writer and
// self-repairing from its backup ring on corruption.
package document

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/zerouihq/constitution-core/internal/atomicfile"
	"github.com/zerouihq/constitution-core/internal/store"
	"github.com/zerouihq/constitution-core/pkg/corerr"
	"github.com/zerouihq/constitution-core/pkg/models"
)

// SupportedSchemaVersion is the schema_version this backend reads and
// writes (spec.md §4.4 "Health check").
const SupportedSchemaVersion = "2.0"

// payload is the on-disk serialized shape (spec.md §4.4).
type payload struct {
	SchemaVersion string                        `json:"schema_version"`
	WrittenAt     time.Time                     `json:"written_at"`
	Rules         map[string]models.Rule        `json:"rules"`
	State         map[string]models.RuleState   `json:"state"`
	UsageEvents   []models.UsageEvent           `json:"usage_events"`
	RunHistory    []models.ValidationRun        `json:"run_history"`
}

func emptyPayload() payload {
	return payload{
		SchemaVersion: SupportedSchemaVersion,
		Rules:         make(map[string]models.Rule),
		State:         make(map[string]models.RuleState),
	}
}

// Backend is the Document Backend concrete implementation.
type Backend struct {
	mu       sync.RWMutex
	writer   *atomicfile.Writer
	fs       afero.Fs
	path     string
	cached   *payload
	cachedAt time.Time // mtime of target when cached was last loaded
}

// New opens (or initializes) a document backend at path on fs, with the
// given backup ring size (spec.md §4.4, §4.2).
func New(fs afero.Fs, path string, backupRetention int) *Backend {
	return &Backend{
		fs:     fs,
		path:   path,
		writer: atomicfile.New(fs, path, backupRetention),
	}
}

func (b *Backend) Kind() models.BackendKind { return models.BackendDocument }

// load returns the current parsed document, using the mtime-gated cache
// described in spec.md §4.4 ("Reads load and cache the parsed document
// until the file mtime changes").
func (b *Backend) load() (*payload, error) {
	if !b.writer.Exists() {
		p := emptyPayload()
		return &p, nil
	}

	mtime := b.currentModTime()
	if b.cached != nil && !mtime.After(b.cachedAt) {
		return b.cached, nil
	}

	raw, err := b.writer.Read()
	if err != nil {
		return nil, corerr.New(corerr.BackendUnavailable, err, "read document backend %s", b.path)
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return b.repair()
	}
	if p.SchemaVersion != "" && p.SchemaVersion != SupportedSchemaVersion {
		return nil, corerr.New(corerr.IncompatibleSchema, nil, "document backend schema_version %s unsupported", p.SchemaVersion)
	}

	b.cached = &p
	b.cachedAt = mtime
	return &p, nil
}

func (b *Backend) currentModTime() time.Time {
	info, err := b.fs.Stat(b.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// repair attempts to restore the most recent valid backup on parse
// failure (spec.md §4.4 "Corruption repair"). If every backup also fails
// to parse, it raises BackendCorrupt and refuses to serve.
func (b *Backend) repair() (*payload, error) {
	restored, err := b.writer.RestoreLatestBackup(func(data []byte) bool {
		var p payload
		return json.Unmarshal(data, &p) == nil
	})
	if err != nil {
		return nil, corerr.New(corerr.BackendCorrupt, err, "document backend %s is corrupt and has no valid backup", b.path)
	}
	var p payload
	if err := json.Unmarshal(restored, &p); err != nil {
		return nil, corerr.New(corerr.BackendCorrupt, err, "restored backup for %s still does not parse", b.path)
	}
	b.cached = &p
	b.cachedAt = b.currentModTime()
	return &p, nil
}

// persist writes p through the Atomic File Writer and refreshes the
// read cache (spec.md §4.4 "Writes").
func (b *Backend) persist(p *payload) error {
	p.WrittenAt = time.Now().UTC()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return corerr.New(corerr.BackendUnavailable, err, "marshal document backend payload")
	}
	if err := b.writer.Write(data); err != nil {
		return err
	}
	b.cached = p
	b.cachedAt = b.currentModTime()
	return nil
}

func (b *Backend) GetRule(_ context.Context, id string) (models.RuleRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, err := b.load()
	if err != nil {
		return models.RuleRecord{}, err
	}
	rule, ok := p.Rules[id]
	if !ok {
		return models.RuleRecord{}, corerr.New(corerr.NotFound, nil, "rule %s not found", id)
	}
	return models.RuleRecord{Rule: rule, State: p.State[id]}, nil
}

func (b *Backend) ListRules(_ context.Context, filter store.Filter) ([]models.RuleRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, err := b.load()
	if err != nil {
		return nil, err
	}

	var out []models.RuleRecord
	for id, rule := range p.Rules {
		if filter.Category != "" && rule.Category != filter.Category {
			continue
		}
		state := p.State[id]
		if filter.Enabled != nil && state.Enabled != *filter.Enabled {
			continue
		}
		if filter.Substring != "" && !strings.Contains(strings.ToLower(rule.Title), strings.ToLower(filter.Substring)) {
			continue
		}
		out = append(out, models.RuleRecord{Rule: rule, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule.RuleID < out[j].Rule.RuleID })
	return out, nil
}

func (b *Backend) setEnabled(id string, enabled bool, reason string) (models.RuleState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.load()
	if err != nil {
		return models.RuleState{}, err
	}
	if _, ok := p.Rules[id]; !ok {
		return models.RuleState{}, corerr.New(corerr.NotFound, nil, "rule %s not found", id)
	}
	prior := p.State[id]

	now := time.Now().UTC()
	next := prior
	next.Enabled = enabled
	next.UpdatedAt = now
	if enabled {
		next.DisabledReason = ""
		next.DisabledAt = nil
	} else {
		next.DisabledReason = reason
		next.DisabledAt = &now
	}
	p.State[id] = next

	if err := b.persist(p); err != nil {
		return models.RuleState{}, err
	}
	return prior, nil
}

func (b *Backend) Enable(_ context.Context, id string) (models.RuleState, error) {
	return b.setEnabled(id, true, "")
}

func (b *Backend) Disable(_ context.Context, id, reason string) (models.RuleState, error) {
	return b.setEnabled(id, false, reason)
}

func (b *Backend) BulkSet(ctx context.Context, updates []store.Update) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.load()
	if err != nil {
		return 0, err
	}
	for _, u := range updates {
		if _, ok := p.Rules[u.RuleID]; !ok {
			return 0, corerr.New(corerr.NotFound, nil, "rule %s not found", u.RuleID)
		}
	}

	now := time.Now().UTC()
	for _, u := range updates {
		s := p.State[u.RuleID]
		s.Enabled = u.Enabled
		s.UpdatedAt = now
		if !u.Enabled {
			s.DisabledReason = u.Reason
			s.DisabledAt = &now
		} else {
			s.DisabledReason = ""
			s.DisabledAt = nil
		}
		p.State[u.RuleID] = s
	}

	if err := b.persist(p); err != nil {
		return 0, err
	}
	return len(updates), nil
}

func (b *Backend) Statistics(_ context.Context) (store.Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, err := b.load()
	if err != nil {
		return store.Stats{}, err
	}

	stats := store.Stats{
		BySeverity: make(map[models.Severity]int),
		ByCategory: make(map[string]models.Category),
	}
	for id, rule := range p.Rules {
		stats.Total++
		stats.BySeverity[rule.Severity]++

		cat := stats.ByCategory[rule.Category]
		cat.Name = rule.Category
		cat.Count++
		if p.State[id].Enabled {
			cat.EnabledCount++
			stats.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByCategory[rule.Category] = cat
	}
	return stats, nil
}

func (b *Backend) RecordEvent(_ context.Context, event models.UsageEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.load()
	if err != nil {
		return err
	}
	p.UsageEvents = append(p.UsageEvents, event.Truncate())
	return b.persist(p)
}

func (b *Backend) Health(_ context.Context) store.HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.writer.Exists() {
		return store.HealthStatus{State: store.Healthy} // fresh start, not a fault
	}
	p, err := b.load()
	if err != nil {
		return store.HealthStatus{State: store.Unhealthy, Reason: err.Error()}
	}
	if p.SchemaVersion != SupportedSchemaVersion {
		return store.HealthStatus{State: store.Unhealthy, Reason: "unsupported schema_version"}
	}
	return store.HealthStatus{State: store.Healthy}
}

func (b *Backend) Snapshot(_ context.Context) (store.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, err := b.load()
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{
		SchemaVersion: p.SchemaVersion,
		WrittenAt:     p.WrittenAt,
		Rules:         p.Rules,
		State:         p.State,
		UsageEvents:   p.UsageEvents,
		RunHistory:    p.RunHistory,
	}, nil
}

func (b *Backend) ApplySnapshot(_ context.Context, snap store.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if snap.SchemaVersion != "" && snap.SchemaVersion != SupportedSchemaVersion {
		return corerr.New(corerr.IncompatibleSchema, nil, "cannot apply snapshot with schema_version %s", snap.SchemaVersion)
	}
	p := payload{
		SchemaVersion: SupportedSchemaVersion,
		Rules:         snap.Rules,
		State:         snap.State,
		UsageEvents:   snap.UsageEvents,
		RunHistory:    snap.RunHistory,
	}
	if p.Rules == nil {
		p.Rules = make(map[string]models.Rule)
	}
	if p.State == nil {
		p.State = make(map[string]models.RuleState)
	}
	return b.persist(&p)
}

func (b *Backend) LoadCatalog(_ context.Context, rules []models.Rule) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.load()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range rules {
		p.Rules[r.RuleID] = r
		if _, ok := p.State[r.RuleID]; !ok {
			p.State[r.RuleID] = models.NewDefaultState(r, now)
		}
	}
	return b.persist(p)
}

func (b *Backend) Close() error { return nil }

var _ store.Backend = (*Backend)(nil)
