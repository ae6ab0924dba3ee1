// Package syncmgr implements the Sync Manager (spec.md §4.7): it keeps
// the primary and fallback backends convergent, via an on-write push,
// a periodic reconciliation pass, and an explicit sync_now(), resolving
// conflicts per the configured ConflictPolicy and reporting convergence
// back to the Backend Factory.
package syncmgr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/zerouihq/constitution-core/internal/eventbus"
	"github.com/zerouihq/constitution-core/internal/observability"
	"github.com/zerouihq/constitution-core/internal/store"
	"github.com/zerouihq/constitution-core/pkg/corerr"
	"github.com/zerouihq/constitution-core/pkg/models"
)

// Report is the outcome of one reconciliation pass, recorded in the
// sync history log (spec.md §4.7 "Sync history"). ID cross-references a
// pass between the in-memory ring and the optional file log.
type Report struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Converged   bool
	Conflicts   int
	Applied     int
	Err         error `json:"-"`
	ErrMsg      string
}

// Manager reconciles a source and destination backend.
type Manager struct {
	mu       sync.Mutex
	source   store.Backend
	dest     store.Backend
	policy   models.ConflictPolicy
	bus      *eventbus.Bus
	obs      *observability.Handle
	interval time.Duration
	cancel   context.CancelFunc

	historyMu  sync.RWMutex
	history    []Report
	lastGood   time.Time
	historyLog *lumberjack.Logger
}

// Options configures a Manager.
type Options struct {
	Source   store.Backend
	Dest     store.Backend
	Policy   models.ConflictPolicy
	Bus      *eventbus.Bus
	Obs      *observability.Handle
	Interval time.Duration

	// HistoryLogPath, if set, appends one JSON line per reconciliation
	// pass to a lumberjack-rotated file, independent of the bounded
	// in-memory ring (spec.md §4.7 "Sync history"). Empty disables it.
	HistoryLogPath string
}

// New builds a Manager. Source is the primary (authoritative on
// PrimaryWins), Dest is the backend kept convergent with it.
func New(opt Options) *Manager {
	interval := opt.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m := &Manager{
		source:   opt.Source,
		dest:     opt.Dest,
		policy:   opt.Policy,
		bus:      opt.Bus,
		obs:      opt.Obs,
		interval: interval,
	}
	if opt.HistoryLogPath != "" {
		m.historyLog = &lumberjack.Logger{
			Filename:   opt.HistoryLogPath,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		}
	}
	return m
}

// Start launches the periodic reconciliation loop (spec.md §4.7
// "Periodic reconciliation").
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = m.SyncNow(ctx)
			}
		}
	}()
}

// Stop halts the reconciliation loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// OnWrite is called after a mutating operation on the source backend
// (spec.md §4.7 "On-write push"). It runs a full SyncNow pass
// synchronously, applying the merged snapshot to both backends; a failure
// is logged, not returned.
func (m *Manager) OnWrite(ctx context.Context) {
	report, err := m.SyncNow(ctx)
	if err != nil && m.obs != nil {
		m.obs.Log.Warn(ctx, "sync manager: on-write push failed: %v", err)
	}
	_ = report
}

// SyncNow runs one reconciliation pass immediately (spec.md §4.7
// "sync_now()").
func (m *Manager) SyncNow(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	defer func() {
		report.CompletedAt = time.Now().UTC()
		if report.Err != nil {
			report.ErrMsg = report.Err.Error()
		}
		m.recordHistory(report)
		if m.obs != nil {
			m.obs.Metrics.SyncDuration.Observe(report.CompletedAt.Sub(report.StartedAt).Seconds())
		}
	}()

	srcSnap, err := m.source.Snapshot(ctx)
	if err != nil {
		report.Err = err
		return report, err
	}
	destSnap, err := m.dest.Snapshot(ctx)
	if err != nil {
		report.Err = err
		return report, err
	}

	merged, conflicts, err := reconcile(srcSnap, destSnap, m.policy)
	if err != nil {
		report.Err = err
		return report, err
	}
	report.Conflicts = len(conflicts)
	for _, c := range conflicts {
		if m.obs != nil {
			m.obs.Metrics.SyncConflicts.WithLabelValues(string(m.policy)).Inc()
		}
		_ = c
	}

	if err := m.dest.ApplySnapshot(ctx, merged); err != nil {
		report.Err = err
		return report, err
	}
	if err := m.source.ApplySnapshot(ctx, merged); err != nil {
		report.Err = err
		return report, err
	}
	report.Applied = len(merged.Rules)
	report.Converged = true
	m.lastGood = report.CompletedAt

	if m.bus != nil {
		m.bus.Publish(eventbus.SyncCompleted, map[string]any{"applied": report.Applied, "conflicts": report.Conflicts})
	}
	return report, nil
}

// conflict describes one rule_id whose RuleState diverged between
// source and destination (spec.md §4.7 "Conflict detection").
type conflict struct {
	RuleID   string
	Resolved string // which side won: "source" | "destination" | "error"
}

// reconcile computes the merged snapshot both backends should adopt,
// applying policy to every rule_id present with divergent state on
// either side (Invariant I4: dual-backend convergence). Rule and state
// keys are unioned across src and dest — a rule known to only one side
// (e.g. not yet synced) still survives reconciliation instead of being
// dropped.
func reconcile(src, dest store.Snapshot, policy models.ConflictPolicy) (store.Snapshot, []conflict, error) {
	merged := store.Snapshot{
		SchemaVersion: src.SchemaVersion,
		WrittenAt:     src.WrittenAt,
		Rules:         make(map[string]models.Rule, len(src.Rules)+len(dest.Rules)),
		State:         make(map[string]models.RuleState, len(src.State)+len(dest.State)),
		UsageEvents:   mergeUsageEvents(src.UsageEvents, dest.UsageEvents),
		RunHistory:    src.RunHistory,
	}

	for id, rule := range src.Rules {
		merged.Rules[id] = rule
	}
	for id, rule := range dest.Rules {
		if _, ok := merged.Rules[id]; !ok {
			merged.Rules[id] = rule
		}
	}

	var conflicts []conflict
	for id := range merged.Rules {
		srcState, srcOK := src.State[id]
		destState, destOK := dest.State[id]
		switch {
		case !destOK:
			merged.State[id] = srcState
		case !srcOK:
			merged.State[id] = destState
		case srcState.Enabled == destState.Enabled && srcState.DisabledReason == destState.DisabledReason:
			merged.State[id] = srcState
		default:
			resolved, who, err := resolveConflict(srcState, destState, policy)
			if err != nil {
				return store.Snapshot{}, nil, corerr.New(corerr.ConflictUnresolvable, err, "rule %s state diverged under policy %s", id, policy)
			}
			merged.State[id] = resolved
			conflicts = append(conflicts, conflict{RuleID: id, Resolved: who})
		}
	}
	return merged, conflicts, nil
}

func resolveConflict(src, dest models.RuleState, policy models.ConflictPolicy) (models.RuleState, string, error) {
	switch policy {
	case models.PrimaryWins:
		return src, "source", nil
	case models.NewestTimestampWins:
		if dest.UpdatedAt.After(src.UpdatedAt) {
			return dest, "destination", nil
		}
		return src, "source", nil
	case models.FailOnConflict:
		return models.RuleState{}, "", corerr.New(corerr.ConflictUnresolvable, nil, "conflict resolution disabled by policy")
	default:
		return src, "source", nil
	}
}

func mergeUsageEvents(a, b []models.UsageEvent) []models.UsageEvent {
	out := make([]models.UsageEvent, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func (m *Manager) recordHistory(r Report) {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	m.history = append(m.history, r)
	if len(m.history) > 500 {
		m.history = m.history[len(m.history)-500:]
	}
	if m.historyLog != nil {
		if line, err := json.Marshal(r); err == nil {
			line = append(line, '\n')
			_, _ = m.historyLog.Write(line)
		}
	}
}

// CloseHistoryLog flushes and closes the file-backed sync history log,
// if one is configured. Safe to call when none is.
func (m *Manager) CloseHistoryLog() error {
	if m.historyLog == nil {
		return nil
	}
	return m.historyLog.Close()
}

// History returns the recorded sync reports, most recent last.
func (m *Manager) History() []Report {
	m.historyMu.RLock()
	defer m.historyMu.RUnlock()
	return append([]Report(nil), m.history...)
}

// HasConverged runs a SyncNow pass and reports whether it succeeded,
// converged and found no conflicts — satisfying factory.ConvergenceChecker so
// the Backend Factory can gate automatic recovery on it (spec.md §4.6).
func (m *Manager) HasConverged(ctx context.Context) bool {
	report, err := m.SyncNow(ctx)
	return err == nil && report.Converged && report.Conflicts == 0
}
