// Package core implements the CoreHandle facade (spec.md §4 "Public
// API"): the single entry point an embedder opens to get a configured,
// running Constitution Rule Store and Validation Core — backends wired
// through the Backend Factory, kept convergent by the Sync Manager,
// validated by the Rule Registry/Dispatcher/Aggregator, and observed
// through one owned observability.Handle.
package core

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/zerouihq/constitution-core/internal/astcache"
	"github.com/zerouihq/constitution-core/internal/catalog"
	"github.com/zerouihq/constitution-core/internal/config"
	"github.com/zerouihq/constitution-core/internal/eventbus"
	"github.com/zerouihq/constitution-core/internal/factory"
	"github.com/zerouihq/constitution-core/internal/migrate"
	"github.com/zerouihq/constitution-core/internal/observability"
	"github.com/zerouihq/constitution-core/internal/store"
	"github.com/zerouihq/constitution-core/internal/store/document"
	"github.com/zerouihq/constitution-core/internal/store/relational"
	"github.com/zerouihq/constitution-core/internal/syncmgr"
	"github.com/zerouihq/constitution-core/internal/validate"
	"github.com/zerouihq/constitution-core/internal/validate/validators"
	"github.com/zerouihq/constitution-core/pkg/corerr"
	"github.com/zerouihq/constitution-core/pkg/models"
)

// CoreHandle is the embedder-facing facade (spec.md §4 "Public API").
type CoreHandle struct {
	cfg *models.Config
	obs *observability.Handle
	bus *eventbus.Bus

	factory *factory.Factory
	sync    *syncmgr.Manager
	migrate *migrate.Tool

	registry   *validate.Registry
	dispatcher *validate.Dispatcher
	ast        *astcache.Cache

	closers []func() error
}

// Options configures Open beyond what the config file covers: the
// filesystem the Document Backend writes through (afero.NewOsFs() in
// production, afero.NewMemMapFs() in tests) and the service name used
// to tag traces/metrics.
type Options struct {
	ConfigPath  string
	Fs          afero.Fs
	ServiceName string
}

// Open loads configuration, opens both backends, wires the Backend
// Factory/Sync Manager/Migration Tool/Validator Dispatcher together, and
// starts the background sync and recovery-probe loops (spec.md §4.9
// "open(config)").
func Open(ctx context.Context, opt Options) (*CoreHandle, error) {
	cfg, err := config.Load(opt.ConfigPath)
	if err != nil {
		return nil, err
	}

	serviceName := opt.ServiceName
	if serviceName == "" {
		serviceName = "constitution-core"
	}
	obs, err := observability.New(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	fs := opt.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	h := &CoreHandle{cfg: cfg, obs: obs}
	h.bus = eventbus.New(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	h.closers = append(h.closers, func() error { h.bus.Stop(); return nil })

	backends, err := openBackends(ctx, cfg, fs)
	if err != nil {
		return nil, err
	}
	for _, b := range backends {
		b := b
		h.closers = append(h.closers, b.Close)
	}

	primary := backends[cfg.PrimaryBackend]
	if primary == nil {
		return nil, corerr.New(corerr.ConfigInvalid, nil, "no backend opened for primary_backend %q", cfg.PrimaryBackend)
	}
	fallback := backends[cfg.FallbackBackend]

	h.factory = factory.New(ctx, factory.Options{
		Primary:      primary,
		PrimaryKind:  cfg.PrimaryBackend,
		Fallback:     fallback,
		FallbackKind: cfg.FallbackBackend,
		AutoFallback: cfg.AutoFallbackEnabled,
		Bus:          h.bus,
		Obs:          obs,
	})

	if fallback != nil && cfg.SyncEnabled {
		h.sync = syncmgr.New(syncmgr.Options{
			Source:         primary,
			Dest:           fallback,
			Policy:         cfg.ConflictResolutionPolicy,
			Bus:            h.bus,
			Obs:            obs,
			Interval:       time.Duration(cfg.SyncIntervalSeconds) * time.Second,
			HistoryLogPath: cfg.SyncHistoryLogPath,
		})
		h.factory.SetConvergenceChecker(h.sync)
		h.sync.Start(ctx)
		h.closers = append(h.closers, func() error { h.sync.Stop(); return h.sync.CloseHistoryLog() })
	}
	h.factory.StartProbing(ctx)
	h.closers = append(h.closers, func() error { h.factory.Stop(); return nil })

	h.migrate = migrate.New(h.bus)

	ac, err := astcache.New(0, obs)
	if err != nil {
		return nil, err
	}
	h.ast = ac

	h.registry = validate.NewRegistry()
	for _, v := range validators.All() {
		h.registry.Register(v)
	}
	h.dispatcher = validate.NewDispatcher(h.registry, 0, obs, h.ast)

	if cfg.CatalogDir != "" {
		if err := h.ReloadCatalog(ctx); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func openBackends(ctx context.Context, cfg *models.Config, fs afero.Fs) (map[models.BackendKind]store.Backend, error) {
	out := make(map[models.BackendKind]store.Backend, 2)
	needed := map[models.BackendKind]bool{cfg.PrimaryBackend: true}
	if cfg.FallbackBackend != "" {
		needed[cfg.FallbackBackend] = true
	}

	if needed[models.BackendRelational] {
		rb, err := relational.Open(ctx, relational.Options{
			Path:          cfg.RelationalConfig.Path,
			BusyTimeoutMs: cfg.RelationalConfig.BusyTimeoutMs,
			UseWAL:        cfg.RelationalConfig.UseWAL,
			PoolSize:      cfg.RelationalConfig.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		out[models.BackendRelational] = rb
	}
	if needed[models.BackendDocument] {
		out[models.BackendDocument] = document.New(fs, cfg.DocumentConfig.Path, cfg.DocumentConfig.BackupRetention)
	}
	return out, nil
}

// Close shuts down background loops and closes both backends, in
// reverse of the order they were started.
func (h *CoreHandle) Close(ctx context.Context) error {
	var first error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	if err := h.obs.Close(ctx); err != nil && first == nil {
		first = err
	}
	return first
}

// ReloadCatalog re-reads cfg.CatalogDir and loads the result into both
// backends (spec.md §4.1, §4.9 "reload_catalog()").
func (h *CoreHandle) ReloadCatalog(ctx context.Context) error {
	cat, err := catalog.Load(h.cfg.CatalogDir)
	if err != nil {
		return err
	}
	return h.factory.LoadCatalog(ctx, cat.Rules)
}

func (h *CoreHandle) GetRule(ctx context.Context, id string) (models.RuleRecord, error) {
	return h.factory.GetRule(ctx, id)
}

func (h *CoreHandle) ListRules(ctx context.Context, filter store.Filter) ([]models.RuleRecord, error) {
	return h.factory.ListRules(ctx, filter)
}

func (h *CoreHandle) Enable(ctx context.Context, id string) (models.RuleState, error) {
	state, err := h.factory.Enable(ctx, id)
	h.afterWrite(ctx)
	return state, err
}

func (h *CoreHandle) Disable(ctx context.Context, id, reason string) (models.RuleState, error) {
	state, err := h.factory.Disable(ctx, id, reason)
	h.afterWrite(ctx)
	return state, err
}

func (h *CoreHandle) BulkSet(ctx context.Context, updates []store.Update) (int, error) {
	n, err := h.factory.BulkSet(ctx, updates)
	h.afterWrite(ctx)
	return n, err
}

func (h *CoreHandle) Statistics(ctx context.Context) (store.Stats, error) {
	return h.factory.Statistics(ctx)
}

// afterWrite schedules the Sync Manager's on-write push (spec.md §4.7
// "On-write push") after a mutating factory call, if sync is enabled.
func (h *CoreHandle) afterWrite(ctx context.Context) {
	if h.sync != nil {
		go h.sync.OnWrite(context.WithoutCancel(ctx))
	}
}

// SyncNow triggers an immediate reconciliation pass (spec.md §4.7
// "sync_now()").
func (h *CoreHandle) SyncNow(ctx context.Context) (syncmgr.Report, error) {
	if h.sync == nil {
		return syncmgr.Report{}, corerr.New(corerr.ConfigInvalid, nil, "sync_now() called with no fallback backend/sync disabled")
	}
	return h.sync.SyncNow(ctx)
}

// Migrate copies source's full content to destination via the Migration
// Tool (spec.md §4.8).
func (h *CoreHandle) Migrate(ctx context.Context, sourceKind, destKind models.BackendKind) (migrate.Record, error) {
	backends := map[models.BackendKind]store.Backend{
		h.cfg.PrimaryBackend:  h.factory.Primary(),
		h.cfg.FallbackBackend: h.factory.Fallback(),
	}
	source, destination := backends[sourceKind], backends[destKind]
	if source == nil || destination == nil {
		return migrate.Record{}, corerr.New(corerr.ConfigInvalid, nil, "migrate: unknown backend kind pair (%s, %s)", sourceKind, destKind)
	}
	return h.migrate.Migrate(ctx, source, destination, sourceKind, destKind)
}

// ValidationRequest names the files to validate and the minimum
// severity to keep in the resulting ValidationRun (spec.md §4.2, §4.12).
type ValidationRequest struct {
	Paths       []string
	MinSeverity models.Severity
}

// Validate reads every path, runs every enabled rule whose validator_hint
// has a registered Validator, and returns an aggregated ValidationRun
// (spec.md §4.2 "H1"-"H4").
func (h *CoreHandle) Validate(ctx context.Context, fs afero.Fs, req ValidationRequest) (models.ValidationRun, error) {
	startedAt := time.Now().UTC()
	records, err := h.factory.ListRules(ctx, store.Filter{Enabled: boolPtr(true)})
	if err != nil {
		return models.ValidationRun{}, err
	}
	rules := make([]models.Rule, 0, len(records))
	for _, r := range records {
		rules = append(rules, r.Rule)
	}

	files := make([]validate.File, 0, len(req.Paths))
	for _, p := range req.Paths {
		content, err := afero.ReadFile(fs, p)
		if err != nil {
			return models.ValidationRun{}, corerr.New(corerr.InvalidInput, err, "read validation target %s", p)
		}
		files = append(files, validate.File{Path: p, Content: content})
	}

	findings, err := h.dispatcher.Run(ctx, files, rules)
	if err != nil {
		return models.ValidationRun{}, err
	}

	run := validate.Aggregate(findings, req.MinSeverity)
	run.StartedAt = startedAt
	run.CompletedAt = time.Now().UTC()
	run.FileCount = len(files)
	run.BackendUsed = h.factory.Active()
	run.Degraded = run.BackendUsed != h.cfg.PrimaryBackend

	if h.bus != nil {
		h.bus.Publish(eventbus.ValidationRunCompleted, map[string]any{"finding_count": run.FindingCount})
	}
	if h.obs != nil {
		for _, f := range run.Findings {
			h.obs.Metrics.FindingsTotal.WithLabelValues(f.RuleID, string(f.Severity)).Inc()
		}
		h.obs.Metrics.ValidationDuration.WithLabelValues(string(run.BackendUsed)).Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())
		h.obs.Metrics.RunsTotal.WithLabelValues(string(run.BackendUsed), boolLabel(run.Degraded)).Inc()
	}
	return run, nil
}

// Subscribe registers handler for the given event kind (spec.md §4.10).
func (h *CoreHandle) Subscribe(kind eventbus.Kind, handler eventbus.Handler) {
	h.bus.Subscribe(kind, handler)
}

func boolPtr(b bool) *bool { return &b }

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
