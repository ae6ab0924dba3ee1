// Package factory implements the Backend Factory (spec.md §4.6): it
// holds the primary and fallback backends, routes operations to the
// currently healthy one, retries once on the alternate backend on
// failure, and runs a background probe to recover the primary once the
// Sync Manager reports convergence.
package factory

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zerouihq/constitution-core/internal/eventbus"
	"github.com/zerouihq/constitution-core/internal/observability"
	"github.com/zerouihq/constitution-core/internal/store"
	"github.com/zerouihq/constitution-core/pkg/corerr"
	"github.com/zerouihq/constitution-core/pkg/fsm"
	"github.com/zerouihq/constitution-core/pkg/models"
)

// ConvergenceChecker reports whether the fallback backend's content has
// converged with the primary, gating automatic recovery (spec.md §4.6
// "Recovery"). The Sync Manager implements this.
type ConvergenceChecker interface {
	HasConverged(ctx context.Context) bool
}

// Factory selects between a primary and fallback store.Backend based on
// health, and emits BackendSwitched events on every failover/recovery.
type Factory struct {
	mu             sync.RWMutex
	primary        store.Backend
	primaryKind    models.BackendKind
	fallback       store.Backend
	fallbackKind   models.BackendKind
	autoFallback   bool
	active         models.BackendKind
	fsms           map[models.BackendKind]*fsm.BackendLifecycleFSM
	bus            *eventbus.Bus
	obs            *observability.Handle
	convergence    ConvergenceChecker
	probeInterval  time.Duration
	probeBackoff   *backoff.ExponentialBackOff
	stopProbe      context.CancelFunc
}

// Options configures a Factory.
type Options struct {
	Primary       store.Backend
	PrimaryKind   models.BackendKind
	Fallback      store.Backend
	FallbackKind  models.BackendKind
	AutoFallback  bool
	Bus           *eventbus.Bus
	Obs           *observability.Handle
	ProbeInterval time.Duration
}

// New builds a Factory, running the open-time routing rule (spec.md
// §4.6 "Routing Rule 1/2"): health() is checked on the primary; if it
// is Unhealthy and auto-fallback is enabled, the fallback is activated
// immediately instead of waiting for the first failed operation, and a
// BackendSwitched event is emitted.
func New(ctx context.Context, opt Options) *Factory {
	interval := opt.ProbeInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = interval
	eb.MaxInterval = interval * 10
	eb.Multiplier = 2

	f := &Factory{
		primary:       opt.Primary,
		primaryKind:   opt.PrimaryKind,
		fallback:      opt.Fallback,
		fallbackKind:  opt.FallbackKind,
		autoFallback:  opt.AutoFallback,
		active:        opt.PrimaryKind,
		bus:           opt.Bus,
		obs:           opt.Obs,
		probeInterval: interval,
		probeBackoff:  eb,
		fsms: map[models.BackendKind]*fsm.BackendLifecycleFSM{
			opt.PrimaryKind:  fsm.NewBackendLifecycleFSM(string(opt.PrimaryKind)),
			opt.FallbackKind: fsm.NewBackendLifecycleFSM(string(opt.FallbackKind)),
		},
	}

	if f.primary != nil {
		health := f.primary.Health(ctx)
		if health.State == store.Unhealthy {
			f.mu.Lock()
			_ = f.fsms[opt.PrimaryKind].Transition(fsm.EventHealthCheckFailed)
			if f.autoFallback && f.fallback != nil {
				f.switchTo(opt.FallbackKind)
			}
			f.mu.Unlock()
		}
	}
	return f
}

// SetConvergenceChecker wires the Sync Manager in after both are
// constructed, avoiding an import cycle between factory and syncmgr.
func (f *Factory) SetConvergenceChecker(c ConvergenceChecker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convergence = c
}

// StartProbing launches the background recovery probe (spec.md §4.6
// "Recovery"). The delay between probes backs off exponentially while
// the primary stays unreachable, so a long outage doesn't spend cycles
// hammering a backend that isn't coming back soon, and resets to
// probeInterval the moment the primary is serving again. Call Stop to
// halt it.
func (f *Factory) StartProbing(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.stopProbe = cancel
	go func() {
		timer := time.NewTimer(f.probeInterval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				recovered := f.probe(ctx)
				if recovered {
					f.probeBackoff.Reset()
					timer.Reset(f.probeInterval)
				} else {
					timer.Reset(f.probeBackoff.NextBackOff())
				}
			}
		}
	}()
}

// Stop halts the background probe.
func (f *Factory) Stop() {
	if f.stopProbe != nil {
		f.stopProbe()
	}
}

// probe checks whether the primary has recovered and, if the Sync
// Manager reports convergence, switches back to it. It returns true
// once the primary is active again (signalling the backoff should
// reset), false while the outage continues.
func (f *Factory) probe(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active == f.primaryKind {
		return true // primary already serving, nothing to recover
	}
	primaryFSM := f.fsms[f.primaryKind]
	if primaryFSM.State() != fsm.BackendProbing && primaryFSM.State() != fsm.BackendUnhealthy {
		return false
	}

	health := f.primary.Health(ctx)
	if health.State == store.Unhealthy {
		_ = primaryFSM.Transition(fsm.EventProbeFailed)
		return false
	}
	_ = primaryFSM.Transition(fsm.EventProbePassed)

	if f.convergence == nil || f.convergence.HasConverged(ctx) {
		_ = primaryFSM.Transition(fsm.EventSyncConverged)
		f.switchTo(f.primaryKind)
		return true
	}
	return false
}

// switchTo must be called with f.mu held.
func (f *Factory) switchTo(kind models.BackendKind) {
	if f.active == kind {
		return
	}
	from := f.active
	f.active = kind
	if f.bus != nil {
		f.bus.Publish(eventbus.BackendSwitched, map[string]any{"from": string(from), "to": string(kind)})
	}
	if f.obs != nil {
		f.obs.Metrics.BackendSwitches.WithLabelValues(string(from), string(kind)).Inc()
		f.obs.Log.Warn(context.Background(), "backend factory: switched active backend from %s to %s", from, kind)
	}
}

func (f *Factory) current() (store.Backend, models.BackendKind) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.active == f.primaryKind {
		return f.primary, f.primaryKind
	}
	return f.fallback, f.fallbackKind
}

func (f *Factory) alternate(kind models.BackendKind) (store.Backend, models.BackendKind) {
	if kind == f.primaryKind {
		return f.fallback, f.fallbackKind
	}
	return f.primary, f.primaryKind
}

// markUnhealthy feeds EventHealthCheckFailed to the given backend's FSM
// (Healthy moves to Probing) and, if auto-fallback is enabled, switches
// active traffic to the other one.
func (f *Factory) markUnhealthy(kind models.BackendKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.fsms[kind].Transition(fsm.EventHealthCheckFailed)
	if f.autoFallback && f.active == kind {
		other := f.fallbackKind
		if kind == f.fallbackKind {
			other = f.primaryKind
		}
		f.switchTo(other)
	}
}

// withFailover runs op against the active backend; on BackendUnavailable
// or BackendCorrupt it retries once on the alternate backend and marks
// the active one unhealthy (spec.md §4.6 "Failover").
func withFailover[T any](f *Factory, ctx context.Context, op func(store.Backend) (T, error)) (T, error) {
	var zero T
	active, activeKind := f.current()
	result, err := op(active)
	if err == nil {
		return result, nil
	}
	if !isBackendFault(err) {
		return zero, err
	}

	f.markUnhealthy(activeKind)
	alt, _ := f.alternate(activeKind)
	if alt == nil {
		return zero, err
	}
	return op(alt)
}

func isBackendFault(err error) bool {
	ce, ok := err.(*corerr.CoreError)
	if !ok {
		return false
	}
	return ce.Kind == corerr.BackendUnavailable || ce.Kind == corerr.BackendCorrupt
}

func (f *Factory) GetRule(ctx context.Context, id string) (models.RuleRecord, error) {
	return withFailover(f, ctx, func(b store.Backend) (models.RuleRecord, error) { return b.GetRule(ctx, id) })
}

func (f *Factory) ListRules(ctx context.Context, filter store.Filter) ([]models.RuleRecord, error) {
	return withFailover(f, ctx, func(b store.Backend) ([]models.RuleRecord, error) { return b.ListRules(ctx, filter) })
}

func (f *Factory) Enable(ctx context.Context, id string) (models.RuleState, error) {
	prior, err := withFailover(f, ctx, func(b store.Backend) (models.RuleState, error) { return b.Enable(ctx, id) })
	if err == nil && f.bus != nil {
		f.bus.Publish(eventbus.RuleEnabled, map[string]any{"rule_id": id})
	}
	return prior, err
}

func (f *Factory) Disable(ctx context.Context, id, reason string) (models.RuleState, error) {
	prior, err := withFailover(f, ctx, func(b store.Backend) (models.RuleState, error) { return b.Disable(ctx, id, reason) })
	if err == nil && f.bus != nil {
		f.bus.Publish(eventbus.RuleDisabled, map[string]any{"rule_id": id, "reason": reason})
	}
	return prior, err
}

func (f *Factory) BulkSet(ctx context.Context, updates []store.Update) (int, error) {
	return withFailover(f, ctx, func(b store.Backend) (int, error) { return b.BulkSet(ctx, updates) })
}

func (f *Factory) Statistics(ctx context.Context) (store.Stats, error) {
	return withFailover(f, ctx, func(b store.Backend) (store.Stats, error) { return b.Statistics(ctx) })
}

func (f *Factory) RecordEvent(ctx context.Context, event models.UsageEvent) error {
	_, err := withFailover(f, ctx, func(b store.Backend) (struct{}, error) { return struct{}{}, b.RecordEvent(ctx, event) })
	return err
}

func (f *Factory) LoadCatalog(ctx context.Context, rules []models.Rule) error {
	f.mu.RLock()
	primary, fallback := f.primary, f.fallback
	f.mu.RUnlock()
	if err := primary.LoadCatalog(ctx, rules); err != nil {
		return err
	}
	if fallback != nil {
		return fallback.LoadCatalog(ctx, rules)
	}
	return nil
}

// Active returns which backend kind is currently serving traffic.
func (f *Factory) Active() models.BackendKind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

// Primary and Fallback expose the underlying backends for components
// that need direct access (the Sync Manager and Migration Tool).
func (f *Factory) Primary() store.Backend  { return f.primary }
func (f *Factory) Fallback() store.Backend { return f.fallback }
