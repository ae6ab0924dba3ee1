package factory

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerouihq/constitution-core/internal/eventbus"
	"github.com/zerouihq/constitution-core/internal/observability"
	"github.com/zerouihq/constitution-core/internal/store"
	"github.com/zerouihq/constitution-core/internal/store/document"
	"github.com/zerouihq/constitution-core/pkg/corerr"
	"github.com/zerouihq/constitution-core/pkg/models"
)

// faultyBackend wraps a real store.Backend and lets a test force its
// Health() result and make GetRule fail with a backend fault, to drive
// open-time routing and mid-run failover without a real outage.
type faultyBackend struct {
	store.Backend
	health      store.HealthStatus
	failGetRule bool
}

func (f *faultyBackend) Health(context.Context) store.HealthStatus { return f.health }

func (f *faultyBackend) GetRule(ctx context.Context, id string) (models.RuleRecord, error) {
	if f.failGetRule {
		return models.RuleRecord{}, corerr.New(corerr.BackendUnavailable, nil, "forced outage")
	}
	return f.Backend.GetRule(ctx, id)
}

func sampleRule(id string) models.Rule {
	return models.Rule{RuleID: id, Title: "t", Category: "security", Severity: models.SeverityMajor, Version: "1.0.0", EnabledDefault: true}
}

func newTestFactory(t *testing.T) (*Factory, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	primary := document.New(fs, "/primary/rules.json", 2)
	fallback := document.New(fs, "/fallback/rules.json", 2)
	obs, err := observability.New(context.Background(), "test")
	require.NoError(t, err)
	bus := eventbus.New(slog.Default())
	t.Cleanup(bus.Stop)

	f := New(context.Background(), Options{
		Primary:      primary,
		PrimaryKind:  models.BackendRelational,
		Fallback:     fallback,
		FallbackKind: models.BackendDocument,
		AutoFallback: true,
		Bus:          bus,
		Obs:          obs,
	})
	return f, fs
}

func TestFactory_RoutesToActivePrimary(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	require.NoError(t, f.LoadCatalog(ctx, []models.Rule{sampleRule("R-1")}))

	rec, err := f.GetRule(ctx, "R-1")
	require.NoError(t, err)
	assert.Equal(t, "R-1", rec.Rule.RuleID)
	assert.Equal(t, models.BackendRelational, f.Active())
}

func TestFactory_NoFailoverOnPrimaryNotFound(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	require.NoError(t, f.LoadCatalog(ctx, []models.Rule{sampleRule("R-1")}))

	// NotFound is not a backend fault, so no failover should occur.
	_, err := f.GetRule(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, models.BackendRelational, f.Active())
}

func TestFactory_EnableDisable(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	require.NoError(t, f.LoadCatalog(ctx, []models.Rule{sampleRule("R-1")}))

	_, err := f.Disable(ctx, "R-1", "noisy")
	require.NoError(t, err)

	rec, err := f.GetRule(ctx, "R-1")
	require.NoError(t, err)
	assert.False(t, rec.State.Enabled)
}

func TestFactory_OpenTimeRouting_FallsBackWhenPrimaryStartsUnhealthy(t *testing.T) {
	fs := afero.NewMemMapFs()
	primary := &faultyBackend{Backend: document.New(fs, "/primary/rules.json", 2), health: store.HealthStatus{State: store.Unhealthy, Reason: "forced"}}
	fallback := document.New(fs, "/fallback/rules.json", 2)
	obs, err := observability.New(context.Background(), "test")
	require.NoError(t, err)
	bus := eventbus.New(slog.Default())
	t.Cleanup(bus.Stop)

	var mu sync.Mutex
	var events []eventbus.Event
	bus.Subscribe(eventbus.BackendSwitched, func(ev eventbus.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	f := New(context.Background(), Options{
		Primary:      primary,
		PrimaryKind:  models.BackendRelational,
		Fallback:     fallback,
		FallbackKind: models.BackendDocument,
		AutoFallback: true,
		Bus:          bus,
		Obs:          obs,
	})

	assert.Equal(t, models.BackendDocument, f.Active())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 200*time.Millisecond, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, string(models.BackendRelational), events[0].Data["from"])
	assert.Equal(t, string(models.BackendDocument), events[0].Data["to"])
}

func TestFactory_FailoverOnActiveBackendOutage(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	primary := &faultyBackend{Backend: document.New(fs, "/primary/rules.json", 2), health: store.HealthStatus{State: store.Healthy}}
	fallback := document.New(fs, "/fallback/rules.json", 2)
	obs, err := observability.New(ctx, "test")
	require.NoError(t, err)
	bus := eventbus.New(slog.Default())
	t.Cleanup(bus.Stop)

	var mu sync.Mutex
	var events []eventbus.Event
	bus.Subscribe(eventbus.BackendSwitched, func(ev eventbus.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	f := New(ctx, Options{
		Primary:      primary,
		PrimaryKind:  models.BackendRelational,
		Fallback:     fallback,
		FallbackKind: models.BackendDocument,
		AutoFallback: true,
		Bus:          bus,
		Obs:          obs,
	})
	require.NoError(t, f.LoadCatalog(ctx, []models.Rule{sampleRule("R-1")}))
	require.Equal(t, models.BackendRelational, f.Active())

	primary.failGetRule = true
	rec, err := f.GetRule(ctx, "R-1")
	require.NoError(t, err) // routed to fallback transparently
	assert.Equal(t, "R-1", rec.Rule.RuleID)
	assert.Equal(t, models.BackendDocument, f.Active())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, 200*time.Millisecond, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, string(models.BackendRelational), events[0].Data["from"])
	assert.Equal(t, string(models.BackendDocument), events[0].Data["to"])
	mu.Unlock()

	// a second fault while already on fallback must not emit a duplicate switch
	rec, err = f.GetRule(ctx, "R-1")
	require.NoError(t, err)
	assert.Equal(t, "R-1", rec.Rule.RuleID)

	mu.Lock()
	assert.Len(t, events, 1)
	mu.Unlock()
}

func TestFactory_BulkSetAndStatistics(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(t)
	require.NoError(t, f.LoadCatalog(ctx, []models.Rule{sampleRule("R-1"), sampleRule("R-2")}))

	n, err := f.BulkSet(ctx, []store.Update{{RuleID: "R-1", Enabled: false, Reason: "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := f.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Disabled)
}
