package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of Prometheus collectors the core maintains,
// registered against an owned *prometheus.Registry (spec.md §9: never
// the global default registry, so an embedder can mount it — or not —
// on whatever HTTP surface it runs, without the core reaching for one
// itself).
type Metrics struct {
	Registry *prometheus.Registry

	ValidationDuration *prometheus.HistogramVec
	FindingsTotal      *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	BackendSwitches    *prometheus.CounterVec
	SyncDuration       prometheus.Histogram
	SyncConflicts      *prometheus.CounterVec
	RulesActive        *prometheus.GaugeVec
	ASTCacheHits       prometheus.Counter
	ASTCacheMisses     prometheus.Counter
}

// NewMetrics builds and registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ValidationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "constitution_validation_duration_seconds",
			Help:    "Time taken to validate one file against the active rule set",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"backend"}),
		FindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "constitution_findings_total",
			Help: "Total findings emitted, by rule and severity",
		}, []string{"rule_id", "severity"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "constitution_validation_runs_total",
			Help: "Total validation runs, by backend used and degraded status",
		}, []string{"backend", "degraded"}),
		BackendSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "constitution_backend_switches_total",
			Help: "Total backend factory failover/recovery transitions",
		}, []string{"from", "to"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "constitution_sync_duration_seconds",
			Help:    "Time taken by a sync reconciliation pass",
			Buckets: prometheus.DefBuckets,
		}),
		SyncConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "constitution_sync_conflicts_total",
			Help: "Total conflicts detected during sync, by resolution",
		}, []string{"resolution"}),
		RulesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "constitution_rules_active",
			Help: "Number of currently enabled rules, by backend",
		}, []string{"backend"}),
		ASTCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "constitution_ast_cache_hits_total",
			Help: "AST cache hits",
		}),
		ASTCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "constitution_ast_cache_misses_total",
			Help: "AST cache misses",
		}),
	}

	reg.MustRegister(
		m.ValidationDuration, m.FindingsTotal, m.RunsTotal, m.BackendSwitches,
		m.SyncDuration, m.SyncConflicts, m.RulesActive, m.ASTCacheHits, m.ASTCacheMisses,
	)
	return m
}
