// Package metrics exposes Prometheus collectors for rendering, toolbox
// assembly, template caching and the data model. A nil *Metrics is valid and
// records nothing, so components can be used without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "viewtools"

// Render outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error_template"
	OutcomeFallback = "fallback"
)

// Metrics groups every collector viewtools exports.
type Metrics struct {
	Renders         *prometheus.CounterVec
	RenderDuration  prometheus.Histogram
	ToolboxBuilds   *prometheus.CounterVec
	ToolFailures    *prometheus.CounterVec
	TemplateCache   *prometheus.CounterVec
	Statements      *prometheus.CounterVec
	StatementErrors *prometheus.CounterVec
	Connections     *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Requests rendered, by outcome.",
		}, []string{"outcome"}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent rendering a request, error path included.",
			Buckets:   prometheus.DefBuckets,
		}),
		ToolboxBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toolbox_builds_total",
			Help:      "Scoped tool sets built, by scope.",
		}, []string{"scope"}),
		ToolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_failures_total",
			Help:      "Tools skipped because they could not be built, by scope.",
		}, []string{"scope"}),
		TemplateCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "template_cache_events_total",
			Help:      "Template cache hits, misses and evictions.",
		}, []string{"event"}),
		Statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_statements_total",
			Help:      "Data model statements executed, by attribute kind.",
		}, []string{"kind"}),
		StatementErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_statement_errors_total",
			Help:      "Data model statements that failed, by attribute kind.",
		}, []string{"kind"}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_connections",
			Help:      "Pooled database connections, by state.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Renders, m.RenderDuration, m.ToolboxBuilds, m.ToolFailures,
			m.TemplateCache, m.Statements, m.StatementErrors, m.Connections,
		)
	}
	return m
}

// ObserveRender records one rendered request.
func (m *Metrics) ObserveRender(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Renders.WithLabelValues(outcome).Inc()
	m.RenderDuration.Observe(d.Seconds())
}

// ToolboxBuilt records a scoped tool set build.
func (m *Metrics) ToolboxBuilt(scope string) {
	if m == nil {
		return
	}
	m.ToolboxBuilds.WithLabelValues(scope).Inc()
}

// ToolFailed records a tool skipped during assembly.
func (m *Metrics) ToolFailed(scope string) {
	if m == nil {
		return
	}
	m.ToolFailures.WithLabelValues(scope).Inc()
}

// CacheEvent records a template cache hit, miss or eviction.
func (m *Metrics) CacheEvent(event string) {
	if m == nil {
		return
	}
	m.TemplateCache.WithLabelValues(event).Inc()
}

// StatementExecuted records a data model statement and whether it failed.
func (m *Metrics) StatementExecuted(kind string, err error) {
	if m == nil {
		return
	}
	m.Statements.WithLabelValues(kind).Inc()
	if err != nil {
		m.StatementErrors.WithLabelValues(kind).Inc()
	}
}

// SetConnections publishes pool occupancy.
func (m *Metrics) SetConnections(open, inUse int) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues("open").Set(float64(open))
	m.Connections.WithLabelValues("in_use").Set(float64(inUse))
}
