// Package metrics instruments scans with Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tokenaudit"

// Scan outcomes.
const (
	OutcomePublished = "published"
	OutcomeStale     = "stale"
	OutcomeFailed    = "failed"
)

// Metrics holds the collectors of one engine. Each instance owns its registry
// so several engines (and tests) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	scans        *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	phaseTime    *prometheus.HistogramVec
	violations   *prometheus.CounterVec
	stylesheets  *prometheus.CounterVec
	rules        prometheus.Counter
	denyListSize prometheus.Gauge
	generation   prometheus.Gauge
}

// New creates and registers the scan collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		scans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Total number of scans by outcome (published, stale, failed)",
			},
			[]string{"outcome"},
		),
		scanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Wall time of a scan from deny-list fetch to publication",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"outcome"},
		),
		phaseTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Time spent in each scan phase",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"phase"},
		),
		violations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "violations_total",
				Help:      "Violations published, by category",
			},
			[]string{"category"},
		),
		stylesheets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stylesheets_total",
				Help:      "Stylesheets seen by scans, by accessibility",
			},
			[]string{"status"},
		),
		rules: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_collected_total",
			Help:      "Style rules collected across all scans",
		}),
		denyListSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deny_list_entries",
			Help:      "Entries in the deny-list used by the latest scan",
		}),
		generation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "published_generation",
			Help:      "Generation of the latest published scan",
		}),
	}
}

// ObserveScan records a finished scan.
func (m *Metrics) ObserveScan(outcome string, d time.Duration) {
	m.scans.WithLabelValues(outcome).Inc()
	m.scanDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObservePhase records the time spent in one lifecycle phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.phaseTime.WithLabelValues(phase).Observe(d.Seconds())
}

// AddViolations counts published violations of a category.
func (m *Metrics) AddViolations(category string, n int) {
	m.violations.WithLabelValues(category).Add(float64(n))
}

// ObserveStylesheets counts accessible and inaccessible stylesheets.
func (m *Metrics) ObserveStylesheets(accessible, inaccessible int) {
	m.stylesheets.WithLabelValues("accessible").Add(float64(accessible))
	m.stylesheets.WithLabelValues("inaccessible").Add(float64(inaccessible))
}

// AddRules counts collected rules.
func (m *Metrics) AddRules(n int) {
	m.rules.Add(float64(n))
}

// SetDenyListSize records the size of the deny-list in use.
func (m *Metrics) SetDenyListSize(n int) {
	m.denyListSize.Set(float64(n))
}

// SetPublishedGeneration records the generation of the latest published scan.
func (m *Metrics) SetPublishedGeneration(g uint64) {
	m.generation.Set(float64(g))
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
