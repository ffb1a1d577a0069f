package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the automation collectors on a private registry.
type Metrics struct {
	registry          *prometheus.Registry
	ruleRuns          *prometheus.CounterVec
	ruleRunSeconds    *prometheus.HistogramVec
	ticksSkipped      prometheus.Counter
	apiRequests       *prometheus.CounterVec
	classifierRetries prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ruleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adpilot_rule_runs_total",
			Help: "Automation rule runs by rule type and final status.",
		}, []string{"rule_type", "status"}),
		ruleRunSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adpilot_rule_run_seconds",
			Help:    "Wall time of one automation rule run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"rule_type"}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adpilot_ticks_skipped_total",
			Help: "Scheduler ticks skipped because a previous tick was still running.",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adpilot_ads_api_requests_total",
			Help: "External API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		classifierRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adpilot_classifier_retries_total",
			Help: "Classifier calls retried after a transient failure.",
		}),
	}
	m.registry.MustRegister(
		m.ruleRuns,
		m.ruleRunSeconds,
		m.ticksSkipped,
		m.apiRequests,
		m.classifierRetries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRuleRun(ruleType string, status string, elapsed time.Duration) {
	m.ruleRuns.WithLabelValues(ruleType, status).Inc()
	m.ruleRunSeconds.WithLabelValues(ruleType).Observe(elapsed.Seconds())
}

func (m *Metrics) TickSkipped() { m.ticksSkipped.Inc() }

func (m *Metrics) ClassifierRetry() { m.classifierRetries.Inc() }

func (m *Metrics) ObserveAPIRequest(operation string, outcome string) {
	m.apiRequests.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
