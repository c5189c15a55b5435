package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/streakwatch/internal/model"
)

const metricsNamespace = "streakwatch"

// Metrics records monitor run results on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	runs             *prometheus.CounterVec
	failures         *prometheus.CounterVec
	runDuration      prometheus.Histogram
	lastCount        prometheus.Gauge
	lastRun          prometheus.Gauge
	remainingMinutes prometheus.Gauge
}

// NewMetrics creates the run metrics and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "runs_total",
			Help:      "Number of monitor runs, labeled by outcome status.",
		}, []string{"status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "failures_total",
			Help:      "Number of failed monitor runs, labeled by failure kind.",
		}, []string{"kind"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single monitor run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		lastCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "last_contribution_count",
			Help:      "Contribution count reported by the most recent successful query.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix timestamp of the most recent monitor run.",
		}),
		remainingMinutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "minutes_remaining",
			Help:      "Minutes left in the UTC day at the most recent zero-count decision.",
		}),
	}
	m.registry.MustRegister(m.runs, m.failures, m.runDuration, m.lastCount, m.lastRun, m.remainingMinutes)
	return m
}

// Observe records the result of one run. Safe on a nil receiver.
func (m *Metrics) Observe(o model.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.runs.WithLabelValues(string(o.Status)).Inc()
	m.runDuration.Observe(elapsed.Seconds())

	ts := o.CheckedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	m.lastRun.Set(float64(ts.Unix()))

	switch o.Status {
	case model.OutcomeFailure:
		kind := model.FailureKind("unknown")
		if o.Failure != nil {
			kind = o.Failure.Kind
		}
		m.failures.WithLabelValues(string(kind)).Inc()
	default:
		m.lastCount.Set(float64(o.Count))
	}

	if o.Remaining != nil {
		m.remainingMinutes.Set(float64(o.Remaining.Hours*60 + o.Remaining.Minutes))
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
