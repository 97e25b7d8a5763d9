package orchestrator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report pipeline activity.
type Metrics struct {
	phaseDuration *prometheus.HistogramVec
	phaseFailures *prometheus.CounterVec
	runsActive    prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. Collectors are created once to avoid
// duplicate-registration panics when several pipelines are constructed.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided
// registerer. Pass a fresh registry in tests that need unique collectors.
// Registration errors panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	phaseDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "opspilot",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Duration spent in each pipeline phase.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase", "status"},
	)
	phaseFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opspilot",
			Subsystem: "pipeline",
			Name:      "phase_failures_total",
			Help:      "Total number of phase executions that surfaced an agent error.",
		},
		[]string{"phase"},
	)
	runsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opspilot",
			Subsystem: "pipeline",
			Name:      "runs_active",
			Help:      "Number of diagnosis runs currently executing.",
		},
	)

	for _, collector := range []prometheus.Collector{phaseDuration, phaseFailures, runsActive} {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector.(type) {
				case *prometheus.HistogramVec:
					phaseDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					phaseFailures = already.ExistingCollector.(*prometheus.CounterVec)
				case prometheus.Gauge:
					runsActive = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		phaseDuration: phaseDuration,
		phaseFailures: phaseFailures,
		runsActive:    runsActive,
	}
}

// ObservePhaseDuration records the time spent in a phase.
func (m *Metrics) ObservePhaseDuration(phase, status string, duration time.Duration) {
	if m == nil || m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase, status).Observe(duration.Seconds())
}

// IncPhaseFailure counts a phase that surfaced an agent error.
func (m *Metrics) IncPhaseFailure(phase string) {
	if m == nil || m.phaseFailures == nil {
		return
	}
	m.phaseFailures.WithLabelValues(phase).Inc()
}

// IncActiveRuns marks a run as started.
func (m *Metrics) IncActiveRuns() {
	if m == nil || m.runsActive == nil {
		return
	}
	m.runsActive.Inc()
}

// DecActiveRuns marks a run as finished.
func (m *Metrics) DecActiveRuns() {
	if m == nil || m.runsActive == nil {
		return
	}
	m.runsActive.Dec()
}
