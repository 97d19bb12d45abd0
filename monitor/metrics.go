package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	cycles            *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	generationErrors  prometheus.Counter
	notifications     *prometheus.CounterVec
	sensorsUnreadable prometheus.Counter
	parameterStatus   *prometheus.GaugeVec
	lastCycle         prometheus.Gauge
}

// NewMetrics creates the analyzer metrics and registers them with reg. A
// nil registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aquarium_analysis_cycles_total",
			Help: "Total analysis cycles by trigger source and whether generated text was available.",
		}, []string{"source", "ai"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aquarium_analysis_duration_seconds",
			Help:    "Histogram of analysis cycle durations.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		generationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aquarium_generation_errors_total",
			Help: "Total failed text generation requests.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aquarium_notifications_total",
			Help: "Total notifications by outcome.",
		}, []string{"outcome"}),
		sensorsUnreadable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aquarium_sensor_read_skipped_total",
			Help: "Total sensor reads skipped because the entity was missing or unavailable.",
		}),
		parameterStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aquarium_parameter_problem",
			Help: "1 when the last classification of a parameter was a problem, 0 otherwise.",
		}, []string{"parameter"}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aquarium_last_analysis_timestamp_seconds",
			Help: "Unix time of the last completed analysis cycle.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.cycles,
			m.cycleDuration,
			m.generationErrors,
			m.notifications,
			m.sensorsUnreadable,
			m.parameterStatus,
			m.lastCycle,
		)
	}

	return m
}
