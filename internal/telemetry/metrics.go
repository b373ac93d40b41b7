// Package telemetry exports calibration progress as Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/episim-calibrate/internal/objective"
	"github.com/copyleftdev/episim-calibrate/internal/optimization"
)

const namespace = "episim_calibration"

const exitCodeAttr = objective.AttrExitCode

// Metrics holds the live trial metrics of this process in its own registry.
type Metrics struct {
	registry *prometheus.Registry

	trials    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	bestValue *prometheus.GaugeVec
	lastValue *prometheus.GaugeVec
	exitCodes *prometheus.CounterVec
}

// New creates the metrics and registers them together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Finished trials by study and state.",
		}, []string{"study", "state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trial_duration_seconds",
			Help:      "Wall time of a trial including the simulation run.",
			// Simulations take minutes to hours.
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"study"}),
		bestValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_value",
			Help:      "Lowest objective value of the study.",
		}, []string{"study"}),
		lastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_value",
			Help:      "Objective value of the latest completed trial.",
		}, []string{"study"}),
		exitCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_exits_total",
			Help:      "Simulation runs by exit code.",
		}, []string{"study", "exit_code"}),
	}
	m.registry.MustRegister(
		m.trials,
		m.duration,
		m.bestValue,
		m.lastValue,
		m.exitCodes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe records a finished trial of study.
func (m *Metrics) Observe(study string, trial optimization.TrialRecord) {
	m.trials.WithLabelValues(study, string(trial.State)).Inc()
	m.duration.WithLabelValues(study).Observe(trial.Duration().Seconds())
	if trial.Value != nil {
		m.lastValue.WithLabelValues(study).Set(*trial.Value)
	}
	if code, ok := exitCode(trial.UserAttrs[exitCodeAttr]); ok {
		m.exitCodes.WithLabelValues(study, code).Inc()
	}
}

// SetBest records the best value of study.
func (m *Metrics) SetBest(study string, value float64) {
	m.bestValue.WithLabelValues(study).Set(value)
}

// Callback returns a study callback that feeds every finished trial into
// the metrics.
func (m *Metrics) Callback() optimization.Callback {
	return func(study *optimization.Study, trial optimization.TrialRecord) {
		m.Observe(study.Name(), trial)
		if best, err := study.BestTrial(); err == nil {
			m.SetBest(study.Name(), *best.Value)
		}
	}
}
