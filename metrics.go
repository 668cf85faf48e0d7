package quizstudio

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the prometheus collectors of the job pipeline and quiz runs. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal          *prometheus.CounterVec
	JobsInFlight       prometheus.Gauge
	GenerationDuration *prometheus.HistogramVec
	AttemptsTotal      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quizstudio_jobs_total",
				Help: "Generation jobs by final status",
			},
			[]string{"status"},
		),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quizstudio_jobs_in_flight",
			Help: "Generation jobs currently processing",
		}),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quizstudio_generation_duration_seconds",
				Help:    "Duration of generation service calls",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quizstudio_attempts_total",
				Help: "Quiz attempts recorded by status",
			},
			[]string{"status"},
		),
	}
	m.registry.MustRegister(m.JobsTotal, m.JobsInFlight, m.GenerationDuration, m.AttemptsTotal)
	return m
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.JobsInFlight.Inc()
}

func (m *Metrics) jobFinished(status JobStatus) {
	if m == nil {
		return
	}
	m.JobsInFlight.Dec()
	m.JobsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeGeneration(start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GenerationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) attemptRecorded(status AttemptStatus) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(string(status)).Inc()
}
