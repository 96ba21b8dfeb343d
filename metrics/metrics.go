// Package metrics - Prometheus collectors for the analysis pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used as the "stage" label.
const (
	StageExtract = "extract"
	StageLoad    = "load"
	StageDetect  = "detect"
	StageRender  = "render"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AnalysesTotal      *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	ModelLoadsTotal    *prometheus.CounterVec
	DetectionsTotal    *prometheus.CounterVec
	BrakeTriggersTotal prometheus.Counter
}

// New creates the collectors on a private registry.
//
// Returns:
//   - *Metrics: The collectors, registered and ready to serve.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AnalysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forklift_analyses_total",
			Help: "Total number of video analyses, by outcome",
		}, []string{"outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forklift_stage_duration_seconds",
			Help:    "Duration of each analysis stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		ModelLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forklift_model_loads_total",
			Help: "Total number of detection model initializations, by result",
		}, []string{"result"}),
		DetectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forklift_detections_total",
			Help: "Total number of detections kept after filtering, by label",
		}, []string{"label"}),
		BrakeTriggersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forklift_brake_triggers_total",
			Help: "Total number of analyses where a person was detected",
		}),
	}

	m.registry.MustRegister(
		m.AnalysesTotal,
		m.StageDuration,
		m.ModelLoadsTotal,
		m.DetectionsTotal,
		m.BrakeTriggersTotal,
		collectors.NewGoCollector(),
	)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordAnalysis counts a finished analysis. outcome is "ok" or an error kind.
func (m *Metrics) RecordAnalysis(outcome string, personDetected bool) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(outcome).Inc()
	if personDetected {
		m.BrakeTriggersTotal.Inc()
	}
}

// RecordModelLoad counts a model initialization attempt.
func (m *Metrics) RecordModelLoad(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ModelLoadsTotal.WithLabelValues(result).Inc()
	m.StageDuration.WithLabelValues(StageLoad).Observe(d.Seconds())
}

// RecordDetection counts one kept detection.
func (m *Metrics) RecordDetection(label string) {
	if m == nil {
		return
	}
	m.DetectionsTotal.WithLabelValues(label).Inc()
}
