package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shelfsense/shelf-monitor/models"
)

const (
	OutcomeSuccess      = "success"
	OutcomeInvalidInput = "invalid_input"
	OutcomeUpstream     = "upstream_failure"
	OutcomeBusy         = "busy"
)

// Metrics holds the Prometheus collectors for the analysis pipeline.
type Metrics struct {
	registry *prometheus.Registry

	analyzeRequestsTotal *prometheus.CounterVec
	detectionsTotal      *prometheus.CounterVec
	upstreamDuration     prometheus.Histogram
	severityTotal        *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry, pool *UpstreamPool) (*Metrics, error) {
	m := &Metrics{registry: registry}

	m.analyzeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsense_analyze_requests_total",
			Help: "Total number of shelf image analyses by outcome",
		},
		[]string{"outcome"},
	)

	m.detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsense_detections_total",
			Help: "Total number of classified detections",
		},
		[]string{"category"},
	)

	m.upstreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "shelfsense_upstream_duration_seconds",
			Help: "Time taken by the inference service",
			// 100ms to ~50s, past the default 20s timeout
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	m.severityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelfsense_reports_total",
			Help: "Total number of reports by severity",
		},
		[]string{"severity"},
	)

	collectors := []prometheus.Collector{
		m.analyzeRequestsTotal,
		m.detectionsTotal,
		m.upstreamDuration,
		m.severityTotal,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "shelfsense_upstream_in_flight",
				Help: "Inference calls currently holding a pool slot",
			},
			func() float64 { return float64(pool.GetMetrics().InUse) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "shelfsense_upstream_pool_size",
				Help: "Maximum concurrent inference calls",
			},
			func() float64 { return float64(pool.Size()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "shelfsense_upstream_acquire_failures_total",
				Help: "Requests rejected because no inference slot became free",
			},
			func() float64 { return float64(pool.GetMetrics().AcquireFailures) },
		),
	}

	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordOutcome(outcome string) {
	m.analyzeRequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordUpstream(seconds float64) {
	m.upstreamDuration.Observe(seconds)
}

func (m *Metrics) RecordReport(r *models.Report) {
	m.detectionsTotal.WithLabelValues(string(models.CategoryProduct)).Add(float64(r.Summary.TotalProductsDetected))
	m.detectionsTotal.WithLabelValues(string(models.CategoryMissing)).Add(float64(r.Summary.TotalMissingDetected))
	m.severityTotal.WithLabelValues(r.BusinessMapping.Severity).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
