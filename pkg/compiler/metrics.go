package compiler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records compilation outcomes.
type Metrics struct {
	compilations *prometheus.CounterVec
	duration     prometheus.Histogram
	findings     *prometheus.CounterVec
}

// NewMetrics registers the compiler metrics with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		compilations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "domainmembership_compilations_total",
			Help: "Total number of catalog compilations",
		}, []string{"os", "result"}), // result: success, or the error kind
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "domainmembership_compile_duration_seconds",
			Help:    "Duration of catalog compilations",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		findings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "domainmembership_lint_findings_total",
			Help: "Total number of unsuppressed parameter lint findings",
		}, []string{"rule"}),
	}
}

func (m *Metrics) recordCompilation(os string, err error, seconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = string(KindOf(err))
		if result == "" {
			result = string(KindInternal)
		}
	}
	m.compilations.WithLabelValues(os, result).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) recordFinding(rule string) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(rule).Inc()
}
