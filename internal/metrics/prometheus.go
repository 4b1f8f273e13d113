// Package metrics provides Prometheus metrics for the licensing client and the
// update poller.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "itelic"

// Update check results.
const (
	CheckSkipped = "skipped"
	CheckHit     = "hit"
	CheckMiss    = "miss"
	CheckFailed  = "failed"
)

// PrometheusMetrics holds the collectors. A nil *PrometheusMetrics is valid and
// records nothing.
type PrometheusMetrics struct {
	APIRequests     *prometheus.CounterVec
	APIDuration     *prometheus.HistogramVec
	UpdateChecks    *prometheus.CounterVec
	UpdateAvailable prometheus.Gauge
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Licensing API calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Licensing API call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		UpdateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_checks_total",
			Help:      "Update poll invocations by result (skipped, hit, miss, failed).",
		}, []string{"result"}),
		UpdateAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_available",
			Help:      "1 when the last version check found a newer release.",
		}),
	}

	for _, c := range []prometheus.Collector{m.APIRequests, m.APIDuration, m.UpdateChecks, m.UpdateAvailable} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return m, nil
}

// RecordAPIRequest records one licensing API call.
func (m *PrometheusMetrics) RecordAPIRequest(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(endpoint, outcome).Inc()
	m.APIDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RecordUpdateCheck records one poll invocation.
func (m *PrometheusMetrics) RecordUpdateCheck(result string) {
	if m == nil {
		return
	}
	m.UpdateChecks.WithLabelValues(result).Inc()
}

// SetUpdateAvailable sets the update_available gauge.
func (m *PrometheusMetrics) SetUpdateAvailable(available bool) {
	if m == nil {
		return
	}
	if available {
		m.UpdateAvailable.Set(1)
	} else {
		m.UpdateAvailable.Set(0)
	}
}
