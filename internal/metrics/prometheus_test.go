package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	m, err := NewPrometheusMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m
}

func TestPrometheus_APIRequests(t *testing.T) {
	m := newTestMetrics(t)

	t.Run("counts by endpoint and outcome", func(t *testing.T) {
		m.RecordAPIRequest("version", "success", 120*time.Millisecond)
		m.RecordAPIRequest("version", "success", 80*time.Millisecond)
		m.RecordAPIRequest("version", "transport", time.Second)

		if got := testutil.ToFloat64(m.APIRequests.WithLabelValues("version", "success")); got != 2 {
			t.Errorf("expected 2 successes, got %f", got)
		}
		if got := testutil.ToFloat64(m.APIRequests.WithLabelValues("version", "transport")); got != 1 {
			t.Errorf("expected 1 transport failure, got %f", got)
		}
	})

	t.Run("observes latency per endpoint", func(t *testing.T) {
		if got := testutil.CollectAndCount(m.APIDuration); got != 1 {
			t.Errorf("expected one histogram series, got %d", got)
		}
	})
}

func TestPrometheus_UpdateChecks(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordUpdateCheck(CheckMiss)
	m.RecordUpdateCheck(CheckHit)
	m.RecordUpdateCheck(CheckHit)

	if got := testutil.ToFloat64(m.UpdateChecks.WithLabelValues(CheckHit)); got != 2 {
		t.Errorf("expected 2 hits, got %f", got)
	}

	m.SetUpdateAvailable(true)
	if got := testutil.ToFloat64(m.UpdateAvailable); got != 1 {
		t.Errorf("expected update_available 1, got %f", got)
	}
	m.SetUpdateAvailable(false)
	if got := testutil.ToFloat64(m.UpdateAvailable); got != 0 {
		t.Errorf("expected update_available 0, got %f", got)
	}
}

func TestPrometheus_NilSafe(t *testing.T) {
	var m *PrometheusMetrics
	m.RecordAPIRequest("info", "success", time.Millisecond)
	m.RecordUpdateCheck(CheckSkipped)
	m.SetUpdateAvailable(true)
}

func TestPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusMetrics(reg); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if _, err := NewPrometheusMetrics(reg); err == nil {
		t.Error("expected error registering collectors twice")
	}
}
