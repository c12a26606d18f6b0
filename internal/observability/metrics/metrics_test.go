package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSagaMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSagaMetrics(reg)
	m.ObserveCreated("PE", "pending")
	m.ObserveCreated("PE", "pending")
	m.ObserveCountryMessage("PE", "completed", 0.2)
	m.ObserveReconciled("completed", "applied")
	m.ObserveBatchFailures("country-PE", 3)
	m.ObserveBatchFailures("country-PE", 0)

	if got := testutil.ToFloat64(m.createdTotal.WithLabelValues("PE", "pending")); got != 2 {
		t.Fatalf("expected 2 created, got %v", got)
	}
	if got := testutil.ToFloat64(m.batchFailureTotal.WithLabelValues("country-PE")); got != 3 {
		t.Fatalf("expected 3 batch failures, got %v", got)
	}
}

func TestSagaMetricsNilSafe(t *testing.T) {
	var m *SagaMetrics
	m.ObserveCreated("PE", "pending")
	m.ObserveCountryMessage("PE", "failed", 0.1)
	m.ObserveReconciled("failed", "noop")
	m.ObserveBatchFailures("reconciler", 1)
}
