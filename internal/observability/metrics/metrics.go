package metrics

import "github.com/prometheus/client_golang/prometheus"

// SagaMetrics exposes counters/histograms for every stage of the appointment saga.
type SagaMetrics struct {
	createdTotal      *prometheus.CounterVec
	countryTotal      *prometheus.CounterVec
	countryLatency    *prometheus.HistogramVec
	reconciledTotal   *prometheus.CounterVec
	batchFailureTotal *prometheus.CounterVec
}

func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	m := &SagaMetrics{
		createdTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "saga",
			Name:      "created_total",
			Help:      "Appointment creation requests by outcome",
		}, []string{"country", "outcome"}),
		countryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "country",
			Name:      "messages_total",
			Help:      "Fan-out messages handled by country processors",
		}, []string{"country", "outcome"}),
		countryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "appointments",
			Subsystem: "country",
			Name:      "processing_seconds",
			Help:      "Latency of processing one fan-out message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"country"}),
		reconciledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "reconciler",
			Name:      "events_total",
			Help:      "Status events handled by the reconciler",
		}, []string{"status", "outcome"}),
		batchFailureTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "worker",
			Name:      "batch_item_failures_total",
			Help:      "Messages reported back to the transport for redelivery",
		}, []string{"consumer"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.createdTotal, m.countryTotal, m.countryLatency, m.reconciledTotal, m.batchFailureTotal)
	return m
}

func (m *SagaMetrics) ObserveCreated(country, outcome string) {
	if m == nil {
		return
	}
	m.createdTotal.WithLabelValues(country, outcome).Inc()
}

func (m *SagaMetrics) ObserveCountryMessage(country, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.countryTotal.WithLabelValues(country, outcome).Inc()
	m.countryLatency.WithLabelValues(country).Observe(seconds)
}

func (m *SagaMetrics) ObserveReconciled(status, outcome string) {
	if m == nil {
		return
	}
	m.reconciledTotal.WithLabelValues(status, outcome).Inc()
}

func (m *SagaMetrics) ObserveBatchFailures(consumer string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchFailureTotal.WithLabelValues(consumer).Add(float64(count))
}
