// Package metrics exposes collector activity and instrument health to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"observatory-collector/internal/health"
	"observatory-collector/internal/store"
)

const (
	metricPrefix = "collector_"

	resultSuccess = "success"
	resultError   = "error"
)

// Metrics bundles the collector's metrics and the registry they live in.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pollsTotal   *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	mqttMessages *prometheus.CounterVec
	pushesTotal  *prometheus.CounterVec
}

// New builds the metrics on a private registry. The tracker and store are
// read on every scrape.
func New(tracker *health.Tracker, st *store.Store) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "polls_total",
				Help: "Total device poll cycles by device kind and result",
			},
			[]string{"kind", "result"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_duration_seconds",
				Help:    "Device poll cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		mqttMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mqtt_messages_total",
				Help: "Total MQTT messages by source and result",
			},
			[]string{"source", "result"},
		),
		pushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pushes_total",
				Help: "Total requests to the remote API by endpoint and result",
			},
			[]string{"endpoint", "result"},
		),
	}

	m.registry.MustRegister(
		m.pollsTotal,
		m.pollDuration,
		m.mqttMessages,
		m.pushesTotal,
		newInstrumentCollector(tracker, st),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObservePoll(kind string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(kind, result(ok)).Inc()
	m.pollDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMQTT(source string, ok bool) {
	if m == nil {
		return
	}
	m.mqttMessages.WithLabelValues(source, result(ok)).Inc()
}

func (m *Metrics) ObservePush(endpoint string, ok bool) {
	if m == nil {
		return
	}
	m.pushesTotal.WithLabelValues(endpoint, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return resultSuccess
	}
	return resultError
}
