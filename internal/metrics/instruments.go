package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"observatory-collector/internal/health"
	"observatory-collector/internal/store"
)

var allStatuses = []health.Status{health.Healthy, health.Degraded, health.Offline}

// instrumentCollector reports per-instrument health and freshness straight
// from the tracker and store at scrape time.
type instrumentCollector struct {
	tracker *health.Tracker
	store   *store.Store

	status      *prometheus.Desc
	failureRate *prometheus.Desc
	lastUpdate  *prometheus.Desc
	instruments *prometheus.Desc
}

func newInstrumentCollector(tracker *health.Tracker, st *store.Store) *instrumentCollector {
	return &instrumentCollector{
		tracker: tracker,
		store:   st,
		status: prometheus.NewDesc(
			metricPrefix+"instrument_status",
			"Instrument health status; 1 for the current status, 0 otherwise",
			[]string{"instrument", "status"}, nil,
		),
		failureRate: prometheus.NewDesc(
			metricPrefix+"instrument_failure_rate",
			"Failure rate over the recent poll window",
			[]string{"instrument"}, nil,
		),
		lastUpdate: prometheus.NewDesc(
			metricPrefix+"instrument_last_update_timestamp_seconds",
			"Unix time of the last stored reading",
			[]string{"instrument"}, nil,
		),
		instruments: prometheus.NewDesc(
			metricPrefix+"instruments",
			"Number of instruments that have reported data",
			nil, nil,
		),
	}
}

func (c *instrumentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.status
	ch <- c.failureRate
	ch <- c.lastUpdate
	ch <- c.instruments
}

func (c *instrumentCollector) Collect(ch chan<- prometheus.Metric) {
	for code, rep := range c.tracker.Reports() {
		for _, s := range allStatuses {
			v := 0.0
			if rep.Status == s {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, v, code, string(s))
		}
		ch <- prometheus.MustNewConstMetric(c.failureRate, prometheus.GaugeValue, rep.FailureRate, code)
	}

	readings := c.store.GetAll()
	for code, r := range readings {
		if r.Timestamp.IsZero() {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.lastUpdate, prometheus.GaugeValue,
			float64(r.Timestamp.UnixNano())/1e9, code)
	}
	ch <- prometheus.MustNewConstMetric(c.instruments, prometheus.GaugeValue, float64(len(readings)))
}
