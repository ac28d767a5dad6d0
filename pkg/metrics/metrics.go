// Package metrics exposes Prometheus instrumentation for the master:
// working-counter mismatches, cycle duration, and DC act_diff.
//
// Grounded on the rest of the retrieval pack's use of
// github.com/prometheus/client_golang for exactly this shape of
// counter/gauge/histogram triple (see DESIGN.md for which example repo
// contributed the dependency).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the master registers.
type Metrics struct {
	CycleDuration   prometheus.Histogram
	WkcMismatches   *prometheus.CounterVec
	ActDiff         *prometheus.GaugeVec
	SlaveALState    *prometheus.GaugeVec
	SupervisorQueue prometheus.Gauge
}

// New creates and registers a full set of collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ethercat",
			Subsystem: "cyclic",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of one process-data exchange cycle across all groups.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		WkcMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ethercat",
			Subsystem: "cyclic",
			Name:      "wkc_mismatches_total",
			Help:      "Count of cycles where a group's working counter didn't match its expected value.",
		}, []string{"group"}),
		ActDiff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ethercat",
			Subsystem: "dc",
			Name:      "act_diff_nanoseconds",
			Help:      "Most recent Distributed Clocks act_diff measurement per slave.",
		}, []string{"slave"}),
		SlaveALState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ethercat",
			Subsystem: "slave",
			Name:      "al_state",
			Help:      "Current AL state register value per slave.",
		}, []string{"slave"}),
		SupervisorQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ethercat",
			Subsystem: "supervisor",
			Name:      "message_queue_length",
			Help:      "Number of undelivered diagnostic messages currently queued.",
		}),
	}

	reg.MustRegister(m.CycleDuration, m.WkcMismatches, m.ActDiff, m.SlaveALState, m.SupervisorQueue)
	return m
}
