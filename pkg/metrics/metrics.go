package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the scan history store.
type Metrics struct {
	ScansAdded   *prometheus.CounterVec
	Clears       *prometheus.CounterVec
	CorruptReads prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which keeps tests independent of the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanhistory_scans_added_total",
			Help: "Scans recorded, labeled by whether the write reached durable storage",
		}, []string{"durability"}),
		Clears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanhistory_clears_total",
			Help: "History clears, labeled by whether the removal reached durable storage",
		}, []string{"durability"}),
		CorruptReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanhistory_corrupt_reads_total",
			Help: "Reads of a persisted history that could not be decoded",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ScansAdded, m.Clears, m.CorruptReads)
	}
	return m
}

// IncScansAdded records one Add outcome.
func (m *Metrics) IncScansAdded(durability string) {
	if m == nil {
		return
	}
	m.ScansAdded.WithLabelValues(durability).Inc()
}

// IncClears records one Clear outcome.
func (m *Metrics) IncClears(durability string) {
	if m == nil {
		return
	}
	m.Clears.WithLabelValues(durability).Inc()
}

// IncCorruptReads counts an undecodable history blob.
func (m *Metrics) IncCorruptReads() {
	if m == nil {
		return
	}
	m.CorruptReads.Inc()
}
