package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts the job's progress. A nil *Metrics records nothing.
type Metrics struct {
	recordsWritten *prometheus.CounterVec
	rowsDropped    prometheus.Counter
	shards         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		recordsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bert_prep_records_written_total",
				Help: "Feature records written, by partition",
			},
			[]string{"split"},
		),
		rowsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bert_prep_rows_dropped_total",
				Help: "Shard rows dropped for missing or malformed fields",
			},
		),
		shards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bert_prep_shards_total",
				Help: "Shards processed, by outcome",
			},
			[]string{"status"},
		),
	}
}

// RegisterMetrics creates the job's metrics and registers them with
// registerer.
func RegisterMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := NewMetrics()
	for _, collector := range []prometheus.Collector{
		metrics.recordsWritten,
		metrics.rowsDropped,
		metrics.shards,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (metrics *Metrics) recordWritten(split string, n int) {
	if metrics == nil {
		return
	}
	metrics.recordsWritten.WithLabelValues(split).Add(float64(n))
}

func (metrics *Metrics) rowDropped(n int) {
	if metrics == nil {
		return
	}
	metrics.rowsDropped.Add(float64(n))
}

func (metrics *Metrics) shardDone(err error) {
	if metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.shards.WithLabelValues(status).Inc()
}
