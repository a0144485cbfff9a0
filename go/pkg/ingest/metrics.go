package ingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"pair-signals/go/pkg/shared"
)

// Metrics bundle for the ingestion path.
type Metrics struct {
	Accepted    *prometheus.CounterVec
	Rejected    *prometheus.CounterVec
	Pending     prometheus.Gauge
	BatchSize   prometheus.Histogram
	WriteTime   prometheus.Histogram
	FlushAge    prometheus.Histogram
	WriteErrors prometheus.Counter
	Committed   prometheus.Counter
	Stalled     prometheus.Counter
	WSEvents    *prometheus.CounterVec
}

// NewMetrics registers against reg; nil leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Accepted: shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "ingest_ticks_total", Help: "Ticks accepted into the buffer"}, []string{"symbol"}),
		Rejected: shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "ingest_rejected_total", Help: "Upstream events rejected by the parser"}, []string{"reason"}),
		Pending:  shared.NewGauge(reg, prometheus.GaugeOpts{Name: "ingest_pending_ticks", Help: "Ticks buffered or in flight to the store"}),
		BatchSize: shared.NewHist(reg, prometheus.HistogramOpts{
			Name: "ingest_batch_size", Help: "Ticks per written batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		WriteTime: shared.NewHist(reg, prometheus.HistogramOpts{
			Name: "ingest_write_seconds", Help: "Store append latency including retries",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		FlushAge: shared.NewHist(reg, prometheus.HistogramOpts{
			Name: "ingest_flush_age_seconds", Help: "Age of the oldest tick in a batch at commit",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		}),
		WriteErrors: shared.NewCounter(reg, prometheus.CounterOpts{Name: "ingest_write_errors_total", Help: "Failed store append attempts"}),
		Committed:   shared.NewCounter(reg, prometheus.CounterOpts{Name: "ingest_batches_committed_total", Help: "Batches durably stored"}),
		Stalled:     shared.NewCounter(reg, prometheus.CounterOpts{Name: "ingest_stalled_total", Help: "Batches abandoned after exhausting retries"}),
		WSEvents:    shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "ingest_ws_events_total", Help: "Websocket lifecycle events"}, []string{"event"}),
	}
}
