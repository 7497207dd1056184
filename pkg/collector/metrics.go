package collector

import (
	"github.com/prometheus/client_golang/prometheus"

	"kite-collector/pkg/shared"
)

// Metrics is the collector's instrument bundle. Tests pass their own
// Registerer to keep registrations isolated.
type Metrics struct {
	ticksIn     prometheus.Counter
	bufferDepth prometheus.Gauge
	flushBatch  prometheus.Histogram
	fragments   prometheus.Counter
	fragSkipped prometheus.Counter
	discarded   prometheus.Counter
	mirrorErrs  prometheus.Counter
	state       prometheus.Gauge
	eodRows     prometheus.Counter
	rowsSkipped *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ticksIn:     shared.NewCounter(reg, prometheus.CounterOpts{Name: "collector_ticks_total", Help: "Ticks captured from the feed"}),
		bufferDepth: shared.NewGauge(reg, prometheus.GaugeOpts{Name: "collector_buffer_ticks", Help: "Ticks currently buffered"}),
		flushBatch:  shared.NewHist(reg, prometheus.HistogramOpts{Name: "collector_flush_batch_size", Help: "Ticks per flush", Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000}}),
		fragments:   shared.NewCounter(reg, prometheus.CounterOpts{Name: "collector_fragments_total", Help: "Staging fragments written"}),
		fragSkipped: shared.NewCounter(reg, prometheus.CounterOpts{Name: "collector_fragments_skipped_total", Help: "Fragments left behind after a load failure"}),
		discarded:   shared.NewCounter(reg, prometheus.CounterOpts{Name: "collector_ticks_discarded_total", Help: "Ticks lost to failed flushes"}),
		mirrorErrs:  shared.NewCounter(reg, prometheus.CounterOpts{Name: "collector_mirror_errors_total", Help: "Failed Kafka mirror batches"}),
		state:       shared.NewGauge(reg, prometheus.GaugeOpts{Name: "collector_session_state", Help: "Session lifecycle state (numeric)"}),
		eodRows:     shared.NewCounter(reg, prometheus.CounterOpts{Name: "collector_consolidated_rows_total", Help: "Rows written to the daily artifact"}),
		rowsSkipped: shared.NewCounterVec(reg, prometheus.CounterOpts{Name: "collector_rows_skipped_total", Help: "Fragment rows dropped at consolidation"}, []string{"reason"}),
	}
}
