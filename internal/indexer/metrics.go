package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes indexing instrumentation. Pass nil to disable.
type Metrics struct {
	passes       prometheus.Counter
	passDuration prometheus.Histogram
	filesIndexed prometheus.Counter
	filesFailed  *prometheus.CounterVec
	chunksStored prometheus.Counter
}

// NewMetrics registers indexer metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		passes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "indexer",
			Name:      "passes_total",
			Help:      "Completed indexing passes.",
		}),
		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "indexer",
			Name:      "pass_duration_seconds",
			Help:      "Duration of indexing passes.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		filesIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "indexer",
			Name:      "files_indexed_total",
			Help:      "Files successfully indexed.",
		}),
		filesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "indexer",
			Name:      "files_failed_total",
			Help:      "Files that failed to index, by failure kind.",
		}, []string{"kind"}),
		chunksStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "corpusd",
			Subsystem: "indexer",
			Name:      "chunks_stored_total",
			Help:      "Chunks written to the vector store.",
		}),
	}
}

// ObservePass records a finished pass.
func (m *Metrics) ObservePass(stats Stats) {
	m.passes.Inc()
	m.passDuration.Observe(stats.Elapsed.Seconds())
	m.chunksStored.Add(float64(stats.Chunks))
}

// FileIndexed counts one successful file.
func (m *Metrics) FileIndexed() { m.filesIndexed.Inc() }

// FileFailed counts one failed file.
func (m *Metrics) FileFailed(kind string) {
	m.filesFailed.WithLabelValues(kind).Inc()
}
