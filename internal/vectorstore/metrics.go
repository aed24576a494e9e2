package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes vector store instrumentation. Pass nil to the Manager
// to disable collection (tests do).
type Metrics struct {
	opDuration *prometheus.HistogramVec
	state      prometheus.Gauge
	handles    prometheus.Gauge
}

// NewMetrics registers vector store metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corpusd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corpusd",
			Subsystem: "vectorstore",
			Name:      "state",
			Help:      "Lifecycle state (0 closed, 1 opening, 2 open, 3 closing, 4 corrupted).",
		}),
		handles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "corpusd",
			Subsystem: "vectorstore",
			Name:      "open_handles",
			Help:      "Number of live store handles.",
		}),
	}
}

// ObserveOp records one operation's duration and outcome.
func (m *Metrics) ObserveOp(op string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.opDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

// SetState records the lifecycle state.
func (m *Metrics) SetState(s State) {
	m.state.Set(float64(s))
}

// SetHandles records the live handle count.
func (m *Metrics) SetHandles(n int) {
	m.handles.Set(float64(n))
}
