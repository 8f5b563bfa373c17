package spann

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector collects operational metrics for the update engine's
// five hot paths (dispatch, append, split, reassign, search), grounded on
// the teacher's MetricsCollector interface (metrics.go).
type MetricsCollector interface {
	RecordDispatch(batchSize int, duration time.Duration, err error)
	RecordAppend(duration time.Duration, err error)
	RecordSplit(duration time.Duration, err error)
	RecordReassign(duration time.Duration, err error)
	RecordSearch(k int, duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordDispatch(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordAppend(time.Duration, error)        {}
func (NoopMetricsCollector) RecordSplit(time.Duration, error)         {}
func (NoopMetricsCollector) RecordReassign(time.Duration, error)      {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory counters, grounded on
// the teacher's BasicMetricsCollector.
type BasicMetricsCollector struct {
	DispatchBatches atomic.Int64
	AppendCount     atomic.Int64
	AppendErrors    atomic.Int64
	SplitCount      atomic.Int64
	SplitErrors     atomic.Int64
	ReassignCount   atomic.Int64
	ReassignErrors  atomic.Int64
	SearchCount     atomic.Int64
	SearchErrors    atomic.Int64
}

func (b *BasicMetricsCollector) RecordDispatch(_ int, _ time.Duration, _ error) {
	b.DispatchBatches.Add(1)
}

func (b *BasicMetricsCollector) RecordAppend(_ time.Duration, err error) {
	b.AppendCount.Add(1)
	if err != nil {
		b.AppendErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordSplit(_ time.Duration, err error) {
	b.SplitCount.Add(1)
	if err != nil {
		b.SplitErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordReassign(_ time.Duration, err error) {
	b.ReassignCount.Add(1)
	if err != nil {
		b.ReassignErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordSearch(_ int, _ time.Duration, err error) {
	b.SearchCount.Add(1)
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// PrometheusMetricsCollector records the same five hot paths as Prometheus
// counters/histograms, grounded on metrics.go's MetricsCollector shape and
// on the direct prometheus/client_golang usage pattern seen in the pack's
// doda-vex repo (gauges/counters registered against a caller-owned
// registry rather than the global default one, so multiple Index[T]
// instances in one process don't collide on metric names).
type PrometheusMetricsCollector struct {
	dispatchBatches prometheus.Counter
	appendTotal     *prometheus.CounterVec
	splitTotal      *prometheus.CounterVec
	reassignTotal   *prometheus.CounterVec
	searchDuration  prometheus.Histogram
}

// NewPrometheusMetricsCollector registers its metrics against reg and
// returns a collector ready to pass to WithMetricsCollector.
func NewPrometheusMetricsCollector(reg prometheus.Registerer) *PrometheusMetricsCollector {
	p := &PrometheusMetricsCollector{
		dispatchBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spann_dispatch_batches_total",
			Help: "Number of dispatcher batches drained from the persistent buffer.",
		}),
		appendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spann_append_total",
			Help: "Append worker operations, labeled by outcome.",
		}, []string{"outcome"}),
		splitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spann_split_total",
			Help: "Split engine operations, labeled by outcome.",
		}, []string{"outcome"}),
		reassignTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spann_reassign_total",
			Help: "Reassign worker operations, labeled by outcome.",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spann_search_duration_seconds",
			Help:    "Read-path query latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(p.dispatchBatches, p.appendTotal, p.splitTotal, p.reassignTotal, p.searchDuration)
	return p
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (p *PrometheusMetricsCollector) RecordDispatch(_ int, _ time.Duration, _ error) {
	p.dispatchBatches.Inc()
}

func (p *PrometheusMetricsCollector) RecordAppend(_ time.Duration, err error) {
	p.appendTotal.WithLabelValues(outcome(err)).Inc()
}

func (p *PrometheusMetricsCollector) RecordSplit(_ time.Duration, err error) {
	p.splitTotal.WithLabelValues(outcome(err)).Inc()
}

func (p *PrometheusMetricsCollector) RecordReassign(_ time.Duration, err error) {
	p.reassignTotal.WithLabelValues(outcome(err)).Inc()
}

func (p *PrometheusMetricsCollector) RecordSearch(_ int, duration time.Duration, _ error) {
	p.searchDuration.Observe(duration.Seconds())
}
