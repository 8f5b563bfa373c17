package spann

import (
	"time"

	"github.com/spann-db/spann/distance"
)

// options holds every configuration knob enumerated in spec section 6,
// grounded on the teacher's functional-options pattern (options.go).
type options struct {
	dimension int

	postingSizeLimit uint32
	replicaCount     int
	internalResultNum       int
	searchInternalResultNum int
	reassignK               int
	rngFactor               float32
	maxDistRatio            float32
	batch                   int
	appendThreadNum         int
	reassignThreadNum       int
	searchThreadNum         int
	distCalcMethod          distance.Metric
	disableReassign         bool
	latencyLimit            time.Duration

	compactInterval time.Duration
	compactRatio    float32

	logger           *Logger
	metricsCollector MetricsCollector

	bufferDir string
}

// Option configures an Index at construction.
type Option func(*options)

// WithPostingSizeLimit sets the split threshold in records per head (spec
// section 6's postingSizeLimit).
func WithPostingSizeLimit(n uint32) Option {
	return func(o *options) { o.postingSizeLimit = n }
}

// WithReplicaCount sets the per-insert fanout (typical 4-8).
func WithReplicaCount(n int) Option {
	return func(o *options) { o.replicaCount = n }
}

// WithInternalResultNum sets the head-index candidate depth used when
// placing a newly inserted replica.
func WithInternalResultNum(n int) Option {
	return func(o *options) { o.internalResultNum = n }
}

// WithSearchInternalResultNum sets the head-index candidate depth used by
// the read path (spec section 4.6 step 1).
func WithSearchInternalResultNum(n int) Option {
	return func(o *options) { o.searchInternalResultNum = n }
}

// WithReassignK sets how many nearest-other-heads the split engine scans
// for reassignment candidates after a split. 0 disables the scan.
func WithReassignK(n int) Option {
	return func(o *options) { o.reassignK = n }
}

// WithRNGFactor sets the RNG pruning strength (>= 1) used by the reassign
// worker's replica-selection filter.
func WithRNGFactor(f float32) Option {
	return func(o *options) { o.rngFactor = f }
}

// WithMaxDistRatio sets the read-path candidate-head pruning ratio (>= 1).
func WithMaxDistRatio(f float32) Option {
	return func(o *options) { o.maxDistRatio = f }
}

// WithBatchSize sets the dispatcher's per-drain batch size.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batch = n }
}

// WithAppendThreads sets the append worker pool's goroutine count.
func WithAppendThreads(n int) Option {
	return func(o *options) { o.appendThreadNum = n }
}

// WithReassignThreads sets the reassign worker pool's goroutine count.
func WithReassignThreads(n int) Option {
	return func(o *options) { o.reassignThreadNum = n }
}

// WithSearchThreads bounds how many goroutines a single SearchIndex call
// may fan out its backend multi-get across, via resource.Controller.
func WithSearchThreads(n int) Option {
	return func(o *options) { o.searchThreadNum = n }
}

// WithDistanceMetric selects L2 or Cosine (spec section 6's
// distCalcMethod).
func WithDistanceMetric(m distance.Metric) Option {
	return func(o *options) { o.distCalcMethod = m }
}

// WithDisableReassign disables the reassign worker pool entirely: append
// workers that hit a deleted head simply drop the replica instead of
// rerouting it.
func WithDisableReassign(disabled bool) Option {
	return func(o *options) { o.disableReassign = disabled }
}

// WithLatencyLimit sets the backend multi-get deadline used by the read
// path (spec section 6's latencyLimit).
func WithLatencyLimit(d time.Duration) Option {
	return func(o *options) { o.latencyLimit = d }
}

// WithCompactInterval sets how often the compaction janitor sweeps every
// known head for tombstone-heavy postings. Zero disables the janitor.
func WithCompactInterval(d time.Duration) Option {
	return func(o *options) { o.compactInterval = d }
}

// WithCompactRatio sets the tombstoned-fraction threshold that triggers a
// GC-only posting rewrite outside of the normal split path (SPTAG-derived
// supplemented feature; see SPEC_FULL.md).
func WithCompactRatio(f float32) Option {
	return func(o *options) { o.compactRatio = f }
}

// WithLogger configures structured logging. A nil logger disables it.
func WithLogger(logger *Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsCollector configures a metrics collector. A nil collector
// disables metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) { o.metricsCollector = mc }
}

// WithBufferDir sets the directory the persistent buffer's segments are
// written to.
func WithBufferDir(dir string) Option {
	return func(o *options) { o.bufferDir = dir }
}

func defaultOptions() options {
	return options{
		postingSizeLimit:        1000,
		replicaCount:            4,
		internalResultNum:       32,
		searchInternalResultNum: 32,
		reassignK:               2,
		rngFactor:               1.0,
		maxDistRatio:            2.0,
		batch:                   256,
		appendThreadNum:         4,
		reassignThreadNum:       4,
		searchThreadNum:         4,
		distCalcMethod:          distance.MetricL2,
		latencyLimit:            500 * time.Microsecond,
		compactInterval:         30 * time.Second,
		compactRatio:            0.3,
		logger:                  NoopLogger(),
		metricsCollector:        NoopMetricsCollector{},
		bufferDir:               "./spann-buffer",
	}
}

func applyOptions(optFns []Option) options {
	o := defaultOptions()
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
