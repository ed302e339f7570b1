package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Block metrics
	blockHeight       prometheus.Gauge
	blocksAppended    prometheus.Counter
	blocksRejected    *prometheus.CounterVec
	blocksProposed    prometheus.Counter
	appendLatency     prometheus.Histogram
	evaluationLatency prometheus.Histogram
	blockSize         prometheus.Gauge

	// Transaction metrics
	mempoolSize  prometheus.Gauge
	mempoolBytes prometheus.Gauge
	txsStaged    prometheus.Counter
	txsRejected  *prometheus.CounterVec
	txsExecuted  *prometheus.CounterVec

	// Evidence metrics
	evidencePending   prometheus.Gauge
	evidenceCommitted prometheus.Counter
	evidencePruned    prometheus.Counter
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,

		// Block metrics
		blockHeight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "block_height",
				Help:      "Current tip height",
			},
		),
		blocksAppended: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_appended_total",
				Help:      "Total number of blocks appended to the chain",
			},
		),
		blocksRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_rejected_total",
				Help:      "Total number of blocks rejected by append",
			},
			[]string{"reason"},
		),
		blocksProposed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_proposed_total",
				Help:      "Total number of blocks proposed by this node",
			},
		),
		appendLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "append_latency_seconds",
				Help:      "Time spent validating and persisting a block",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		evaluationLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_latency_seconds",
				Help:      "Time spent evaluating block actions",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		blockSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "block_size_bytes",
				Help:      "Size of the latest block in bytes",
			},
		),

		// Transaction metrics
		mempoolSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mempool_size",
				Help:      "Number of staged transactions",
			},
		),
		mempoolBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mempool_bytes",
				Help:      "Total size of staged transactions in bytes",
			},
		),
		txsStaged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "txs_staged_total",
				Help:      "Total number of transactions staged",
			},
		),
		txsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "txs_rejected_total",
				Help:      "Total number of transactions rejected at staging",
			},
			[]string{"reason"},
		),
		txsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "txs_executed_total",
				Help:      "Total number of transactions executed in appended blocks",
			},
			[]string{"result"},
		),

		// Evidence metrics
		evidencePending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "evidence_pending",
				Help:      "Number of pending evidence items",
			},
		),
		evidenceCommitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evidence_committed_total",
				Help:      "Total number of evidence items committed",
			},
		),
		evidencePruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evidence_pruned_total",
				Help:      "Total number of expired pending evidence items dropped",
			},
		),
	}

	registry.MustRegister(
		m.blockHeight,
		m.blocksAppended,
		m.blocksRejected,
		m.blocksProposed,
		m.appendLatency,
		m.evaluationLatency,
		m.blockSize,
		m.mempoolSize,
		m.mempoolBytes,
		m.txsStaged,
		m.txsRejected,
		m.txsExecuted,
		m.evidencePending,
		m.evidenceCommitted,
		m.evidencePruned,
	)

	return m
}

// Registry returns the Prometheus registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Block metrics implementation

func (m *PrometheusMetrics) SetBlockHeight(height int64) {
	m.blockHeight.Set(float64(height))
}

func (m *PrometheusMetrics) IncBlocksAppended() {
	m.blocksAppended.Inc()
}

func (m *PrometheusMetrics) IncBlocksRejected(reason string) {
	m.blocksRejected.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) IncBlocksProposed() {
	m.blocksProposed.Inc()
}

func (m *PrometheusMetrics) ObserveAppendLatency(latency time.Duration) {
	m.appendLatency.Observe(latency.Seconds())
}

func (m *PrometheusMetrics) ObserveEvaluationLatency(latency time.Duration) {
	m.evaluationLatency.Observe(latency.Seconds())
}

func (m *PrometheusMetrics) SetBlockSize(size int) {
	m.blockSize.Set(float64(size))
}

// Transaction metrics implementation

func (m *PrometheusMetrics) SetMempoolSize(size int) {
	m.mempoolSize.Set(float64(size))
}

func (m *PrometheusMetrics) SetMempoolBytes(bytes int64) {
	m.mempoolBytes.Set(float64(bytes))
}

func (m *PrometheusMetrics) IncTxsStaged() {
	m.txsStaged.Inc()
}

func (m *PrometheusMetrics) IncTxsRejected(reason string) {
	m.txsRejected.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) IncTxsExecuted(result string) {
	m.txsExecuted.WithLabelValues(result).Inc()
}

// Evidence metrics implementation

func (m *PrometheusMetrics) SetPendingEvidence(count int) {
	m.evidencePending.Set(float64(count))
}

func (m *PrometheusMetrics) IncEvidenceCommitted(count int) {
	m.evidenceCommitted.Add(float64(count))
}

func (m *PrometheusMetrics) IncEvidencePruned(count int) {
	m.evidencePruned.Add(float64(count))
}

// HTTPHandler returns an HTTP handler for serving metrics.
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}

var _ Metrics = (*PrometheusMetrics)(nil)
