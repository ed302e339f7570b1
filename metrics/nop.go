package metrics

import (
	"time"
)

// NopMetrics is a no-op implementation of the Metrics interface.
// Use this when metrics collection is disabled.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// Block metrics (no-op)

func (m *NopMetrics) SetBlockHeight(height int64)                    {}
func (m *NopMetrics) IncBlocksAppended()                             {}
func (m *NopMetrics) IncBlocksRejected(reason string)                {}
func (m *NopMetrics) IncBlocksProposed()                             {}
func (m *NopMetrics) ObserveAppendLatency(latency time.Duration)     {}
func (m *NopMetrics) ObserveEvaluationLatency(latency time.Duration) {}
func (m *NopMetrics) SetBlockSize(size int)                          {}

// Transaction metrics (no-op)

func (m *NopMetrics) SetMempoolSize(size int)      {}
func (m *NopMetrics) SetMempoolBytes(bytes int64)  {}
func (m *NopMetrics) IncTxsStaged()                {}
func (m *NopMetrics) IncTxsRejected(reason string) {}
func (m *NopMetrics) IncTxsExecuted(result string) {}

// Evidence metrics (no-op)

func (m *NopMetrics) SetPendingEvidence(count int)   {}
func (m *NopMetrics) IncEvidenceCommitted(count int) {}
func (m *NopMetrics) IncEvidencePruned(count int)    {}

var _ Metrics = (*NopMetrics)(nil)
