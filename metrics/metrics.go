// Package metrics collects ledger metrics.
package metrics

import (
	"time"
)

// Metrics defines the interface for collecting chain metrics.
// All methods are designed to be thread-safe and non-blocking.
type Metrics interface {
	// Block metrics
	SetBlockHeight(height int64)
	IncBlocksAppended()
	IncBlocksRejected(reason string)
	IncBlocksProposed()
	ObserveAppendLatency(latency time.Duration)
	ObserveEvaluationLatency(latency time.Duration)
	SetBlockSize(size int)

	// Transaction metrics
	SetMempoolSize(size int)
	SetMempoolBytes(bytes int64)
	IncTxsStaged()
	IncTxsRejected(reason string)
	IncTxsExecuted(result string)

	// Evidence metrics
	SetPendingEvidence(count int)
	IncEvidenceCommitted(count int)
	IncEvidencePruned(count int)
}

// Transaction execution results.
const (
	TxResultSuccess = "success"
	TxResultFailure = "failure"
)

// Rejection reasons.
const (
	ReasonInvalidBlock  = "invalid_block"
	ReasonInvalidCommit = "invalid_commit"
	ReasonInvalidNonce  = "invalid_nonce"
	ReasonPolicy        = "policy"
	ReasonStateRoot     = "state_root"
	ReasonEvidence      = "evidence"
	ReasonExecution     = "execution"
	ReasonGenesis       = "genesis"
	ReasonDuplicate     = "duplicate"
	ReasonIgnored       = "ignored"
	ReasonExpired       = "expired"
	ReasonFull          = "full"
	ReasonOther         = "other"
)
