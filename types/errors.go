package types

import (
	"errors"
	"fmt"
)

// WrapValidationError wraps a validation error with field context.
func WrapValidationError(err error, field string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s: %w", field, err)
}

// Encoding errors.
var (
	// ErrEncoding is returned when a value cannot be encoded.
	ErrEncoding = errors.New("encoding failed")

	// ErrDecoding is returned when bytes cannot be decoded.
	ErrDecoding = errors.New("decoding failed")

	// ErrInvalidAddress is returned for malformed addresses.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Block-related errors. Structural failures all wrap ErrInvalidBlock.
var (
	// ErrBlockNotFound is returned when a block cannot be found.
	ErrBlockNotFound = errors.New("block not found")

	// ErrBlockAlreadyExists is returned when attempting to store a block that already exists.
	ErrBlockAlreadyExists = errors.New("block already exists")

	// ErrInvalidBlock is returned when a block fails structural validation.
	ErrInvalidBlock = errors.New("invalid block")

	// ErrInvalidBlockHeight is returned when a block's height is not tip+1.
	ErrInvalidBlockHeight = fmt.Errorf("%w: unexpected height", ErrInvalidBlock)

	// ErrInvalidPreviousHash is returned when a block does not reference the tip.
	ErrInvalidPreviousHash = fmt.Errorf("%w: previous hash mismatch", ErrInvalidBlock)

	// ErrInvalidBlockTimestamp is returned when a block is not newer than its parent.
	ErrInvalidBlockTimestamp = fmt.Errorf("%w: timestamp not after previous block", ErrInvalidBlock)

	// ErrInvalidProtocolVersion is returned for regressing or unsupported versions.
	ErrInvalidProtocolVersion = fmt.Errorf("%w: protocol version", ErrInvalidBlock)

	// ErrBlockTooLarge is returned when a block exceeds the byte budget.
	ErrBlockTooLarge = fmt.Errorf("%w: block too large", ErrInvalidBlock)

	// ErrTooManyTransactions is returned when a block carries more transactions than allowed.
	ErrTooManyTransactions = fmt.Errorf("%w: too many transactions", ErrInvalidBlock)

	// ErrInvalidBlockHash is returned when a block's integrity hashes do not match its content.
	ErrInvalidBlockHash = fmt.Errorf("%w: hash mismatch", ErrInvalidBlock)

	// ErrInvalidPreviousStateRoot is returned when a block does not build on the tip's state.
	ErrInvalidPreviousStateRoot = fmt.Errorf("%w: previous state root mismatch", ErrInvalidBlock)

	// ErrInvalidPreviousCommit is returned when a block's embedded previous commit is wrong.
	ErrInvalidPreviousCommit = fmt.Errorf("%w: previous commit", ErrInvalidBlock)

	// ErrInvalidTransaction is returned when a block carries a malformed or unsigned transaction.
	ErrInvalidTransaction = fmt.Errorf("%w: transaction", ErrInvalidBlock)

	// ErrInvalidGenesis is returned when a chain is created from an unusable genesis block.
	ErrInvalidGenesis = errors.New("invalid genesis block")
)

// Commit-related errors. All wrap ErrInvalidBlockCommit so callers can
// distinguish a bad commit from a bad block.
var (
	// ErrInvalidBlockCommit is returned when a block commit fails validation.
	ErrInvalidBlockCommit = errors.New("invalid block commit")

	// ErrCommitNotFound is returned when a commit cannot be found.
	ErrCommitNotFound = errors.New("block commit not found")

	// ErrMissingCommit is returned when a non-genesis block is appended without a commit.
	ErrMissingCommit = fmt.Errorf("%w: missing commit", ErrInvalidBlockCommit)

	// ErrUnexpectedCommit is returned when a commit is supplied for the genesis height.
	ErrUnexpectedCommit = fmt.Errorf("%w: genesis carries no commit", ErrInvalidBlockCommit)

	// ErrCommitHeightMismatch is returned when the commit height differs from the block.
	ErrCommitHeightMismatch = fmt.Errorf("%w: height mismatch", ErrInvalidBlockCommit)

	// ErrCommitBlockHashMismatch is returned when the commit is for a different block.
	ErrCommitBlockHashMismatch = fmt.Errorf("%w: block hash mismatch", ErrInvalidBlockCommit)

	// ErrCommitVoteCount is returned when the commit does not have one vote slot per validator.
	ErrCommitVoteCount = fmt.Errorf("%w: vote count mismatch", ErrInvalidBlockCommit)

	// ErrUnknownCommitValidator is returned when a vote comes from outside the validator set.
	ErrUnknownCommitValidator = fmt.Errorf("%w: unknown validator", ErrInvalidBlockCommit)

	// ErrCommitVoteOrder is returned when vote slots are not in canonical validator order.
	ErrCommitVoteOrder = fmt.Errorf("%w: vote slot order", ErrInvalidBlockCommit)

	// ErrCommitVotePower is returned when a vote's power differs from the validator set.
	ErrCommitVotePower = fmt.Errorf("%w: vote power mismatch", ErrInvalidBlockCommit)

	// ErrCommitVoteMismatch is returned when a vote is for a different height, round or block.
	ErrCommitVoteMismatch = fmt.Errorf("%w: vote does not match commit", ErrInvalidBlockCommit)

	// ErrInvalidCommitSignature is returned when a PreCommit vote is badly signed or a Null vote is signed.
	ErrInvalidCommitSignature = fmt.Errorf("%w: vote signature", ErrInvalidBlockCommit)

	// ErrInsufficientVotePower is returned when PreCommit power does not exceed two thirds.
	ErrInsufficientVotePower = fmt.Errorf("%w: insufficient voting power", ErrInvalidBlockCommit)
)

// Nonce errors.
var (
	// ErrInvalidTxNonce is returned when a transaction's nonce is not the next expected nonce.
	ErrInvalidTxNonce = errors.New("invalid transaction nonce")
)

// Transaction and mempool errors.
var (
	// ErrTxNotFound is returned when a transaction cannot be found.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrTxAlreadyExists is returned when a transaction is already staged.
	ErrTxAlreadyExists = errors.New("transaction already staged")

	// ErrInvalidTxGenesisHash is returned when a transaction is bound to another chain.
	ErrInvalidTxGenesisHash = errors.New("transaction genesis hash mismatch")

	// ErrTxIgnored is returned when a transaction has been marked as ignored.
	ErrTxIgnored = errors.New("transaction is ignored")

	// ErrTxExpired is returned when a transaction is older than the staging lifetime.
	ErrTxExpired = errors.New("transaction expired")

	// ErrMempoolFull is returned when the staged collection is at capacity.
	ErrMempoolFull = errors.New("mempool is full")

	// ErrTxValidatorNotSet is returned when no transaction validator is configured.
	ErrTxValidatorNotSet = errors.New("transaction validator not set")

	// ErrNotEnoughTransactions is returned when fewer eligible transactions
	// than the configured minimum are staged.
	ErrNotEnoughTransactions = errors.New("not enough transactions to propose")

	// ErrTxExecutionNotFound is returned when no execution record exists.
	ErrTxExecutionNotFound = errors.New("transaction execution not found")
)

// Policy errors.
var (
	// ErrPolicyViolation wraps errors raised by external block and transaction validators.
	ErrPolicyViolation = errors.New("policy violation")
)

// State and execution errors.
var (
	// ErrStateRootMismatch is returned when the recomputed state root differs from the declared one.
	ErrStateRootMismatch = errors.New("state root mismatch")

	// ErrStateNotFound is returned when a state root is not present in the state store.
	ErrStateNotFound = errors.New("state not found")

	// ErrBlockActionFailed is returned when a begin- or end-block action fails.
	ErrBlockActionFailed = errors.New("block action failed")

	// ErrUnknownActionType is returned when an action payload names an unregistered type.
	ErrUnknownActionType = errors.New("unknown action type")

	// ErrInvalidAction is returned when an action payload cannot be decoded or is malformed.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidValidatorSet is returned for malformed validator sets.
	ErrInvalidValidatorSet = errors.New("invalid validator set")
)

// Evidence errors.
var (
	// ErrInvalidEvidence is returned when evidence fails verification.
	ErrInvalidEvidence = errors.New("invalid evidence")

	// ErrEvidenceNotFound is returned when evidence cannot be found.
	ErrEvidenceNotFound = errors.New("evidence not found")

	// ErrDuplicateEvidence is returned when evidence is already pending or committed.
	ErrDuplicateEvidence = errors.New("duplicate evidence")

	// ErrEvidenceExpired is returned when evidence is older than the pending window.
	ErrEvidenceExpired = errors.New("evidence expired")

	// ErrFutureEvidence is returned when evidence targets a height beyond the tip.
	ErrFutureEvidence = fmt.Errorf("%w: height beyond tip", ErrInvalidEvidence)

	// ErrEvidenceNotValidator is returned when evidence targets a non-validator.
	ErrEvidenceNotValidator = fmt.Errorf("%w: target is not a validator", ErrInvalidEvidence)
)

// Storage errors.
var (
	// ErrKeyNotFound is returned when a key is absent from a key/value store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrChainNotInitialized is returned when opening a repository with no genesis.
	ErrChainNotInitialized = errors.New("chain not initialized")

	// ErrChainAlreadyInitialized is returned when creating a chain over an existing one.
	ErrChainAlreadyInitialized = errors.New("chain already initialized")
)

// Node errors.
var (
	// ErrNodeAlreadyStarted is returned when starting a running node.
	ErrNodeAlreadyStarted = errors.New("node already started")

	// ErrNodeNotStarted is returned when stopping a node that is not running.
	ErrNodeNotStarted = errors.New("node not started")

	// ErrGenesisNotFound is returned when a node has neither a chain nor a genesis file.
	ErrGenesisNotFound = errors.New("genesis file not found")
)
