// Package evidence tracks duplicate-vote evidence through its lifecycle.
//
// Evidence is Pending once added and Committed once included in a block.
// Expired is never stored; it is computed as
// height + pendingDuration < tip height.
package evidence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/store"
	"github.com/blockberries/ledgerberry/types"
)

// ChainReader is the chain view the ledger validates evidence against.
type ChainReader interface {
	// Height returns the current tip height.
	Height() int64

	// ValidatorSetAt returns the validator set active at height.
	ValidatorSetAt(height int64) (*types.ValidatorSet, error)
}

// Ledger manages pending and committed evidence in the repository.
// It is safe for concurrent use.
type Ledger struct {
	repo            *store.Repository
	chain           ChainReader
	pendingDuration int64
	logger          *logging.Logger
	mu              sync.Mutex
}

// NewLedger creates a ledger. Evidence stays addable for pendingDuration
// blocks after its height.
func NewLedger(repo *store.Repository, chain ChainReader, pendingDuration int64, logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Ledger{
		repo:            repo,
		chain:           chain,
		pendingDuration: pendingDuration,
		logger:          logger.WithComponent("evidence"),
	}
}

// PendingDuration returns the number of blocks evidence stays addable.
func (l *Ledger) PendingDuration() int64 {
	return l.pendingDuration
}

// IsExpired reports whether evidence at height is expired at tipHeight.
func (l *Ledger) IsExpired(height, tipHeight int64) bool {
	return height+l.pendingDuration < tipHeight
}

// IsEvidenceExpired reports whether ev is expired at the current tip.
func (l *Ledger) IsEvidenceExpired(ev *types.DuplicateVoteEvidence) bool {
	return l.IsExpired(ev.Height, l.chain.Height())
}

// AddEvidence stores ev as pending.
//
// It fails if ev is already pending or committed, lies above the tip,
// is expired, or does not verify against the validator set at its height.
func (l *Ledger) AddEvidence(ev *types.DuplicateVoteEvidence) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := ev.ID()
	if err := l.checkNotRecorded(id, true); err != nil {
		return err
	}
	tip := l.chain.Height()
	if ev.Height > tip {
		return fmt.Errorf("%w: height %d above tip %d", types.ErrFutureEvidence, ev.Height, tip)
	}
	if l.IsExpired(ev.Height, tip) {
		return fmt.Errorf("%w: height %d at tip %d", types.ErrEvidenceExpired, ev.Height, tip)
	}
	if err := l.verify(ev); err != nil {
		return err
	}

	b := l.repo.NewBatch()
	b.PutPendingEvidence(ev)
	if err := b.Write(); err != nil {
		return fmt.Errorf("writing pending evidence: %w", err)
	}

	l.logger.Info("evidence added",
		logging.EvidenceID(id),
		logging.Address(ev.TargetAddress.String()),
		logging.Height(ev.Height))
	return nil
}

// CommitEvidence marks ev as committed, consuming a pending entry if one
// exists. Evidence need not have been pending. Expired or already
// committed evidence is rejected.
func (l *Ledger) CommitEvidence(ev *types.DuplicateVoteEvidence) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkCommittable(ev, l.chain.Height()); err != nil {
		return err
	}
	b := l.repo.NewBatch()
	stageCommit(b, ev)
	if err := b.Write(); err != nil {
		return fmt.Errorf("writing committed evidence: %w", err)
	}
	l.logger.Info("evidence committed", logging.EvidenceID(ev.ID()), logging.Height(ev.Height))
	return nil
}

// DeletePendingEvidence removes pending evidence and reports whether it
// was pending.
func (l *Ledger) DeletePendingEvidence(id types.Hash) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.repo.HasPendingEvidence(id)
	if err != nil || !ok {
		return false, err
	}
	b := l.repo.NewBatch()
	b.DeletePendingEvidence(id)
	if err := b.Write(); err != nil {
		return false, fmt.Errorf("deleting pending evidence: %w", err)
	}
	return true, nil
}

// GetPendingEvidence returns pending evidence by id.
func (l *Ledger) GetPendingEvidence(id types.Hash) (*types.DuplicateVoteEvidence, error) {
	return l.repo.GetPendingEvidence(id)
}

// GetCommittedEvidence returns committed evidence by id.
func (l *Ledger) GetCommittedEvidence(id types.Hash) (*types.DuplicateVoteEvidence, error) {
	return l.repo.GetCommittedEvidence(id)
}

// IsEvidencePending reports whether evidence is pending.
func (l *Ledger) IsEvidencePending(id types.Hash) (bool, error) {
	return l.repo.HasPendingEvidence(id)
}

// IsEvidenceCommitted reports whether evidence is committed.
func (l *Ledger) IsEvidenceCommitted(id types.Hash) (bool, error) {
	return l.repo.HasCommittedEvidence(id)
}

// PendingEvidence returns all pending evidence that is not expired at the
// current tip, ordered by height.
func (l *Ledger) PendingEvidence() ([]*types.DuplicateVoteEvidence, error) {
	all, err := l.repo.PendingEvidence()
	if err != nil {
		return nil, err
	}
	tip := l.chain.Height()
	out := all[:0]
	for _, ev := range all {
		if !l.IsExpired(ev.Height, tip) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ValidateBlockEvidence checks the evidence carried by a block that is
// about to become the tip. Every item must be new, unexpired at the
// block's height, below the block, and valid against the validator set
// at its own height.
func (l *Ledger) ValidateBlockEvidence(block *types.Block) error {
	seen := make(map[string]struct{}, len(block.Evidence))
	for i, ev := range block.Evidence {
		if ev == nil {
			return fmt.Errorf("%w: nil evidence at %d", types.ErrInvalidEvidence, i)
		}
		id := ev.ID()
		if _, dup := seen[string(id)]; dup {
			return fmt.Errorf("%w: %s twice in block", types.ErrDuplicateEvidence, id)
		}
		seen[string(id)] = struct{}{}

		if ev.Height >= block.Height() {
			return fmt.Errorf("%w: height %d in block %d", types.ErrFutureEvidence, ev.Height, block.Height())
		}
		if err := l.checkCommittable(ev, block.Height()); err != nil {
			return err
		}
	}
	return nil
}

// WriteBlock adds to b the commit of every evidence item carried by block
// and the deletion of pending evidence expired at the block's height, then
// writes b. The ledger lock is held through the write, so these
// transitions never interleave with AddEvidence or CommitEvidence. It
// returns the ids of the pruned evidence.
func (l *Ledger) WriteBlock(b *store.Batch, block *types.Block) ([]types.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	keep := make(map[string]struct{}, len(block.Evidence))
	for _, ev := range block.Evidence {
		stageCommit(b, ev)
		keep[string(ev.ID())] = struct{}{}
	}
	pruned, err := l.stagePrune(b, block.Height(), keep)
	if err != nil {
		return nil, err
	}
	if err := b.Write(); err != nil {
		return nil, err
	}
	return pruned, nil
}

func stageCommit(b *store.Batch, ev *types.DuplicateVoteEvidence) {
	b.DeletePendingEvidence(ev.ID())
	b.PutCommittedEvidence(ev)
}

// stagePrune adds to b the deletion of every pending item that is expired
// at newTip, skipping ids in keep.
func (l *Ledger) stagePrune(b *store.Batch, newTip int64, keep map[string]struct{}) ([]types.Hash, error) {
	all, err := l.repo.PendingEvidence()
	if err != nil {
		return nil, err
	}
	var pruned []types.Hash
	for _, ev := range all {
		if !l.IsExpired(ev.Height, newTip) {
			// sorted by height, nothing later expires
			break
		}
		id := ev.ID()
		if _, ok := keep[string(id)]; ok {
			continue
		}
		b.DeletePendingEvidence(id)
		pruned = append(pruned, id)
	}
	return pruned, nil
}

func (l *Ledger) checkCommittable(ev *types.DuplicateVoteEvidence, tip int64) error {
	if err := l.checkNotRecorded(ev.ID(), false); err != nil {
		return err
	}
	if l.IsExpired(ev.Height, tip) {
		return fmt.Errorf("%w: height %d at tip %d", types.ErrEvidenceExpired, ev.Height, tip)
	}
	return l.verify(ev)
}

func (l *Ledger) checkNotRecorded(id types.Hash, checkPending bool) error {
	if checkPending {
		pending, err := l.repo.HasPendingEvidence(id)
		if err != nil {
			return err
		}
		if pending {
			return fmt.Errorf("%w: %s is pending", types.ErrDuplicateEvidence, id)
		}
	}
	committed, err := l.repo.HasCommittedEvidence(id)
	if err != nil {
		return err
	}
	if committed {
		return fmt.Errorf("%w: %s is committed", types.ErrDuplicateEvidence, id)
	}
	return nil
}

func (l *Ledger) verify(ev *types.DuplicateVoteEvidence) error {
	valSet, err := l.chain.ValidatorSetAt(ev.Height)
	if err != nil {
		if errors.Is(err, types.ErrBlockNotFound) {
			return fmt.Errorf("%w: no validator set at height %d", types.ErrInvalidEvidence, ev.Height)
		}
		return err
	}
	return ev.Verify(valSet)
}
