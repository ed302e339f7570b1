package consensus

import (
	"github.com/blockberries/ledgerberry/types"
)

// ProposerSelection picks block proposers weighted by voting power. Each
// validator gains its power in priority per block and the chosen proposer
// pays back the total, so over many blocks every validator proposes in
// proportion to its power. Ties go to the lower validator set index.
//
// ProposerSelection is not safe for concurrent use.
type ProposerSelection struct {
	validators []*types.Validator
	totalPower int64
	priorities []int64
}

// NewProposerSelection creates a selection over valSet with all priorities
// at zero.
func NewProposerSelection(valSet *types.ValidatorSet) *ProposerSelection {
	var vals []*types.Validator
	if valSet != nil {
		vals = valSet.Validators
	}
	return &ProposerSelection{
		validators: vals,
		totalPower: valSet.TotalPower(),
		priorities: make([]int64, len(vals)),
	}
}

// Proposer returns the validator with the highest priority, or nil for an
// empty set.
func (ps *ProposerSelection) Proposer() *types.Validator {
	idx := ps.proposerIndex()
	if idx < 0 {
		return nil
	}
	return ps.validators[idx].Copy()
}

// Advance moves the selection to the next block. It should be called once
// per committed block.
func (ps *ProposerSelection) Advance() {
	idx := ps.proposerIndex()
	if idx < 0 {
		return
	}
	for i, v := range ps.validators {
		ps.priorities[i] += v.Power
	}
	ps.priorities[idx] -= ps.totalPower
}

func (ps *ProposerSelection) proposerIndex() int {
	if len(ps.validators) == 0 {
		return -1
	}
	best := 0
	for i, p := range ps.priorities {
		if p > ps.priorities[best] {
			best = i
		}
	}
	return best
}
