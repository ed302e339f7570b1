package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/ledgerberry/types"
)

func TestProposerSelection(t *testing.T) {
	valSet, _ := makeTestValidators(t, 100, 200, 300)

	ps := NewProposerSelection(valSet)
	p := ps.Proposer()
	require.NotNil(t, p)

	// Initially all priorities are 0, the first validator is selected
	assert.Equal(t, valSet.Validators[0].Address, p.Address)
}

func TestProposerSelection_Empty(t *testing.T) {
	ps := NewProposerSelection(nil)
	assert.Nil(t, ps.Proposer())
	ps.Advance()
	assert.Nil(t, ps.Proposer())
}

func TestProposerSelection_WeightedByPower(t *testing.T) {
	valSet, _ := makeTestValidators(t, 100, 200)

	ps := NewProposerSelection(valSet)
	proposed := make(map[types.Address]int)
	for range 30 {
		proposed[ps.Proposer().Address]++
		ps.Advance()
	}

	power := make(map[types.Address]int64)
	for _, v := range valSet.Validators {
		power[v.Address] = v.Power
	}
	for addr, n := range proposed {
		// 30 blocks over a total power of 300 gives exact shares
		assert.Equal(t, int(power[addr]/10), n, "validator %s", addr)
	}
}

func TestProposerSelection_EqualPowerRotates(t *testing.T) {
	valSet, _ := makeTestValidators(t, 1, 1, 1, 1)

	ps := NewProposerSelection(valSet)
	for round := 0; round < 3; round++ {
		for i := range valSet.Validators {
			assert.Equal(t, valSet.Validators[i].Address, ps.Proposer().Address, "round %d slot %d", round, i)
			ps.Advance()
		}
	}
}
