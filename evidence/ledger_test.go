package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/store"
	"github.com/blockberries/ledgerberry/types"
)

var testTime = time.Unix(1_700_000_000, 0)

type fakeChain struct {
	height int64
	valSet *types.ValidatorSet

	// onValidatorSet, if set, runs once on the next ValidatorSetAt call.
	onValidatorSet func()
}

func (c *fakeChain) Height() int64 { return c.height }

func (c *fakeChain) ValidatorSetAt(height int64) (*types.ValidatorSet, error) {
	if fn := c.onValidatorSet; fn != nil {
		c.onValidatorSet = nil
		fn()
	}
	if height > c.height {
		return nil, types.ErrBlockNotFound
	}
	return c.valSet, nil
}

type ledgerEnv struct {
	ledger *Ledger
	chain  *fakeChain
	repo   *store.Repository
	keys   []*types.PrivateKey
}

func newLedgerEnv(t *testing.T, pendingDuration int64) *ledgerEnv {
	t.Helper()
	keys := make([]*types.PrivateKey, 3)
	vals := make([]*types.Validator, 3)
	for i := range keys {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		key, err := types.PrivateKeyFromSeed(seed)
		require.NoError(t, err)
		keys[i] = key
		vals[i] = types.NewValidator(key.PublicKey(), 1)
	}
	vs, err := types.NewValidatorSet(vals)
	require.NoError(t, err)

	chain := &fakeChain{height: 10, valSet: vs}
	repo := store.NewRepository(kvstore.NewMemoryStore())
	return &ledgerEnv{
		ledger: NewLedger(repo, chain, pendingDuration, nil),
		chain:  chain,
		repo:   repo,
		keys:   keys,
	}
}

// evidence makes a double-sign by validator i at height.
func (env *ledgerEnv) evidence(t *testing.T, i int, height int64) *types.DuplicateVoteEvidence {
	t.Helper()
	key := env.keys[i]
	a, err := types.NewPreCommitVote(key, height, 0, types.HashBytes([]byte("a")), 1, testTime)
	require.NoError(t, err)
	b, err := types.NewPreCommitVote(key, height, 0, types.HashBytes([]byte("b")), 1, testTime)
	require.NoError(t, err)
	ev, err := types.NewDuplicateVoteEvidence(a, b, env.chain.valSet, testTime)
	require.NoError(t, err)
	return ev
}

func TestLedger_RoundTrip(t *testing.T) {
	env := newLedgerEnv(t, 5)
	l := env.ledger
	ev := env.evidence(t, 0, 8)

	require.NoError(t, l.AddEvidence(ev))
	got, err := l.GetPendingEvidence(ev.ID())
	require.NoError(t, err)
	assert.True(t, got.ID().Equal(ev.ID()))

	require.ErrorIs(t, l.AddEvidence(ev), types.ErrDuplicateEvidence)

	require.NoError(t, l.CommitEvidence(ev))
	committed, err := l.IsEvidenceCommitted(ev.ID())
	require.NoError(t, err)
	assert.True(t, committed)
	pending, err := l.IsEvidencePending(ev.ID())
	require.NoError(t, err)
	assert.False(t, pending)

	require.ErrorIs(t, l.AddEvidence(ev), types.ErrDuplicateEvidence)
	require.ErrorIs(t, l.CommitEvidence(ev), types.ErrDuplicateEvidence)

	_, err = l.GetCommittedEvidence(ev.ID())
	require.NoError(t, err)
}

func TestLedger_CommitWithoutPending(t *testing.T) {
	env := newLedgerEnv(t, 5)
	ev := env.evidence(t, 1, 9)
	require.NoError(t, env.ledger.CommitEvidence(ev))
	committed, err := env.ledger.IsEvidenceCommitted(ev.ID())
	require.NoError(t, err)
	assert.True(t, committed)
}

func TestLedger_AddRejects(t *testing.T) {
	env := newLedgerEnv(t, 5)
	l := env.ledger

	t.Run("future", func(t *testing.T) {
		err := l.AddEvidence(env.evidence(t, 0, 11))
		require.ErrorIs(t, err, types.ErrFutureEvidence)
		require.ErrorIs(t, err, types.ErrInvalidEvidence)
	})

	t.Run("expired", func(t *testing.T) {
		// 4 + 5 < 10
		require.ErrorIs(t, l.AddEvidence(env.evidence(t, 0, 4)), types.ErrEvidenceExpired)
		// 5 + 5 is not below 10
		require.NoError(t, l.AddEvidence(env.evidence(t, 0, 5)))
	})

	t.Run("not a validator", func(t *testing.T) {
		ev := env.evidence(t, 2, 9)
		reduced, err := env.chain.valSet.Update(types.NewValidator(env.keys[2].PublicKey(), 0))
		require.NoError(t, err)
		orig := env.chain.valSet
		env.chain.valSet = reduced
		defer func() { env.chain.valSet = orig }()

		require.ErrorIs(t, l.AddEvidence(ev), types.ErrEvidenceNotValidator)
	})

	t.Run("tampered", func(t *testing.T) {
		ev := env.evidence(t, 1, 9)
		ev.VoteB.Signature[0] ^= 0xff
		require.ErrorIs(t, l.AddEvidence(ev), types.ErrInvalidEvidence)
	})
}

func TestLedger_ExpiryAndPrune(t *testing.T) {
	env := newLedgerEnv(t, 2)
	l := env.ledger
	old := env.evidence(t, 0, 8)
	fresh := env.evidence(t, 1, 10)
	require.NoError(t, l.AddEvidence(old))
	require.NoError(t, l.AddEvidence(fresh))

	assert.False(t, l.IsEvidenceExpired(old))
	env.chain.height = 11
	assert.True(t, l.IsEvidenceExpired(old))

	pending, err := l.PendingEvidence()
	require.NoError(t, err)
	require.Len(t, pending, 1, "expired evidence is not offered")
	assert.True(t, pending[0].ID().Equal(fresh.ID()))

	require.ErrorIs(t, l.CommitEvidence(old), types.ErrEvidenceExpired)

	pruned, err := l.WriteBlock(env.repo.NewBatch(), types.NewBlock(types.BlockHeader{Height: 11}, nil, nil))
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.True(t, pruned[0].Equal(old.ID()))

	ok, err := l.IsEvidencePending(old.ID())
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = l.IsEvidencePending(fresh.ID())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedger_DeletePending(t *testing.T) {
	env := newLedgerEnv(t, 5)
	ev := env.evidence(t, 0, 9)
	require.NoError(t, env.ledger.AddEvidence(ev))

	deleted, err := env.ledger.DeletePendingEvidence(ev.ID())
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = env.ledger.DeletePendingEvidence(ev.ID())
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestLedger_ValidateBlockEvidence(t *testing.T) {
	env := newLedgerEnv(t, 3)
	l := env.ledger

	block := func(height int64, evs ...*types.DuplicateVoteEvidence) *types.Block {
		return types.NewBlock(types.BlockHeader{Height: height}, nil, evs)
	}

	ok := env.evidence(t, 0, 9)
	require.NoError(t, l.ValidateBlockEvidence(block(11, ok)))

	require.ErrorIs(t, l.ValidateBlockEvidence(block(11, ok, ok)), types.ErrDuplicateEvidence)
	require.ErrorIs(t, l.ValidateBlockEvidence(block(9, ok)), types.ErrFutureEvidence)
	// 9 + 3 < 13
	require.ErrorIs(t, l.ValidateBlockEvidence(block(13, ok)), types.ErrEvidenceExpired)

	require.NoError(t, l.CommitEvidence(ok))
	require.ErrorIs(t, l.ValidateBlockEvidence(block(11, ok)), types.ErrDuplicateEvidence)
}

func TestLedger_WriteBlockCommitsAndPrunes(t *testing.T) {
	env := newLedgerEnv(t, 5)
	l := env.ledger
	old := env.evidence(t, 0, 5)
	carried := env.evidence(t, 1, 9)
	require.NoError(t, l.AddEvidence(old))
	require.NoError(t, l.AddEvidence(carried))

	block := types.NewBlock(types.BlockHeader{Height: 11}, nil, []*types.DuplicateVoteEvidence{carried})
	pruned, err := l.WriteBlock(env.repo.NewBatch(), block)
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.True(t, pruned[0].Equal(old.ID()))

	pending, err := l.IsEvidencePending(carried.ID())
	require.NoError(t, err)
	assert.False(t, pending)
	committed, err := l.IsEvidenceCommitted(carried.ID())
	require.NoError(t, err)
	assert.True(t, committed)
}

// TestLedger_AddEvidenceRacesBlockWrite commits evidence through a block
// while AddEvidence for the same item is between its checks and its write.
func TestLedger_AddEvidenceRacesBlockWrite(t *testing.T) {
	env := newLedgerEnv(t, 5)
	l := env.ledger
	ev := env.evidence(t, 0, 9)
	block := types.NewBlock(types.BlockHeader{Height: 11}, nil, []*types.DuplicateVoteEvidence{ev})

	written := make(chan error, 1)
	env.chain.onValidatorSet = func() {
		go func() {
			_, err := l.WriteBlock(env.repo.NewBatch(), block)
			written <- err
		}()
		// give the block write a chance to run inside AddEvidence
		time.Sleep(50 * time.Millisecond)
	}

	addErr := l.AddEvidence(ev)
	require.NoError(t, <-written)

	pending, err := l.IsEvidencePending(ev.ID())
	require.NoError(t, err)
	committed, err := l.IsEvidenceCommitted(ev.ID())
	require.NoError(t, err)
	assert.True(t, committed)
	assert.False(t, pending && committed, "evidence is both pending and committed")
	if addErr == nil {
		assert.False(t, pending)
	} else {
		require.ErrorIs(t, addErr, types.ErrDuplicateEvidence)
	}
}
