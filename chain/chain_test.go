package chain

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/ledgerberry/action"
	"github.com/blockberries/ledgerberry/internal/testutil"
	"github.com/blockberries/ledgerberry/state"
	"github.com/blockberries/ledgerberry/types"
)

type testEnv struct {
	chain  *BlockChain
	stores *testutil.Stores
	keys   []*types.PrivateKey
	valSet *types.ValidatorSet
	signer *types.PrivateKey

	mu  sync.Mutex
	now time.Time
}

func (env *testEnv) clock() time.Time {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.now = env.now.Add(time.Second)
	return env.now
}

func (env *testEnv) deps() Deps {
	return Deps{
		Repository: env.stores.Repository,
		States:     env.stores.States,
		Loader:     action.NewRegistry(),
	}
}

// newTestEnv creates a chain whose genesis installs three validators of
// power 1.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		stores: testutil.MemoryStores(),
		keys:   testutil.Keys(t, 3),
		signer: testutil.Key(t, 10),
		now:    testutil.GenesisTime,
	}
	env.valSet = testutil.ValidatorSet(t, env.keys)
	opts = append([]Option{WithClock(env.clock)}, opts...)

	genesis, err := ProposeGenesisBlock(GenesisParams{
		Proposer:   env.keys[0],
		Validators: testutil.Validators(t, env.keys),
		Timestamp:  testutil.GenesisTime,
	}, env.deps(), opts...)
	require.NoError(t, err)

	env.chain, err = Create(genesis, env.deps(), opts...)
	require.NoError(t, err)
	return env
}

func (env *testEnv) stage(t *testing.T, key *types.PrivateKey, nonce int64, actions ...[]byte) *types.Transaction {
	t.Helper()
	tx := testutil.Transaction(t, key, nonce, env.chain.Genesis().Hash(), env.clock(), actions...)
	require.NoError(t, env.chain.StageTransaction(tx))
	return tx
}

func (env *testEnv) commit(t *testing.T, block *types.Block) *types.BlockCommit {
	t.Helper()
	return testutil.Commit(t, block, env.valSet, env.keys...)
}

// appendNext proposes and appends a block signed by every validator.
func (env *testEnv) appendNext(t *testing.T) *types.Block {
	t.Helper()
	block, err := env.chain.Propose(context.Background(), env.keys[0].Address())
	require.NoError(t, err)
	require.NoError(t, env.chain.Append(context.Background(), block, env.commit(t, block)))
	return block
}

// reseal recomputes a mutated block's body hashes.
func reseal(b *types.Block) *types.Block {
	return types.NewBlock(b.Header, b.Transactions, b.Evidence)
}

func TestCreate(t *testing.T) {
	env := newTestEnv(t)
	c := env.chain

	assert.Equal(t, int64(0), c.Height())
	assert.True(t, c.Genesis().Hash().Equal(c.TipHash()))
	assert.Nil(t, c.TipCommit())

	for _, h := range []int64{0, 1} {
		vs, err := c.ValidatorSetAt(h)
		require.NoError(t, err)
		assert.True(t, vs.Hash().Equal(env.valSet.Hash()), "height %d", h)
	}
	_, err := c.ValidatorSetAt(2)
	require.ErrorIs(t, err, types.ErrBlockNotFound)

	// the genesis proposer's transaction consumed nonce 0
	nonce, err := c.GetNextTxNonce(env.keys[0].Address())
	require.NoError(t, err)
	assert.Equal(t, int64(1), nonce)

	_, err = Create(c.Genesis(), env.deps())
	require.ErrorIs(t, err, types.ErrChainAlreadyInitialized)
}

func TestCreate_InvalidGenesis(t *testing.T) {
	keys := testutil.Keys(t, 3)
	deps := func(s *testutil.Stores) Deps {
		return Deps{Repository: s.Repository, States: s.States, Loader: action.NewRegistry()}
	}
	propose := func(t *testing.T, params GenesisParams) *types.Block {
		t.Helper()
		params.Proposer = keys[0]
		params.Timestamp = testutil.GenesisTime
		b, err := ProposeGenesisBlock(params, deps(testutil.MemoryStores()))
		require.NoError(t, err)
		return b
	}

	tests := []struct {
		name    string
		genesis func(t *testing.T) *types.Block
		wantErr error
	}{
		{
			name: "state root mismatch",
			genesis: func(t *testing.T) *types.Block {
				b := propose(t, GenesisParams{Validators: testutil.Validators(t, keys)})
				b.Header.StateRootHash = types.HashBytes([]byte("bogus"))
				return b
			},
			wantErr: types.ErrStateRootMismatch,
		},
		{
			name: "no validators",
			genesis: func(t *testing.T) *types.Block {
				return propose(t, GenesisParams{Actions: [][]byte{testutil.SetState("k", []byte("v"))}})
			},
			wantErr: types.ErrInvalidGenesis,
		},
		{
			name: "nonzero height",
			genesis: func(t *testing.T) *types.Block {
				b := propose(t, GenesisParams{Validators: testutil.Validators(t, keys)})
				b.Header.Height = 1
				return b
			},
			wantErr: types.ErrInvalidGenesis,
		},
		{
			name: "tampered tx hash",
			genesis: func(t *testing.T) *types.Block {
				b := propose(t, GenesisParams{Validators: testutil.Validators(t, keys)})
				b.Header.TxHash = types.HashBytes([]byte("bogus"))
				return b
			},
			wantErr: types.ErrInvalidBlockHash,
		},
		{
			name:    "nil",
			genesis: func(*testing.T) *types.Block { return nil },
			wantErr: types.ErrInvalidGenesis,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutil.MemoryStores()
			_, err := Create(tt.genesis(t), deps(s))
			require.ErrorIs(t, err, types.ErrInvalidGenesis)
			require.ErrorIs(t, err, tt.wantErr)

			_, err = s.Repository.Genesis()
			require.ErrorIs(t, err, types.ErrChainNotInitialized)
		})
	}
}

func TestProposeGenesisBlock_FailingTx(t *testing.T) {
	keys := testutil.Keys(t, 1)
	s := testutil.MemoryStores()
	_, err := ProposeGenesisBlock(GenesisParams{
		Proposer:   keys[0],
		Validators: testutil.Validators(t, keys),
		Actions:    [][]byte{action.MustMarshal(&action.SetState{})},
	}, Deps{Repository: s.Repository, States: s.States, Loader: action.NewRegistry()})
	require.ErrorIs(t, err, types.ErrInvalidGenesis)
}

func TestEndToEnd_QuorumAndNonce(t *testing.T) {
	env := newTestEnv(t)
	c := env.chain
	ctx := context.Background()

	tx, err := c.MakeTransaction(env.signer, [][]byte{testutil.SetState("greeting", []byte("hello"))}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), tx.Nonce)

	block, err := c.Propose(ctx, env.keys[0].Address())
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)

	// 2 of 3 equal-power votes is exactly two thirds, not more
	partial := testutil.Commit(t, block, env.valSet, env.keys[0], env.keys[1])
	err = c.Append(ctx, block, partial)
	require.ErrorIs(t, err, types.ErrInsufficientVotePower)
	require.ErrorIs(t, err, types.ErrInvalidBlockCommit)
	require.NotErrorIs(t, err, types.ErrInvalidBlock)
	assert.Equal(t, int64(0), c.Height())
	assert.Equal(t, 1, c.Mempool().Size())

	require.NoError(t, c.Append(ctx, block, env.commit(t, block)))
	assert.Equal(t, int64(1), c.Height())
	assert.True(t, c.TipHash().Equal(block.Hash()))

	nonce, err := c.repo.GetNonce(env.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(1), nonce)
	next, err := c.GetNextTxNonce(env.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
	assert.Equal(t, 0, c.Mempool().Size())

	exec, err := c.GetTxExecution(block.Hash(), tx.ID())
	require.NoError(t, err)
	assert.False(t, exec.Fail)
	assert.True(t, exec.OutputState.Equal(block.Header.StateRootHash))

	world, err := c.GetWorldAt(1)
	require.NoError(t, err)
	v, found, err := world.GetState(env.signer.Address(), "greeting")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("hello"), v)

	got, err := c.GetTransaction(tx.ID())
	require.NoError(t, err)
	assert.True(t, got.ID().Equal(tx.ID()))

	byHeight, err := c.GetBlockByHeight(1)
	require.NoError(t, err)
	assert.True(t, byHeight.Hash().Equal(block.Hash()))
	_, err = c.GetBlockByHeight(2)
	require.ErrorIs(t, err, types.ErrBlockNotFound)
}

func TestPropose_OrdersNonces(t *testing.T) {
	env := newTestEnv(t)
	for _, n := range []int64{2, 1, 0} {
		env.stage(t, env.signer, n, testutil.SetState("n", []byte{byte(n)}))
	}

	block, err := env.chain.Propose(context.Background(), env.keys[0].Address())
	require.NoError(t, err)
	require.Len(t, block.Transactions, 3)
	for i, tx := range block.Transactions {
		assert.Equal(t, int64(i), tx.Nonce)
	}
	require.NoError(t, env.chain.Append(context.Background(), block, env.commit(t, block)))
}

func TestPropose_GapStopsRun(t *testing.T) {
	env := newTestEnv(t)
	env.stage(t, env.signer, 0)
	env.stage(t, env.signer, 2)

	block, err := env.chain.Propose(context.Background(), env.keys[0].Address())
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)
	assert.Equal(t, int64(0), block.Transactions[0].Nonce)
}

func TestPropose_MinTransactions(t *testing.T) {
	p := DefaultPolicy()
	p.MinTransactionsPerBlock = 2
	env := newTestEnv(t, WithPolicy(p))

	_, err := env.chain.Propose(context.Background(), env.keys[0].Address())
	require.ErrorIs(t, err, types.ErrNotEnoughTransactions)

	env.stage(t, env.signer, 0)
	_, err = env.chain.Propose(context.Background(), env.keys[0].Address())
	require.ErrorIs(t, err, types.ErrNotEnoughTransactions)

	env.stage(t, env.signer, 1)
	block, err := env.chain.Propose(context.Background(), env.keys[0].Address())
	require.NoError(t, err)
	assert.Len(t, block.Transactions, 2)
}

func TestPropose_Header(t *testing.T) {
	env := newTestEnv(t)
	b1 := env.appendNext(t)
	assert.Nil(t, b1.Header.PreviousCommit)
	assert.True(t, b1.Header.PreviousStateRootHash.Equal(env.chain.Genesis().Header.StateRootHash))

	b2, err := env.chain.Propose(context.Background(), env.keys[1].Address())
	require.NoError(t, err)
	assert.Equal(t, int64(2), b2.Height())
	assert.Equal(t, env.keys[1].Address(), b2.Header.Proposer)
	assert.True(t, b2.Header.PreviousHash.Equal(b1.Hash()))
	require.NotNil(t, b2.Header.PreviousCommit)
	assert.True(t, b2.Header.PreviousCommit.BlockHash.Equal(b1.Hash()))
	assert.Greater(t, b2.Header.Timestamp, b1.Header.Timestamp)
	assert.Equal(t, types.CurrentProtocolVersion, b2.Header.ProtocolVersion)
}

func TestAppend_RejectsAtomically(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, env *testEnv, b *types.Block) *types.Block
		commit  func(t *testing.T, env *testEnv, b *types.Block) *types.BlockCommit
		wantErr error
	}{
		{
			name: "height gap",
			mutate: func(_ *testing.T, _ *testEnv, b *types.Block) *types.Block {
				b.Header.Height = 2
				return b
			},
			wantErr: types.ErrInvalidBlockHeight,
		},
		{
			name: "previous hash",
			mutate: func(_ *testing.T, _ *testEnv, b *types.Block) *types.Block {
				b.Header.PreviousHash = types.HashBytes([]byte("elsewhere"))
				return b
			},
			wantErr: types.ErrInvalidPreviousHash,
		},
		{
			name: "previous state root",
			mutate: func(_ *testing.T, _ *testEnv, b *types.Block) *types.Block {
				b.Header.PreviousStateRootHash = types.HashBytes([]byte("elsewhere"))
				return b
			},
			wantErr: types.ErrInvalidPreviousStateRoot,
		},
		{
			name: "stale timestamp",
			mutate: func(_ *testing.T, env *testEnv, b *types.Block) *types.Block {
				b.Header.Timestamp = env.chain.Genesis().Header.Timestamp
				return b
			},
			wantErr: types.ErrInvalidBlockTimestamp,
		},
		{
			name: "unsupported version",
			mutate: func(_ *testing.T, _ *testEnv, b *types.Block) *types.Block {
				b.Header.ProtocolVersion = types.CurrentProtocolVersion + 1
				return b
			},
			wantErr: types.ErrInvalidProtocolVersion,
		},
		{
			name: "tampered tx hash",
			mutate: func(_ *testing.T, _ *testEnv, b *types.Block) *types.Block {
				b.Header.TxHash = types.HashBytes([]byte("bogus"))
				return b
			},
			wantErr: types.ErrInvalidBlockHash,
		},
		{
			name: "missing commit",
			mutate: func(_ *testing.T, _ *testEnv, b *types.Block) *types.Block {
				return b
			},
			commit: func(*testing.T, *testEnv, *types.Block) *types.BlockCommit {
				return nil
			},
			wantErr: types.ErrMissingCommit,
		},
		{
			name: "commit for another block",
			mutate: func(_ *testing.T, _ *testEnv, b *types.Block) *types.Block {
				return b
			},
			commit: func(t *testing.T, env *testEnv, b *types.Block) *types.BlockCommit {
				other := *b
				other.Header.Timestamp++
				return env.commit(t, &other)
			},
			wantErr: types.ErrInvalidBlockCommit,
		},
		{
			name: "previous commit after genesis",
			mutate: func(_ *testing.T, env *testEnv, b *types.Block) *types.Block {
				b.Header.PreviousCommit = &types.BlockCommit{Height: 0, BlockHash: env.chain.TipHash()}
				return b
			},
			wantErr: types.ErrInvalidPreviousCommit,
		},
		{
			name: "skipped nonce",
			mutate: func(t *testing.T, env *testEnv, b *types.Block) *types.Block {
				tx := b.Transactions[0]
				b.Transactions[0] = testutil.Transaction(t, env.signer, 5, tx.GenesisHash, tx.Time(), tx.Actions...)
				return reseal(b)
			},
			wantErr: types.ErrInvalidTxNonce,
		},
		{
			name: "other chain",
			mutate: func(t *testing.T, env *testEnv, b *types.Block) *types.Block {
				tx := b.Transactions[0]
				b.Transactions[0] = testutil.Transaction(t, env.signer, tx.Nonce, types.HashBytes([]byte("other")), tx.Time(), tx.Actions...)
				return reseal(b)
			},
			wantErr: types.ErrInvalidTransaction,
		},
		{
			name: "bad signature",
			mutate: func(_ *testing.T, _ *testEnv, b *types.Block) *types.Block {
				tx := *b.Transactions[0]
				tx.Signature = append([]byte(nil), tx.Signature...)
				tx.Signature[0] ^= 0xff
				b.Transactions[0] = &tx
				return reseal(b)
			},
			wantErr: types.ErrInvalidTransaction,
		},
		{
			name: "nil transaction",
			mutate: func(_ *testing.T, _ *testEnv, b *types.Block) *types.Block {
				b.Transactions = append(b.Transactions, nil)
				return reseal(b)
			},
			wantErr: types.ErrInvalidTransaction,
		},
		{
			name: "state root",
			mutate: func(_ *testing.T, _ *testEnv, b *types.Block) *types.Block {
				b.Header.StateRootHash = types.HashBytes([]byte("bogus"))
				return b
			},
			wantErr: types.ErrStateRootMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			c := env.chain
			env.stage(t, env.signer, 0, testutil.SetState("k", []byte("v")))

			block, err := c.Propose(context.Background(), env.keys[0].Address())
			require.NoError(t, err)
			block = tt.mutate(t, env, block)
			commit := env.commit(t, block)
			if tt.commit != nil {
				commit = tt.commit(t, env, block)
			}

			tipHash := c.TipHash()
			err = c.Append(context.Background(), block, commit)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, int64(0), c.Height())
			assert.True(t, c.TipHash().Equal(tipHash))
			storedTip, err := c.repo.Tip()
			require.NoError(t, err)
			assert.True(t, storedTip.Equal(tipHash))
			nonce, err := c.repo.GetNonce(env.signer.Address())
			require.NoError(t, err)
			assert.Equal(t, int64(0), nonce)
			assert.Equal(t, 1, c.Mempool().Size())
			has, err := c.repo.HasBlock(block.Hash())
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestAppend_PreviousCommit(t *testing.T) {
	env := newTestEnv(t)
	env.appendNext(t)
	env.appendNext(t)

	block, err := env.chain.Propose(context.Background(), env.keys[0].Address())
	require.NoError(t, err)
	tip := env.chain.Tip()
	block.Header.PreviousCommit = testutil.Commit(t, tip, env.valSet, env.keys[0])

	err = env.chain.Append(context.Background(), block, env.commit(t, block))
	require.ErrorIs(t, err, types.ErrInvalidPreviousCommit)
	require.ErrorIs(t, err, types.ErrInsufficientVotePower)
	assert.Equal(t, int64(2), env.chain.Height())
}

func TestAppend_DuplicateNonceInBlock(t *testing.T) {
	env := newTestEnv(t)
	env.stage(t, env.signer, 0)
	block, err := env.chain.Propose(context.Background(), env.keys[0].Address())
	require.NoError(t, err)

	dup := testutil.Transaction(t, env.signer, 0, env.chain.Genesis().Hash(), env.clock(), testutil.SetState("x", nil))
	block.Transactions = append(block.Transactions, dup)
	block = reseal(block)

	err = env.chain.Append(context.Background(), block, env.commit(t, block))
	require.ErrorIs(t, err, types.ErrInvalidTxNonce)
}

func TestAppend_FailedTransactionIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	other := testutil.Key(t, 20)
	bad := env.stage(t, env.signer, 0, action.MustMarshal(&action.SetValidator{PublicKey: other.PublicKey(), Power: 5}))
	good := env.stage(t, env.signer, 1, testutil.SetState("k", []byte("v")))

	block := env.appendNext(t)
	require.Len(t, block.Transactions, 2)

	exec, err := env.chain.GetTxExecution(block.Hash(), bad.ID())
	require.NoError(t, err)
	assert.True(t, exec.Fail)
	assert.Equal(t, []string{"PermissionDenied"}, exec.ExceptionNames)
	assert.True(t, exec.InputState.Equal(exec.OutputState))

	exec, err = env.chain.GetTxExecution(block.Hash(), good.ID())
	require.NoError(t, err)
	assert.False(t, exec.Fail)

	// the failed transaction still consumed its nonce
	nonce, err := env.chain.repo.GetNonce(env.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(2), nonce)

	vs, err := env.chain.ValidatorSetAt(2)
	require.NoError(t, err)
	assert.False(t, vs.Contains(other.Address()))
}

// heightAction records the block height in the writer's account.
type heightAction struct {
	failAt int64
}

func (a *heightAction) Execute(ctx *action.Context, world *state.World) (*state.World, error) {
	if ctx.BlockHeight == a.failAt {
		return nil, errors.New("height action failed")
	}
	return world.SetState(ctx.Writer(), "height", []byte(strconv.FormatInt(ctx.BlockHeight, 10)))
}

func TestAppend_BlockActions(t *testing.T) {
	p := DefaultPolicy()
	p.EndBlockActions = []action.Action{&heightAction{failAt: 2}}
	env := newTestEnv(t, WithPolicy(p))

	env.appendNext(t)
	world, err := env.chain.GetWorldAt(1)
	require.NoError(t, err)
	v, found, err := world.GetState(state.SystemAddress, "height")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", string(v))

	// a failing block action rejects the block
	_, err = env.chain.Propose(context.Background(), env.keys[0].Address())
	require.ErrorIs(t, err, types.ErrBlockActionFailed)

	block := env.chain.Tip()
	next := types.NewBlock(types.BlockHeader{
		ProtocolVersion:       block.Header.ProtocolVersion,
		Height:                2,
		Timestamp:             block.Header.Timestamp + 1,
		Proposer:              env.keys[0].Address(),
		PreviousHash:          block.Hash(),
		PreviousCommit:        env.chain.TipCommit(),
		PreviousStateRootHash: block.Header.StateRootHash,
		StateRootHash:         block.Header.StateRootHash,
	}, nil, nil)
	err = env.chain.Append(context.Background(), next, env.commit(t, next))
	require.ErrorIs(t, err, types.ErrBlockActionFailed)
	assert.Equal(t, int64(1), env.chain.Height())
}

var errVeto = errors.New("vetoed by test policy")

func TestPolicy_BlockValidatorVeto(t *testing.T) {
	var veto bool
	p := DefaultPolicy()
	p.BlockValidators = []BlockValidator{func(_ *BlockChain, _ *types.Block) error {
		if veto {
			return errVeto
		}
		return nil
	}}
	env := newTestEnv(t, WithPolicy(p))
	env.stage(t, env.signer, 0)

	block, err := env.chain.Propose(context.Background(), env.keys[0].Address())
	require.NoError(t, err)

	veto = true
	_, err = env.chain.Propose(context.Background(), env.keys[0].Address())
	require.ErrorIs(t, err, types.ErrPolicyViolation)
	require.ErrorIs(t, err, errVeto)

	err = env.chain.Append(context.Background(), block, env.commit(t, block))
	require.ErrorIs(t, err, types.ErrPolicyViolation)
	require.ErrorIs(t, err, errVeto)
	assert.Equal(t, int64(0), env.chain.Height())
}

func TestPolicy_TxValidatorVeto(t *testing.T) {
	var banned types.Address
	p := DefaultPolicy()
	p.TxValidators = []TxValidator{func(_ *BlockChain, tx *types.Transaction) error {
		if tx.Signer == banned {
			return errVeto
		}
		return nil
	}}
	env := newTestEnv(t, WithPolicy(p))
	env.stage(t, env.signer, 0)
	block, err := env.chain.Propose(context.Background(), env.keys[0].Address())
	require.NoError(t, err)

	banned = env.signer.Address()
	tx := testutil.Transaction(t, env.signer, 1, env.chain.Genesis().Hash(), env.clock())
	err = env.chain.StageTransaction(tx)
	require.ErrorIs(t, err, types.ErrPolicyViolation)
	require.ErrorIs(t, err, errVeto)

	err = env.chain.Append(context.Background(), block, env.commit(t, block))
	require.ErrorIs(t, err, types.ErrPolicyViolation)
	require.ErrorIs(t, err, errVeto)
}

func TestPolicy_TxValidatorReadsChain(t *testing.T) {
	var seen []int64
	p := DefaultPolicy()
	p.TxValidators = []TxValidator{func(c *BlockChain, tx *types.Transaction) error {
		next, err := c.GetNextTxNonce(tx.Signer)
		if err != nil {
			return err
		}
		if _, err := c.StagedTransactions(true); err != nil {
			return err
		}
		seen = append(seen, next)
		return nil
	}}
	env := newTestEnv(t, WithPolicy(p))

	tx := testutil.Transaction(t, env.signer, 0, env.chain.Genesis().Hash(), env.clock())
	done := make(chan error, 1)
	go func() {
		if err := env.chain.StageTransaction(tx); err != nil {
			done <- err
			return
		}
		_, err := env.chain.MakeTransaction(env.signer, nil, time.Time{})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("staging with a hook that reads the chain did not return")
	}
	assert.Equal(t, []int64{0, 1}, seen)
	assert.Equal(t, 2, env.chain.Mempool().Size())
}

func TestPolicy_Limits(t *testing.T) {
	p := DefaultPolicy()
	p.MaxTransactionsPerSignerPerBlock = 2
	env := newTestEnv(t, WithPolicy(p))
	for n := int64(0); n < 3; n++ {
		env.stage(t, env.signer, n)
	}

	block, err := env.chain.Propose(context.Background(), env.keys[0].Address())
	require.NoError(t, err)
	require.Len(t, block.Transactions, 2)

	extra := testutil.Transaction(t, env.signer, 2, env.chain.Genesis().Hash(), env.clock())
	block.Transactions = append(block.Transactions, extra)
	block = reseal(block)
	err = env.chain.Append(context.Background(), block, env.commit(t, block))
	require.ErrorIs(t, err, types.ErrTooManyTransactions)
}

func TestMakeTransaction_ConcurrentNonces(t *testing.T) {
	env := newTestEnv(t)
	const n = 50

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		nonces []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := env.chain.MakeTransaction(env.signer, [][]byte{testutil.SetState("k", []byte{byte(i)})}, time.Time{})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			nonces = append(nonces, tx.Nonce)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, nonces, n)
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, nonce := range nonces {
		assert.Equal(t, int64(i), nonce)
	}

	block := env.appendNext(t)
	assert.Len(t, block.Transactions, n)
	next, err := env.chain.GetNextTxNonce(env.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(n), next)
}

func TestStagedTransactions(t *testing.T) {
	env := newTestEnv(t)
	c := env.chain

	tx0 := env.stage(t, env.signer, 0)
	env.appendNext(t)

	// a consumed nonce is staged but filtered
	require.NoError(t, c.StageTransaction(tx0))
	tx1 := env.stage(t, env.signer, 1)

	all, err := c.StagedTransactions(false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	eligible, err := c.StagedTransactions(true)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.True(t, eligible[0].ID().Equal(tx1.ID()))

	got, err := c.GetStagedTransaction(tx1.ID())
	require.NoError(t, err)
	assert.True(t, got.ID().Equal(tx1.ID()))

	assert.True(t, c.UnstageTransaction(tx1.ID()))
	assert.False(t, c.UnstageTransaction(tx1.ID()))
	_, err = c.GetStagedTransaction(tx1.ID())
	require.ErrorIs(t, err, types.ErrTxNotFound)

	c.IgnoreTransaction(tx1.ID())
	require.ErrorIs(t, c.StageTransaction(tx1), types.ErrTxIgnored)

	foreign := testutil.Transaction(t, env.signer, 2, types.HashBytes([]byte("other")), env.clock())
	require.ErrorIs(t, c.StageTransaction(foreign), types.ErrInvalidTxGenesisHash)
}

func TestOpen(t *testing.T) {
	env := newTestEnv(t)
	env.stage(t, env.signer, 0)
	b1 := env.appendNext(t)
	b2 := env.appendNext(t)

	reopened, err := Open(env.deps())
	require.NoError(t, err)
	assert.Equal(t, int64(2), reopened.Height())
	assert.True(t, reopened.TipHash().Equal(b2.Hash()))
	assert.True(t, reopened.Genesis().Hash().Equal(env.chain.Genesis().Hash()))
	require.NotNil(t, reopened.TipCommit())
	assert.True(t, reopened.TipCommit().BlockHash.Equal(b2.Hash()))

	commit, err := reopened.GetBlockCommit(b1.Hash())
	require.NoError(t, err)
	assert.Equal(t, int64(1), commit.Height)

	next, err := reopened.GetNextTxNonce(env.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	_, err = Open(Deps{
		Repository: testutil.MemoryStores().Repository,
		States:     env.stores.States,
		Loader:     action.NewRegistry(),
	})
	require.ErrorIs(t, err, types.ErrChainNotInitialized)

	_, err = Open(Deps{})
	require.Error(t, err)
}
