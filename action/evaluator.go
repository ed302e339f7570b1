package action

import (
	"fmt"

	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/state"
	"github.com/blockberries/ledgerberry/types"
)

// Phase identifies where in a block an action ran.
type Phase uint8

const (
	PhaseBeginBlock Phase = iota
	PhaseTransaction
	PhaseEndBlock
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseBeginBlock:
		return "begin_block"
	case PhaseTransaction:
		return "transaction"
	case PhaseEndBlock:
		return "end_block"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Evaluation describes one executed action.
type Evaluation struct {
	Phase       Phase
	TxIndex     int // -1 for block actions
	ActionIndex int
	TxID        types.Hash
	Signer      types.Address
	InputState  types.Hash
	OutputState types.Hash
	Err         error
}

// TxResult is the outcome of one transaction.
type TxResult struct {
	TxID           types.Hash
	Signer         types.Address
	Nonce          int64
	Fail           bool
	InputState     types.Hash
	OutputState    types.Hash
	ExceptionNames []string
	GasUsed        int64
	Err            error
}

// Result is the outcome of evaluating a block.
type Result struct {
	// Evaluations lists executed actions in execution order.
	Evaluations []*Evaluation

	// TxResults lists transaction outcomes in block order.
	TxResults []*TxResult

	// Output is the world after the last end-block action. It is not
	// committed.
	Output *state.World
}

// StateRoot returns the output state root.
func (r *Result) StateRoot() types.Hash {
	return r.Output.Hash()
}

// FailedTxs counts failed transactions.
func (r *Result) FailedTxs() int {
	n := 0
	for _, tr := range r.TxResults {
		if tr.Fail {
			n++
		}
	}
	return n
}

// TxExecutions builds the execution records for the block with the given hash.
func (r *Result) TxExecutions(blockHash types.Hash) []*types.TxExecution {
	out := make([]*types.TxExecution, len(r.TxResults))
	for i, tr := range r.TxResults {
		out[i] = &types.TxExecution{
			TxID:           tr.TxID,
			BlockHash:      blockHash,
			Fail:           tr.Fail,
			InputState:     tr.InputState,
			OutputState:    tr.OutputState,
			ExceptionNames: tr.ExceptionNames,
		}
	}
	return out
}

// Evaluator executes blocks against world state. It holds no per-block
// state, so concurrent evaluations over the same committed root are safe.
type Evaluator struct {
	store        *state.Store
	loader       Loader
	beginActions []Action
	endActions   []Action
	logger       *logging.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithBeginBlockActions sets system actions run before the first transaction.
func WithBeginBlockActions(actions ...Action) EvaluatorOption {
	return func(e *Evaluator) { e.beginActions = actions }
}

// WithEndBlockActions sets system actions run after the last transaction.
func WithEndBlockActions(actions ...Action) EvaluatorOption {
	return func(e *Evaluator) { e.endActions = actions }
}

// WithLogger sets the evaluator logger.
func WithLogger(l *logging.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = l }
}

// NewEvaluator creates an evaluator reading state from store and decoding
// transaction payloads with loader.
func NewEvaluator(store *state.Store, loader Loader, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store:  store,
		loader: loader,
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("evaluator")
	return e
}

// Evaluate runs the block's begin-block actions, its transactions in block
// order and its end-block actions, starting from previousStateRoot.
//
// A failing transaction is rolled back to its input state and recorded as
// failed; evaluation continues. A failing block action aborts evaluation
// with types.ErrBlockActionFailed.
func (e *Evaluator) Evaluate(block *types.Block, previousStateRoot types.Hash) (*Result, error) {
	world, err := e.store.GetWorld(previousStateRoot)
	if err != nil {
		return nil, err
	}

	base := Context{
		BlockHeight:          block.Header.Height,
		BlockTimestamp:       block.Header.Timestamp,
		BlockProposer:        block.Header.Proposer,
		BlockProtocolVersion: block.Header.ProtocolVersion,
	}
	res := &Result{TxResults: make([]*TxResult, 0, len(block.Transactions))}

	world, err = e.runBlockActions(PhaseBeginBlock, e.beginActions, base, world, res)
	if err != nil {
		return nil, err
	}

	for i, tx := range block.Transactions {
		var tr *TxResult
		world, tr = e.evaluateTx(i, tx, base, world, res)
		res.TxResults = append(res.TxResults, tr)
	}

	world, err = e.runBlockActions(PhaseEndBlock, e.endActions, base, world, res)
	if err != nil {
		return nil, err
	}

	res.Output = world
	return res, nil
}

func (e *Evaluator) runBlockActions(phase Phase, actions []Action, base Context, world *state.World, res *Result) (*state.World, error) {
	for i, a := range actions {
		ctx := base
		ctx.IsBlockAction = true
		out, err := e.execute(a, &ctx, world)
		res.Evaluations = append(res.Evaluations, &Evaluation{
			Phase:       phase,
			TxIndex:     -1,
			ActionIndex: i,
			InputState:  world.Hash(),
			OutputState: hashOr(out, world),
			Err:         err,
		})
		if err != nil {
			e.logger.Error("block action failed",
				logging.Height(base.BlockHeight),
				logging.State(phase.String()),
				logging.Index(i),
				logging.Error(err))
			return nil, fmt.Errorf("%w: %s action %d: %w", types.ErrBlockActionFailed, phase, i, err)
		}
		world = out
	}
	return world, nil
}

func (e *Evaluator) evaluateTx(index int, tx *types.Transaction, base Context, input *state.World, res *Result) (*state.World, *TxResult) {
	id := tx.ID()
	ctx := base
	ctx.Signer = tx.Signer
	ctx.TxID = id
	ctx.gas = NewGasMeter(tx.GasLimit)

	tr := &TxResult{
		TxID:       id,
		Signer:     tx.Signer,
		Nonce:      tx.Nonce,
		InputState: input.Hash(),
	}

	cur := input
	for i, payload := range tx.Actions {
		var out *state.World
		a, err := e.loader.Load(payload)
		if err == nil {
			out, err = e.execute(a, &ctx, cur)
		}
		res.Evaluations = append(res.Evaluations, &Evaluation{
			Phase:       PhaseTransaction,
			TxIndex:     index,
			ActionIndex: i,
			TxID:        id,
			Signer:      tx.Signer,
			InputState:  cur.Hash(),
			OutputState: hashOr(out, cur),
			Err:         err,
		})
		if err != nil {
			// Discard everything the transaction did so far.
			tr.Fail = true
			tr.Err = err
			tr.ExceptionNames = []string{ErrorKind(err)}
			tr.OutputState = tr.InputState
			tr.GasUsed = ctx.GasUsed()
			e.logger.Debug("transaction failed",
				logging.TxID(id),
				logging.Signer(tx.Signer.String()),
				logging.Index(i),
				logging.Error(err))
			return input, tr
		}
		cur = out
	}

	tr.OutputState = cur.Hash()
	tr.GasUsed = ctx.GasUsed()
	return cur, tr
}

// execute runs a single action, converting panics into errors.
func (e *Evaluator) execute(a Action, ctx *Context, world *state.World) (out *state.World, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &PanicError{Value: r}
		}
	}()
	out, err = a.Execute(ctx, world)
	if err == nil && out == nil {
		err = fmt.Errorf("%w: action returned no state", types.ErrInvalidAction)
	}
	return out, err
}

func hashOr(w, fallback *state.World) types.Hash {
	if w != nil {
		return w.Hash()
	}
	return fallback.Hash()
}
