// Package action defines executable actions, the registry that decodes
// them from transaction payloads, and the evaluator that runs a block's
// actions against world state.
package action

import (
	"fmt"

	"github.com/blockberries/ledgerberry/state"
	"github.com/blockberries/ledgerberry/types"
)

// Action is a deterministic state transition. Execute must not mutate
// world; it returns the resulting world instead.
type Action interface {
	Execute(ctx *Context, world *state.World) (*state.World, error)
}

// TypedAction is an action that can be serialized into a transaction
// payload under a stable type identifier.
type TypedAction interface {
	Action
	TypeID() string
}

// Context carries the block and transaction an action runs under.
type Context struct {
	// Signer is the transaction signer, empty for block actions.
	Signer types.Address

	// TxID is the containing transaction id, nil for block actions.
	TxID types.Hash

	BlockHeight          int64
	BlockTimestamp       int64
	BlockProposer        types.Address
	BlockProtocolVersion int32

	// IsBlockAction is set for begin- and end-block system actions.
	IsBlockAction bool

	gas *GasMeter
}

// Writer returns the address whose account an action writes by default:
// the signer, or the system account for block actions.
func (c *Context) Writer() types.Address {
	if c.Signer.IsEmpty() {
		return state.SystemAddress
	}
	return c.Signer
}

// UseGas charges amount against the transaction's gas limit.
func (c *Context) UseGas(amount int64) error {
	if c.gas == nil {
		return nil
	}
	return c.gas.Use(amount)
}

// GasUsed returns the gas charged so far in the current transaction.
func (c *Context) GasUsed() int64 {
	if c.gas == nil {
		return 0
	}
	return c.gas.Used()
}

// GasMeter tracks gas consumption against a limit. A zero limit is unlimited.
type GasMeter struct {
	limit int64
	used  int64
}

// NewGasMeter creates a meter with the given limit.
func NewGasMeter(limit int64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Use charges amount, failing once the limit is exceeded.
func (g *GasMeter) Use(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative gas amount %d", amount)
	}
	g.used += amount
	if g.limit > 0 && g.used > g.limit {
		return &GasLimitExceededError{Limit: g.limit, Used: g.used}
	}
	return nil
}

// Used returns the consumed gas.
func (g *GasMeter) Used() int64 {
	return g.used
}
