package action

import (
	"fmt"

	"github.com/blockberries/ledgerberry/state"
	"github.com/blockberries/ledgerberry/types"
)

// Built-in action type ids.
const (
	SetStateTypeID     = "set_state"
	SetValidatorTypeID = "set_validator"
)

// SetState writes a value under Key in the writer's account, or removes
// the key when Delete is set.
type SetState struct {
	Key    string `cramberry:"1"`
	Value  []byte `cramberry:"2"`
	Delete bool   `cramberry:"3"`
}

// TypeID implements TypedAction.
func (a *SetState) TypeID() string { return SetStateTypeID }

// Execute implements Action.
func (a *SetState) Execute(ctx *Context, world *state.World) (*state.World, error) {
	if err := types.ValidateStateKey(a.Key); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidAction, err)
	}
	if err := types.ValidateStateValue(a.Value); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidAction, err)
	}
	if err := ctx.UseGas(1 + int64(len(a.Value))/1024); err != nil {
		return nil, err
	}
	if a.Delete {
		return world.RemoveState(ctx.Writer(), a.Key)
	}
	return world.SetState(ctx.Writer(), a.Key, a.Value)
}

// SetValidator adds, updates or, with zero power, removes a validator.
// Validator changes are only accepted in the genesis block or from block
// actions.
type SetValidator struct {
	PublicKey []byte `cramberry:"1"`
	Power     int64  `cramberry:"2"`
}

// TypeID implements TypedAction.
func (a *SetValidator) TypeID() string { return SetValidatorTypeID }

// Execute implements Action.
func (a *SetValidator) Execute(ctx *Context, world *state.World) (*state.World, error) {
	if ctx.BlockHeight != 0 && !ctx.IsBlockAction {
		return nil, &PermissionDeniedError{Action: SetValidatorTypeID, Signer: ctx.Signer}
	}
	if err := ctx.UseGas(1); err != nil {
		return nil, err
	}
	vs, err := world.GetValidatorSet()
	if err != nil {
		return nil, err
	}
	next, err := vs.Update(types.NewValidator(a.PublicKey, a.Power))
	if err != nil {
		return nil, err
	}
	return world.SetValidatorSet(next)
}

// PermissionDeniedError is returned when an action may not run in its context.
type PermissionDeniedError struct {
	Action string
	Signer types.Address
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("%s not permitted for signer %q", e.Action, e.Signer)
}

// Kind implements KindError.
func (e *PermissionDeniedError) Kind() string { return "PermissionDenied" }
