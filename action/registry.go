package action

import (
	"fmt"
	"sync"

	"github.com/blockberries/ledgerberry/types"
)

// Loader turns a transaction payload into an executable action.
type Loader interface {
	Load(payload []byte) (Action, error)
}

// Decoder builds an action from an envelope body.
type Decoder func(body []byte) (Action, error)

// Envelope is the serialized form of an action payload.
type Envelope struct {
	TypeID string `cramberry:"1"`
	Body   []byte `cramberry:"2"`
}

// Marshal encodes a typed action into a payload. The action value itself
// is encoded as the envelope body.
func Marshal(a TypedAction) ([]byte, error) {
	body, err := types.Encode(a)
	if err != nil {
		return nil, err
	}
	return types.Encode(&Envelope{TypeID: a.TypeID(), Body: body})
}

// MustMarshal is Marshal for statically known actions.
func MustMarshal(a TypedAction) []byte {
	data, err := Marshal(a)
	if err != nil {
		panic(err)
	}
	return data
}

// Registry is a Loader that dispatches on the envelope type id.
// It is safe for concurrent use.
type Registry struct {
	decoders map[string]Decoder
	mu       sync.RWMutex
}

// NewRegistry creates a registry with the built-in actions registered.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[string]Decoder)}
	r.mustRegister(SetStateTypeID, decodeInto[*SetState](func() *SetState { return &SetState{} }))
	r.mustRegister(SetValidatorTypeID, decodeInto[*SetValidator](func() *SetValidator { return &SetValidator{} }))
	return r
}

// NewEmptyRegistry creates a registry with no action types.
func NewEmptyRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register adds a decoder for typeID.
func (r *Registry) Register(typeID string, d Decoder) error {
	if typeID == "" {
		return fmt.Errorf("%w: empty type id", types.ErrInvalidAction)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[typeID]; exists {
		return fmt.Errorf("action type %q already registered", typeID)
	}
	r.decoders[typeID] = d
	return nil
}

func (r *Registry) mustRegister(typeID string, d Decoder) {
	if err := r.Register(typeID, d); err != nil {
		panic(err)
	}
}

// TypeIDs returns the registered type ids.
func (r *Registry) TypeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.decoders))
	for id := range r.decoders {
		ids = append(ids, id)
	}
	return ids
}

// Load implements Loader.
func (r *Registry) Load(payload []byte) (Action, error) {
	var env Envelope
	if err := types.Decode(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidAction, err)
	}
	r.mu.RLock()
	d, ok := r.decoders[env.TypeID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownActionType, env.TypeID)
	}
	a, err := d(env.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", types.ErrInvalidAction, env.TypeID, err)
	}
	return a, nil
}

// decodeInto returns a Decoder that decodes the body into a fresh value.
func decodeInto[T Action](fresh func() T) Decoder {
	return func(body []byte) (Action, error) {
		v := fresh()
		if err := types.Decode(body, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// RegisterType registers a typed action decoded with the canonical codec.
func RegisterType[T TypedAction](r *Registry, fresh func() T) error {
	return r.Register(fresh().TypeID(), decodeInto[T](fresh))
}
