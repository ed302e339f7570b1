package events

import (
	"strings"

	"github.com/blockberries/ledgerberry/types"
)

// Event kinds published by the chain.
const (
	EventTxExecuted = "TxExecuted"
	EventTipChanged = "TipChanged"
)

// Event is a chain notification. Seq increases by one for every event the
// bus publishes.
type Event struct {
	Seq    uint64
	Kind   string
	Height int64
	Data   any
}

// TipChanged is the payload of an EventTipChanged event.
type TipChanged struct {
	OldTip    types.Hash
	OldHeight int64
	NewTip    types.Hash
	NewHeight int64
}

// TxExecuted is the payload of an EventTxExecuted event.
type TxExecuted struct {
	Index     int
	Signer    types.Address
	Nonce     int64
	Execution *types.TxExecution
}

// Query filters events for a subscription.
type Query interface {
	// Matches returns true if the event should be delivered.
	Matches(event Event) bool

	// String identifies the query.
	String() string
}

// QueryAll matches all events.
type QueryAll struct{}

// Matches always returns true.
func (QueryAll) Matches(Event) bool { return true }

// String returns the query representation.
func (QueryAll) String() string { return "all" }

// QueryKind matches events by kind.
type QueryKind struct {
	Kind string
}

// Matches returns true if the event kind matches.
func (q QueryKind) Matches(event Event) bool {
	return event.Kind == q.Kind
}

// String returns the query representation.
func (q QueryKind) String() string {
	return "kind=" + q.Kind
}

// QueryKinds matches events of any of several kinds.
type QueryKinds struct {
	Kinds []string
}

// Matches returns true if the event kind is in the list.
func (q QueryKinds) Matches(event Event) bool {
	for _, k := range q.Kinds {
		if event.Kind == k {
			return true
		}
	}
	return false
}

// String returns the query representation.
func (q QueryKinds) String() string {
	return "kinds=[" + strings.Join(q.Kinds, ",") + "]"
}

// QueryFunc uses a function as a query.
type QueryFunc struct {
	Fn          func(Event) bool
	Description string
}

// Matches calls the function.
func (q QueryFunc) Matches(event Event) bool {
	if q.Fn == nil {
		return false
	}
	return q.Fn(event)
}

// String returns the description.
func (q QueryFunc) String() string {
	if q.Description == "" {
		return "func"
	}
	return q.Description
}

// Config contains configuration for the Bus.
type Config struct {
	// BufferSize is the channel buffer size of each subscription.
	// Default: 100
	BufferSize int

	// MaxSubscribers caps the number of subscriptions. 0 means unlimited.
	MaxSubscribers int
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{BufferSize: 100}
}
