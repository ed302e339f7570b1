package action

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/blockberries/ledgerberry/types"
)

// KindError is implemented by errors that report a stable exception kind
// name for TxExecution records.
type KindError interface {
	error
	Kind() string
}

// PanicError wraps a panic raised while executing an action.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("action panicked: %v", e.Value)
}

// Kind implements KindError.
func (e *PanicError) Kind() string { return "Panic" }

// GasLimitExceededError is returned when a transaction runs out of gas.
type GasLimitExceededError struct {
	Limit int64
	Used  int64
}

func (e *GasLimitExceededError) Error() string {
	return fmt.Sprintf("gas limit exceeded: used %d of %d", e.Used, e.Limit)
}

// Kind implements KindError.
func (e *GasLimitExceededError) Kind() string { return "GasLimitExceeded" }

// ErrorKind returns the exception kind name recorded for err.
func ErrorKind(err error) string {
	var k KindError
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, types.ErrUnknownActionType):
		return "UnknownActionType"
	case errors.Is(err, types.ErrInvalidAction):
		return "InvalidAction"
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if pkg := t.PkgPath(); t.Name() != "" && pkg != "errors" && pkg != "fmt" {
		return t.Name()
	}
	return "ActionError"
}
