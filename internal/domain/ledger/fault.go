package ledger

import (
	"context"
	"errors"
	"fmt"
)

// FaultClass is the categorized reason a ledger call did not succeed.
type FaultClass string

// Fault classes.
const (
	NonceTooLow            FaultClass = "NONCE_TOO_LOW"
	Underpriced            FaultClass = "UNDERPRICED"
	GasPriceTooLow         FaultClass = "GAS_PRICE_TOO_LOW"
	InsufficientFunds      FaultClass = "INSUFFICIENT_FUNDS"
	NetworkError           FaultClass = "NETWORK_ERROR"
	Timeout                FaultClass = "TIMEOUT"
	ExecutionReverted      FaultClass = "EXECUTION_REVERTED"
	OutOfGas               FaultClass = "OUT_OF_GAS"
	ReplacementUnderpriced FaultClass = "REPLACEMENT_UNDERPRICED"
	Unknown                FaultClass = "UNKNOWN"
)

// Classes lists every fault class in a stable order.
var Classes = []FaultClass{
	NonceTooLow, Underpriced, GasPriceTooLow, InsufficientFunds, NetworkError,
	Timeout, ExecutionReverted, OutOfGas, ReplacementUnderpriced, Unknown,
}

// Fault is the structured error returned by ledger adapters.
type Fault struct {
	Class FaultClass
	Op    string
	Err   error
}

// NewFault wraps err with a class. op names the ledger call.
func NewFault(class FaultClass, op string, err error) *Fault {
	return &Fault{Class: class, Op: op, Err: err}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Class)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Class, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Classify maps an error to its fault class. It never inspects message text:
// adapters build a *Fault with NewFault at the point the failure is known.
func Classify(err error) FaultClass {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Unknown
}

// Policy describes how the executor reacts to a class.
type Policy struct {
	Retryable   bool
	Backoff     bool
	ResyncNonce bool
	BumpGas     bool
}

// PolicyFor returns the retry policy of a class.
func PolicyFor(class FaultClass) Policy {
	switch class {
	case NonceTooLow:
		return Policy{Retryable: true, ResyncNonce: true}
	case Underpriced, GasPriceTooLow:
		return Policy{Retryable: true, BumpGas: true}
	case InsufficientFunds:
		return Policy{}
	default:
		// NetworkError, Timeout, ExecutionReverted, OutOfGas,
		// ReplacementUnderpriced and Unknown all back off.
		return Policy{Retryable: true, Backoff: true}
	}
}
