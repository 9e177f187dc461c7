// Package errs defines the failure taxonomy shared by the range resolver,
// validators, orchestrator and signer backends.
package errs

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindInvalidPool
	KindNoSuitableRange
	KindInsufficientBalance
	KindSimulationFailed
	KindTransaction
	KindUserRejected
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindInvalidPool:
		return "invalid_pool"
	case KindNoSuitableRange:
		return "no_suitable_range"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindSimulationFailed:
		return "simulation_failed"
	case KindTransaction:
		return "transaction"
	case KindUserRejected:
		return "user_rejected"
	default:
		return "unknown"
	}
}

// Error is the concrete error type for every Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Shortfall is set for KindInsufficientBalance, in SOL.
	Shortfall decimal.Decimal
	// Payload holds the raw on-chain error for KindSimulationFailed and
	// KindTransaction.
	Payload interface{}
	// Logs holds program logs returned by a simulation, if any.
	Logs []string
	// ActiveBinID is the last known active bin for KindNoSuitableRange when
	// the snapshot read succeeded.
	ActiveBinID *int32
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same Kind, so errors.Is(err, &Error{Kind: k})
// works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Cause == nil
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Connection(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConnection, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func InvalidPool(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidPool, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NoSuitableRange(cause error, activeBinID *int32, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNoSuitableRange, Message: fmt.Sprintf(format, args...), Cause: cause, ActiveBinID: activeBinID}
}

func InsufficientBalance(shortfall decimal.Decimal) *Error {
	return &Error{
		Kind:      KindInsufficientBalance,
		Message:   fmt.Sprintf("insufficient balance: short by %s SOL", shortfall.StringFixed(6)),
		Shortfall: shortfall,
	}
}

func SimulationFailed(payload interface{}, logs []string) *Error {
	return &Error{
		Kind:    KindSimulationFailed,
		Message: fmt.Sprintf("simulation failed: %v", payload),
		Payload: payload,
		Logs:    logs,
	}
}

func Transaction(signature string, payload interface{}) *Error {
	return &Error{
		Kind:    KindTransaction,
		Message: fmt.Sprintf("transaction %s failed on-chain: %v", signature, payload),
		Payload: payload,
	}
}

func UserRejected(cause error) *Error {
	return &Error{Kind: KindUserRejected, Message: "user rejected the request", Cause: cause}
}

// Unknown wraps err unless it already carries a Kind.
func Unknown(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindUnknown, Message: err.Error(), Cause: err}
}
