package escrow

import (
	"errors"

	"payai/core/state"
)

var (
	// ErrUnauthorized is returned when the caller fails an authorisation check.
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrInvalidState is returned when a settled contract is mutated again.
	ErrInvalidState = errors.New("escrow: invalid state")
	// ErrInvalidParameter is returned for out-of-range fees, zero amounts and
	// malformed identifiers.
	ErrInvalidParameter = errors.New("escrow: invalid parameter")

	// Storage-level conditions surface unchanged from the state layer.
	ErrAlreadyExists     = state.ErrAlreadyExists
	ErrNotFound          = state.ErrNotFound
	ErrInsufficientFunds = state.ErrInsufficientFunds

	errNilState       = errors.New("escrow engine: state not configured")
	errVaultImbalance = errors.New("escrow engine: escrow vault holds less than the contract deposit")
)

// Error kinds reported to callers and metrics.
const (
	KindUnauthorized      = "unauthorized"
	KindAlreadyExists     = "already_exists"
	KindNotFound          = "not_found"
	KindInvalidState      = "invalid_state"
	KindInsufficientFunds = "insufficient_funds"
	KindInvalidParameter  = "invalid_parameter"
	KindInternal          = "internal"
)

// ErrorKind classifies err into one of the Kind constants. A nil error has no
// kind.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrInvalidParameter), errors.Is(err, state.ErrBalanceOverflow):
		return KindInvalidParameter
	default:
		return KindInternal
	}
}
