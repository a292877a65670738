package surety

import (
	"errors"
	"fmt"
)

// Codespace tags ABCI results produced by this package.
const Codespace = "surety"

// Error is a typed rejection. Code travels across the ledger boundary as the
// ABCI result code so that clients can recover the sentinel.
type Error struct {
	Code   uint32
	Name   string
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

var registered = map[uint32]*Error{}

func register(code uint32, name, reason string) *Error {
	if _, dup := registered[code]; dup {
		panic(fmt.Sprintf("surety: error code %d registered twice", code))
	}
	e := &Error{Code: code, Name: name, Reason: reason}
	registered[code] = e
	return e
}

var (
	ErrUnauthorized       = register(2, "Unauthorized", "Caller is not authorized")
	ErrNotOperational     = register(3, "NotOperational", "Contract is currently not operational")
	ErrNotFunded          = register(4, "NotFunded", "Airlines must fund at least 10 ETH to participate")
	ErrDuplicateVote      = register(5, "DuplicateVote", "Airlines cannot double-vote to register an airline")
	ErrIndexMismatch      = register(6, "IndexMismatch", "Index does not match oracle request")
	ErrUnknownRequest     = register(7, "UnknownRequest", "Flight or timestamp do not match oracle request")
	ErrInsufficientStake  = register(8, "InsufficientStake", "Registration fee is required")
	ErrNotRegistered      = register(9, "NotRegistered", "Not registered as an oracle")
	ErrAlreadyRegistered  = register(10, "AlreadyRegistered", "Already registered")
	ErrUnknownFlight      = register(11, "UnknownFlight", "Flight is not registered")
	ErrFlightExists       = register(12, "FlightExists", "Flight is already registered")
	ErrInvalidPremium     = register(13, "InvalidPremium", "Insurance premium must be between 0 and 1 ETH")
	ErrPolicyExists       = register(14, "PolicyExists", "Passenger already insured for this flight")
	ErrInvalidStatusCode  = register(15, "InvalidStatusCode", "Unsupported flight status code")
	ErrInvalidTransaction = register(16, "InvalidTransaction", "Invalid transaction")
	ErrUnknownOperation   = register(17, "UnknownOperation", "Unknown operation")
	ErrNotFound           = register(18, "NotFound", "Not found")
)

// wrap attaches detail to a sentinel while keeping errors.Is working.
func wrap(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// CodeOf returns the ABCI code for err, 1 for untyped internal errors and 0 for nil.
func CodeOf(err error) uint32 {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 1
}

// FromCode maps an ABCI code back to its sentinel. It returns nil for unknown codes.
func FromCode(code uint32) *Error {
	return registered[code]
}

// IsRetryable reports whether resubmitting the same call may succeed later.
// Only a paused registry qualifies: every other rejection is deterministic.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNotOperational)
}
