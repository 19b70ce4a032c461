package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the lifecycle taxonomy. Handlers map these to HTTP
// statuses; callers use errors.Is.
var (
	// ErrValidation: bad input, rejected before any side effect.
	ErrValidation = errors.New("validation error")

	// ErrAuthorization: wrong role or wrong state for the requested transition.
	ErrAuthorization = errors.New("authorization error")

	// ErrNotFound: unknown contract id.
	ErrNotFound = errors.New("not found")

	// ErrLedger: a ledger call did not confirm. The contract's persisted
	// status was not advanced; the operation is retryable.
	ErrLedger = errors.New("ledger error")

	// ErrDeployment: contract deployment did not confirm; no row was created.
	ErrDeployment = errors.New("deployment error")
)

// Ledger error sub-cases, all wrapping ErrLedger.
var (
	ErrLedgerConnection = fmt.Errorf("%w: connection failed", ErrLedger)
	ErrLedgerReverted   = fmt.Errorf("%w: transaction reverted on-chain", ErrLedger)

	// ErrLedgerTimeout is the ambiguous case: the transfer may have gone
	// through even though the caller gave up waiting for the receipt. Callers
	// must re-check the idempotency key on the ledger before resubmitting.
	ErrLedgerTimeout = fmt.Errorf("%w: confirmation timeout", ErrLedger)
)

// Validationf wraps ErrValidation with a formatted reason.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Authorizationf wraps ErrAuthorization with a formatted reason.
func Authorizationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}
