package types

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrInvalidSignature     = errors.New("invalid transaction signature")
	ErrAlreadyKnown         = errors.New("already known")
	ErrNotFound             = errors.New("transaction not found")
	ErrConflict             = errors.New("block number conflict")
	ErrMaxRetriesExceeded   = errors.New("max retries exceeded")
	// ErrDuplicate is returned by pending stores, the engine reports it as ErrAlreadyKnown
	ErrDuplicate = errors.New("duplicate pending transaction")
)

// RelayRejectedError is returned when the execution layer refuses a translated transaction.
// It is permanent for the attempt, a new attempt needs an explicit resubmission.
type RelayRejectedError struct {
	Reason string
	Err    error
}

func NewRelayRejectedError(err error) *RelayRejectedError {
	return &RelayRejectedError{Reason: err.Error(), Err: err}
}

func (e *RelayRejectedError) Error() string {
	return fmt.Sprintf("relay rejected: %s", e.Reason)
}

func (e *RelayRejectedError) Unwrap() error {
	return e.Err
}

func IsRelayRejected(err error) bool {
	var rejected *RelayRejectedError
	return errors.As(err, &rejected)
}
