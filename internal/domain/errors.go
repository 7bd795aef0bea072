package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the tickbridge domain.
// They are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running harness.
	ErrAlreadyRunning = errors.New("tickbridge: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped harness.
	ErrNotRunning = errors.New("tickbridge: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("tickbridge: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("tickbridge: invalid configuration")

	// ErrMissingSecret is returned when an auth token is requested without a shared secret.
	ErrMissingSecret = errors.New("tickbridge: auth secret not configured")

	// ErrInvalidSecret is returned when the shared secret is not valid hex.
	ErrInvalidSecret = errors.New("tickbridge: auth secret is not valid hex")

	// ErrTickChannelClosed is returned by in-process tick drivers after the channel handle is closed.
	ErrTickChannelClosed = errors.New("tickbridge: tick channels closed")

	// ErrTickRejected is returned when the tick server answers with success=false.
	ErrTickRejected = errors.New("tickbridge: tick rejected")

	// ErrFrameTooLarge is returned when a frame's declared length exceeds the configured cap.
	ErrFrameTooLarge = errors.New("tickbridge: frame too large")

	// ErrUnknownMessage is returned when a payload carries an unknown variant tag.
	ErrUnknownMessage = errors.New("tickbridge: unknown message variant")

	// ErrUnexpectedMessage is returned when a peer answers with a variant other than Response.
	ErrUnexpectedMessage = errors.New("tickbridge: unexpected message variant")

	// ErrInvalidAddress is returned for memo addresses that are not 40 hex characters.
	ErrInvalidAddress = errors.New("tickbridge: invalid address")

	// ErrAccountIndexOutOfRange is returned when an instruction references an account
	// outside the transaction's account table.
	ErrAccountIndexOutOfRange = errors.New("tickbridge: account index out of range")

	// ErrInvalidSigner is returned when raw signer bytes are not a valid ed25519 keypair.
	ErrInvalidSigner = errors.New("tickbridge: invalid signer")

	// ErrConfirmationTimeout is matched by TimeoutError.
	ErrConfirmationTimeout = errors.New("tickbridge: confirmation timed out")

	// ErrTransactionRejected is matched by RejectedError.
	ErrTransactionRejected = errors.New("tickbridge: transaction rejected")

	// ErrDispatchFailed wraps failures to hand a transaction to the validator.
	ErrDispatchFailed = errors.New("tickbridge: dispatch failed")
)

// TimeoutError reports that a signature never reached a terminal status
// within the retry budget.
type TimeoutError struct {
	Signature string
	Attempts  int
}

func (e *TimeoutError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("confirmation timed out for transaction %s after %d attempts", e.Signature, e.Attempts)
	}
	return fmt.Sprintf("confirmation timed out for transaction %s", e.Signature)
}

// Is reports whether target is ErrConfirmationTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrConfirmationTimeout
}

// RejectedError reports a definitive on-chain execution failure.
type RejectedError struct {
	Signature string
	Cause     error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Cause)
}

// Is reports whether target is ErrTransactionRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrTransactionRejected
}

func (e *RejectedError) Unwrap() error {
	return e.Cause
}
