package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")

	// Cross-reference and addressing failures.
	ErrPoolMismatch = errors.New("pool mismatch")
	ErrSeedMismatch = errors.New("seeds do not reproduce record location")
	ErrInvalidSeed  = errors.New("invalid seed")

	// Temporal preconditions.
	ErrInvalidWindow    = errors.New("invalid window: end must be after start")
	ErrTooEarly         = errors.New("too early")
	ErrTooLate          = errors.New("too late")
	ErrOutsideWindow    = errors.New("outside betting window")
	ErrDurationTooShort = errors.New("duration too short")

	// Idempotency guards.
	ErrAlreadyResolved = errors.New("pool already resolved")
	ErrAlreadySettled  = errors.New("pool already settled")
	ErrAlreadyClaimed  = errors.New("reward already claimed")

	ErrPaused          = errors.New("protocol paused")
	ErrNotInitialized  = errors.New("protocol not initialized")
	ErrDuplicateRecord = errors.New("duplicate record")

	// Value transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferFailed    = errors.New("transfer failed")

	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrInvalidFeeRate     = errors.New("fee rate exceeds 10000 bps")
	ErrInvalidArgument    = errors.New("invalid argument")

	// Residency between the primary ledger and the execution layer.
	ErrAlreadyDelegated = errors.New("record already delegated")
	ErrNotDelegated     = errors.New("record not delegated")
	ErrRecordDelegated  = errors.New("record is owned by the execution layer")
)
