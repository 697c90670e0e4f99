package domain

import "errors"

// Conservation-core failures. Every one of them aborts the enclosing
// transaction; none is retried internally.
var (
	ErrOverflow            = errors.New("arithmetic overflow")
	ErrUnderflow           = errors.New("arithmetic underflow")
	ErrInsufficientDeposit = errors.New("insufficient deposit")
	ErrMarketClosed        = errors.New("market is closed")
	ErrNothingToClaim      = errors.New("nothing to claim")
)

// Substrate and input failures.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrConflict            = errors.New("conflicting transaction, retry")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrLockHeld            = errors.New("lock already held")
	ErrProposalAccepted    = errors.New("market already accepted a proposal")
)
