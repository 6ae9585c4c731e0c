package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Settlement errors.
	ErrInvalidShares     = errors.New("invalid shares")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrNoRoute           = errors.New("no route")
	ErrExecutionFailed   = errors.New("execution failed")
	ErrDustSkipped       = errors.New("dust skipped")
	ErrAlreadyCompleted  = errors.New("already completed")
	ErrConcurrentRequest = errors.New("concurrent request exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRequestFailed     = errors.New("withdrawal request failed")
	ErrCapExceeded       = errors.New("liquidation cap exceeded")
	ErrAmountOverflow    = errors.New("amount overflow")
)
