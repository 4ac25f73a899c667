package wager

import "errors"

// Business-rule failures. These are user-facing rejections, not system
// faults, and are never retried.
var (
	ErrInvalidTransition = errors.New("invalid transition for current match state")
	ErrAlreadyClaimed    = errors.New("payout already claimed")
	ErrAlreadyRefunded   = errors.New("stake already refunded")
	ErrInvalidAmount     = errors.New("amount must be positive")
)
