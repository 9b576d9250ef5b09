package models

import "errors"

// Business-rule errors surfaced to callers of the core operations. They are
// matched with errors.Is, so wrapping with additional context is fine.
var (
	// ErrNotFound indicates an unknown user, transaction or channel
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a duplicate registration
	ErrAlreadyExists = errors.New("already registered")
	// ErrNoFreeChannel indicates the whole channel pool is busy
	ErrNoFreeChannel = errors.New("no free channel")
	// ErrAlreadyBusy indicates a reserve attempt on a non-free channel
	ErrAlreadyBusy = errors.New("channel already busy")
	// ErrInsufficientFunds indicates a debit larger than the balance
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUnauthorized indicates a gating failure: wrong confirmer,
	// self-dealing, or acting in a channel one is not part of
	ErrUnauthorized = errors.New("not authorized")
	// ErrAlreadyProcessed indicates a confirm on a non-pending transaction
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrInvalidAmount indicates a zero or negative amount
	ErrInvalidAmount = errors.New("invalid amount")
)
