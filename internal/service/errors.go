package service

import "errors"

// Error taxonomy surfaced by the confirmation engine. All failures are values
// returned to the caller; batch passes collect them per item and continue.
var (
	// ErrInvalidTransition means a requested state change violates the
	// confirmation lifecycle ordering. Never retried automatically.
	ErrInvalidTransition = errors.New("invalid confirmation transition")

	// ErrOrderAlreadyTerminal means an operation was attempted on an order
	// whose confirmation already reached confirmed, failed or abandoned.
	ErrOrderAlreadyTerminal = errors.New("order confirmation already terminal")

	// ErrNotFound covers unknown order, customer or agent ids.
	ErrNotFound = errors.New("not found")

	// ErrStaleOrder means a compare-and-set write observed a concurrent
	// status change; the item is reported and not retried within a pass.
	ErrStaleOrder = errors.New("order changed concurrently")
)
