package market

import "errors"

var (
	// ErrConflict: the rank or lead is already held by someone else.
	// Recoverable by trying another slot or waiting.
	ErrConflict = errors.New("resource already held")

	// ErrExpired: the hold or lead lapsed; restart the flow.
	ErrExpired = errors.New("hold or lead expired")

	// ErrNotEntitled: no active plan covering the operation.
	ErrNotEntitled = errors.New("no active entitlement")

	// ErrAlreadyAccepted: another freelancer won the lead race.
	ErrAlreadyAccepted = errors.New("lead already accepted")

	ErrLeadNotFound        = errors.New("lead not found")
	ErrLeadWithdrawn       = errors.New("lead withdrawn")
	ErrOrderNotFound       = errors.New("payment order not found")
	ErrOrderClosed         = errors.New("payment order already closed")
	ErrReservationNotFound = errors.New("reservation not found")

	ErrInvalidRank    = errors.New("rank must be 1, 2 or 3")
	ErrInvalidPurpose = errors.New("invalid payment purpose")

	// ErrSignatureMismatch: the gateway callback signature does not
	// match the recomputed HMAC. Treated as a security event.
	ErrSignatureMismatch = errors.New("gateway signature mismatch")

	// ErrReconciliationRequired: payment verified but the slot commit
	// failed; money captured, resource lost. Operator queue, never
	// swallowed.
	ErrReconciliationRequired = errors.New("payment requires manual reconciliation")
)
