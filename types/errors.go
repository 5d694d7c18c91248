package types

import "errors"

// Lifecycle errors of the settlement state machine. They live here, next to
// IntentStatus, so both the portal and the provers can match on them
// without importing one another.
var (
	// ErrWrongPortal: the route names a settlement-ledger instance other
	// than the one being called. Input malformation, fatal.
	ErrWrongPortal = errors.New("intent: route names a different portal")

	// ErrWrongDestination: the intent's declared destination is
	// inconsistent with the chain the call is made on.
	ErrWrongDestination = errors.New("intent: destination inconsistent with this chain")

	// ErrHashMismatch: a supplied record does not hash to the committed
	// value.
	ErrHashMismatch = errors.New("intent: record does not match committed hash")

	// ErrInsufficientReward: full funding was requested but the declared
	// amounts were not met. Precondition failure; retryable after topping
	// up.
	ErrInsufficientReward = errors.New("intent: insufficient reward funding")

	// ErrAlreadyFunded: the escrow already holds sufficient funds and a
	// subsequent full-funding call was made.
	ErrAlreadyFunded = errors.New("intent: already funded")

	// ErrRouteExpired: the route deadline has passed; fulfillment must
	// fail.
	ErrRouteExpired = errors.New("intent: route deadline passed")

	// ErrAlreadyFulfilled: a claimant is already recorded for this hash.
	// Fulfillment is exactly-once.
	ErrAlreadyFulfilled = errors.New("intent: already fulfilled")

	// ErrIntentNotProven: withdraw was attempted without a matching proof
	// record. Retryable once proof arrives.
	ErrIntentNotProven = errors.New("intent: not proven")

	// ErrAlreadyWithdrawn: the escrow was already released to a claimant.
	ErrAlreadyWithdrawn = errors.New("intent: already withdrawn")

	// ErrAlreadyRefunded: the escrow was already returned to the creator.
	ErrAlreadyRefunded = errors.New("intent: already refunded")

	// ErrRewardNotExpired: refund was attempted before the reward
	// deadline. Retryable after expiry.
	ErrRewardNotExpired = errors.New("intent: reward deadline not reached")

	// ErrUnknownProver: the reward names a prover address no instance is
	// registered for.
	ErrUnknownProver = errors.New("intent: unknown prover")
)
