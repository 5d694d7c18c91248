package types

import (
	"errors"

	"github.com/holiman/uint256"
)

// Errors returned when a record fails basic shape validation. These are
// input-malformation failures: fatal to the call, never retried.
var (
	ErrZeroPortal    = errors.New("types: route names a zero portal")
	ErrNilAmount     = errors.New("types: nil token amount")
	ErrZeroToken     = errors.New("types: zero token address")
	ErrZeroCreator   = errors.New("types: reward names a zero creator")
	ErrZeroProver    = errors.New("types: reward names a zero prover")
	ErrZeroClaimant  = errors.New("types: zero claimant")
	ErrEmptyCallData = errors.New("types: call carries neither data nor value")
)

// TokenAmount is one fungible-token entry in a route or reward.
type TokenAmount struct {
	Token  Address
	Amount *uint256.Int
}

// Call is one destination-side call a solver must execute: target account,
// opaque payload, and attached native value.
type Call struct {
	Target Address
	Data   []byte
	Value  *uint256.Int
}

// Route is the destination-side work order. Immutable once hashed: any
// field change yields a different RouteHash and therefore a different
// intent.
type Route struct {
	Salt         Hash    // random uniqueness value chosen by the creator
	Deadline     uint64  // ledger time after which fulfillment must fail
	Portal       Address // settlement-ledger instance that must execute it
	NativeAmount *uint256.Int
	Tokens       []TokenAmount
	Calls        []Call
}

// Reward is the source-side compensation held in escrow until proof of
// fulfillment. Immutable once hashed.
type Reward struct {
	Deadline     uint64  // ledger time after which the escrow is refundable
	Creator      Address // refund beneficiary
	Prover       Address // prover instance that adjudicates proof
	NativeAmount *uint256.Int
	Tokens       []TokenAmount
}

// Intent binds a Route and a Reward to a destination chain. Its identity is
// the IntentHash computed by HashIntent.
type Intent struct {
	Destination uint64
	Route       Route
	Reward      Reward
}

// Validate rejects malformed routes: zero portal, nil amounts, zero token
// addresses, or calls that would be pure no-ops.
func (r *Route) Validate() error {
	if r.Portal.IsZero() {
		return ErrZeroPortal
	}
	if r.NativeAmount == nil {
		return ErrNilAmount
	}
	for _, ta := range r.Tokens {
		if ta.Token.IsZero() {
			return ErrZeroToken
		}
		if ta.Amount == nil {
			return ErrNilAmount
		}
	}
	for _, c := range r.Calls {
		if c.Value == nil {
			return ErrNilAmount
		}
		if len(c.Data) == 0 && c.Value.IsZero() {
			return ErrEmptyCallData
		}
	}
	return nil
}

// Validate rejects malformed rewards: zero creator or prover, nil amounts,
// zero token addresses.
func (r *Reward) Validate() error {
	if r.Creator.IsZero() {
		return ErrZeroCreator
	}
	if r.Prover.IsZero() {
		return ErrZeroProver
	}
	if r.NativeAmount == nil {
		return ErrNilAmount
	}
	for _, ta := range r.Tokens {
		if ta.Token.IsZero() {
			return ErrZeroToken
		}
		if ta.Amount == nil {
			return ErrNilAmount
		}
	}
	return nil
}

// Validate checks both halves of the intent.
func (i *Intent) Validate() error {
	if err := i.Route.Validate(); err != nil {
		return err
	}
	return i.Reward.Validate()
}

// IntentStatus tracks an intent through the settlement ledger's state
// machine. Funding states are derived from escrow balances, not stored;
// only the published/fulfilled/terminal transitions are recorded.
type IntentStatus uint8

const (
	StatusUnpublished IntentStatus = iota
	StatusPublished
	StatusFulfilled
	StatusWithdrawn
	StatusRefunded
)

// String implements fmt.Stringer.
func (s IntentStatus) String() string {
	switch s {
	case StatusUnpublished:
		return "unpublished"
	case StatusPublished:
		return "published"
	case StatusFulfilled:
		return "fulfilled"
	case StatusWithdrawn:
		return "withdrawn"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s IntentStatus) Terminal() bool {
	return s == StatusWithdrawn || s == StatusRefunded
}
