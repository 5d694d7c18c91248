// Package bank models the ledger's asset book: native-asset and
// fungible-token balances, allowances, and signed permits. The settlement
// engine mutates assets only through the Ledger interface; the in-memory
// implementation provides the per-operation snapshot/revert the engine's
// all-or-nothing semantics rely on.
package bank

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/types"
)

// Errors returned by ledger operations.
var (
	// ErrInsufficientBalance is a precondition failure: the payer does not
	// hold the requested amount.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")

	// ErrInsufficientAllowance is returned by delegated transfers when the
	// spender's approved amount is below the requested one.
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")

	// ErrNativeTransferRejected is returned when the recipient refuses the
	// native asset. It is a distinguishable failure, never a silent loss.
	ErrNativeTransferRejected = errors.New("bank: native transfer rejected by recipient")

	// ErrPermitExpired is returned for a permit whose deadline has passed.
	ErrPermitExpired = errors.New("bank: permit expired")

	// ErrPermitNonce is returned for a permit carrying a stale or future
	// nonce.
	ErrPermitNonce = errors.New("bank: bad permit nonce")

	// ErrPermitSignature is returned when the permit signature does not
	// recover to the stated owner. Security-relevant; never ignored.
	ErrPermitSignature = errors.New("bank: invalid permit signature")
)

// Ledger is the asset interface the settlement engine operates against.
// Implementations must make every method atomic and must support
// journal-style snapshots so a caller can revert a partially applied
// operation wholesale.
type Ledger interface {
	// NativeBalance returns addr's native-asset balance.
	NativeBalance(addr types.Address) *uint256.Int

	// TokenBalance returns addr's balance of the given token.
	TokenBalance(token, addr types.Address) *uint256.Int

	// TransferNative moves native assets. Fails with
	// ErrNativeTransferRejected when the recipient refuses, or
	// ErrInsufficientBalance when the sender lacks funds.
	TransferNative(from, to types.Address, amount *uint256.Int) error

	// TransferToken moves token assets from from's balance.
	TransferToken(token, from, to types.Address, amount *uint256.Int) error

	// TransferTokenFrom moves token assets out of owner's balance on the
	// authority of spender's allowance.
	TransferTokenFrom(token, spender, owner, to types.Address, amount *uint256.Int) error

	// Approve sets spender's allowance over owner's token balance.
	Approve(token, owner, spender types.Address, amount *uint256.Int)

	// Allowance returns spender's remaining allowance over owner's tokens.
	Allowance(token, owner, spender types.Address) *uint256.Int

	// Permit applies a signed off-ledger approval. now is the ledger time
	// the deadline is checked against.
	Permit(p PermitData, now uint64) error

	// PermitNonce returns the next expected permit nonce for owner.
	PermitNonce(owner types.Address) uint64

	// Snapshot returns a revision id for the current state.
	Snapshot() int

	// RevertToSnapshot undoes every mutation after the given revision.
	RevertToSnapshot(rev int)
}
