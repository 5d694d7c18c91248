// Package vault implements the content-addressed escrow: a deterministic
// account derivation from an intent's commitments, funding-status queries
// against the asset ledger, and the two terminal balance moves (release,
// refund). There is no vault registry; any participant can recompute a
// vault's identity locally from public inputs.
package vault

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/bank"
	"github.com/intentlane/intentlane/crypto"
	"github.com/intentlane/intentlane/types"
)

// initCodeHash stands in for the hash of the escrow account's creation
// code. It is a protocol constant: changing it is a new vault namespace.
var initCodeHash = crypto.Keccak256Hash([]byte("intentlane.vault.v1"))

// vaultSeed is the constructor-argument half of the derivation preimage.
type vaultSeed struct {
	IntentHash types.Hash
	Reward     types.Reward
}

// DeriveAddress computes the escrow account identity for an intent. The
// derivation is CREATE2-style:
//
//	last20(keccak256(0xff || deployer || routeHash ||
//	                 keccak256(initCodeHash || rlp(intentHash, reward))))
//
// Identical inputs always yield the same identity, and two intents with
// distinct route salts can never collide onto one vault.
func DeriveAddress(deployer types.Address, routeHash, intentHash types.Hash, reward *types.Reward) types.Address {
	seed, err := rlp.EncodeToBytes(&vaultSeed{IntentHash: intentHash, Reward: *reward})
	if err != nil {
		panic("vault: seed encoding failed: " + err.Error())
	}
	inner := crypto.Keccak256(initCodeHash.Bytes(), seed)
	sum := crypto.Keccak256([]byte{0xff}, deployer.Bytes(), routeHash.Bytes(), inner)
	return types.BytesToAddress(sum[12:])
}

// IsFunded reports whether the vault's balances meet or exceed every entry
// declared in the reward.
func IsFunded(l bank.Ledger, addr types.Address, reward *types.Reward) bool {
	if l.NativeBalance(addr).Lt(reward.NativeAmount) {
		return false
	}
	for _, ta := range reward.Tokens {
		if l.TokenBalance(ta.Token, addr).Lt(ta.Amount) {
			return false
		}
	}
	return true
}

// FundingGap returns, per declared entry, the amount still missing before
// the vault is fully funded. Entries already met are returned as zero. The
// final return value is the missing native amount.
func FundingGap(l bank.Ledger, addr types.Address, reward *types.Reward) (tokens []types.TokenAmount, native *uint256.Int) {
	native = gap(l.NativeBalance(addr), reward.NativeAmount)
	tokens = make([]types.TokenAmount, len(reward.Tokens))
	for i, ta := range reward.Tokens {
		tokens[i] = types.TokenAmount{
			Token:  ta.Token,
			Amount: gap(l.TokenBalance(ta.Token, addr), ta.Amount),
		}
	}
	return tokens, native
}

func gap(have, want *uint256.Int) *uint256.Int {
	if have.Lt(want) {
		return new(uint256.Int).Sub(want, have)
	}
	return uint256.NewInt(0)
}

// ReleaseAll moves the vault's entire balance set (every declared token plus
// the native asset, including any excess above the declared amounts) to the
// recipient. Used for both withdrawal to a claimant and refund to the
// creator; the caller enforces which of the two is legal.
func ReleaseAll(l bank.Ledger, addr types.Address, reward *types.Reward, to types.Address) error {
	for _, ta := range reward.Tokens {
		bal := l.TokenBalance(ta.Token, addr)
		if bal.IsZero() {
			continue
		}
		if err := l.TransferToken(ta.Token, addr, to, bal); err != nil {
			return err
		}
	}
	native := l.NativeBalance(addr)
	if native.IsZero() {
		return nil
	}
	return l.TransferNative(addr, to, native)
}
