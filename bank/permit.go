package bank

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/crypto"
	"github.com/intentlane/intentlane/types"
)

// PermitData is a signed off-ledger approval: the owner authorizes spender
// to move up to Amount of Token without a prior on-ledger Approve. Deadline
// is ledger time; Nonce must match the owner's next expected nonce so a
// permit cannot be replayed.
type PermitData struct {
	Token     types.Address
	Owner     types.Address
	Spender   types.Address
	Amount    *uint256.Int
	Deadline  uint64
	Nonce     uint64
	Signature []byte
}

type permitDomain struct {
	inner crypto.TypedDomain
}

func newPermitDomain(chainID uint64) permitDomain {
	return permitDomain{inner: crypto.TypedDomain{
		Name:    "intentlane.bank",
		Version: "1",
		ChainID: chainID,
	}}
}

var permitTypeHash = crypto.Keccak256Hash(
	[]byte("Permit(address token,address owner,address spender,uint256 amount,uint64 nonce,uint64 deadline)"),
)

// PermitDigest computes the digest an owner signs to approve a spender.
// Exposed so funders can produce permits off-ledger.
func PermitDigest(chainID uint64, p PermitData) types.Hash {
	return newPermitDomain(chainID).digest(p)
}

func (d permitDomain) digest(p PermitData) types.Hash {
	var nonce, deadline [8]byte
	binary.BigEndian.PutUint64(nonce[:], p.Nonce)
	binary.BigEndian.PutUint64(deadline[:], p.Deadline)
	amount := p.Amount.Bytes32()
	structHash := crypto.Keccak256Hash(
		permitTypeHash.Bytes(),
		p.Token.Word().Bytes(),
		p.Owner.Word().Bytes(),
		p.Spender.Word().Bytes(),
		amount[:],
		nonce[:],
		deadline[:],
	)
	return crypto.TypedDigest(&d.inner, structHash)
}

// Permit implements Ledger. On success the spender's allowance over the
// owner's tokens is set to p.Amount and the owner's nonce advances.
func (l *MemLedger) Permit(p PermitData, now uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p.Amount == nil {
		return types.ErrNilAmount
	}
	if now > p.Deadline {
		return ErrPermitExpired
	}
	if p.Nonce != l.nonces[p.Owner] {
		return ErrPermitNonce
	}
	signer, err := crypto.RecoverSigner(l.domain.digest(p), p.Signature)
	if err != nil || signer != p.Owner {
		return ErrPermitSignature
	}
	l.setNonce(p.Owner, p.Nonce+1)
	l.setAllowance(allowanceKey{p.Token, p.Owner, p.Spender}, new(uint256.Int).Set(p.Amount))
	return nil
}
