package bank

import (
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/crypto"
	"github.com/intentlane/intentlane/types"
)

func signedPermit(t *testing.T, chainID uint64, key *ecdsa.PrivateKey, p PermitData) PermitData {
	t.Helper()
	sig, err := crypto.Sign(PermitDigest(chainID, p), key)
	if err != nil {
		t.Fatalf("sign permit: %v", err)
	}
	p.Signature = sig
	return p
}

func TestPermitGrantsAllowance(t *testing.T) {
	l := NewMemLedger(7)
	key, _ := crypto.GenerateKey()
	owner := crypto.KeyAddress(key)

	p := signedPermit(t, 7, key, PermitData{
		Token:    tokenA,
		Owner:    owner,
		Spender:  bob,
		Amount:   amt(55),
		Deadline: 2000,
		Nonce:    0,
	})
	if err := l.Permit(p, 1000); err != nil {
		t.Fatalf("Permit: %v", err)
	}
	if !l.Allowance(tokenA, owner, bob).Eq(amt(55)) {
		t.Errorf("allowance = %v, want 55", l.Allowance(tokenA, owner, bob))
	}
	if l.PermitNonce(owner) != 1 {
		t.Errorf("nonce = %d, want 1", l.PermitNonce(owner))
	}

	// Replaying the same permit must fail on the advanced nonce.
	if err := l.Permit(p, 1000); !errors.Is(err, ErrPermitNonce) {
		t.Errorf("replay error = %v, want ErrPermitNonce", err)
	}
}

func TestPermitRejections(t *testing.T) {
	key, _ := crypto.GenerateKey()
	owner := crypto.KeyAddress(key)
	base := PermitData{
		Token:    tokenA,
		Owner:    owner,
		Spender:  bob,
		Amount:   amt(10),
		Deadline: 2000,
		Nonce:    0,
	}

	tests := []struct {
		name string
		prep func(t *testing.T) (PermitData, uint64)
		want error
	}{
		{"expired", func(t *testing.T) (PermitData, uint64) {
			return signedPermit(t, 7, key, base), 2001
		}, ErrPermitExpired},
		{"bad nonce", func(t *testing.T) (PermitData, uint64) {
			p := base
			p.Nonce = 5
			return signedPermit(t, 7, key, p), 1000
		}, ErrPermitNonce},
		{"wrong signer", func(t *testing.T) (PermitData, uint64) {
			other, _ := crypto.GenerateKey()
			return signedPermit(t, 7, other, base), 1000
		}, ErrPermitSignature},
		{"wrong chain", func(t *testing.T) (PermitData, uint64) {
			return signedPermit(t, 8, key, base), 1000
		}, ErrPermitSignature},
		{"nil amount", func(t *testing.T) (PermitData, uint64) {
			p := base
			p.Amount = nil
			return p, 1000
		}, types.ErrNilAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewMemLedger(7)
			p, now := tt.prep(t)
			if err := l.Permit(p, now); !errors.Is(err, tt.want) {
				t.Errorf("Permit() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPermitTamperedField(t *testing.T) {
	l := NewMemLedger(7)
	key, _ := crypto.GenerateKey()
	owner := crypto.KeyAddress(key)

	p := signedPermit(t, 7, key, PermitData{
		Token:    tokenA,
		Owner:    owner,
		Spender:  bob,
		Amount:   amt(10),
		Deadline: 2000,
		Nonce:    0,
	})
	p.Amount = uint256.NewInt(10_000)
	if err := l.Permit(p, 1000); !errors.Is(err, ErrPermitSignature) {
		t.Errorf("tampered amount error = %v, want ErrPermitSignature", err)
	}
}
