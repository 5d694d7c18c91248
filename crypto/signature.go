// Compact secp256k1 signatures and typed-data digests.
//
// Signatures are 65 bytes (R || S || V with V in {0,1}), produced and
// recovered through go-ethereum's secp256k1 implementation. Typed-data
// digests follow the domain-separated layout
//
//	keccak256(0x19 0x01 || domainSeparator || structHash)
//
// which binds every signed message to a named scheme instance (oracle
// attestations, token permits) so a signature for one can never be replayed
// against another.
package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/intentlane/intentlane/types"
)

// SignatureLength is the byte length of a compact signature: R || S || V.
const SignatureLength = 65

// Errors for signature operations.
var (
	ErrSignatureLength = errors.New("crypto: signature must be 65 bytes")
	ErrRecoverFailed   = errors.New("crypto: public key recovery failed")
)

// Sign produces a compact signature over a 32-byte digest.
func Sign(digest types.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	return ethcrypto.Sign(digest.Bytes(), key)
}

// RecoverSigner recovers the signing address from a compact signature over
// the given digest.
func RecoverSigner(digest types.Hash, sig []byte) (types.Address, error) {
	if len(sig) != SignatureLength {
		return types.Address{}, ErrSignatureLength
	}
	pub, err := ethcrypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return types.Address{}, ErrRecoverFailed
	}
	return PubkeyAddress(pub), nil
}

// PubkeyAddress derives the 20-byte account identity of a public key:
// the last 20 bytes of the keccak256 of the uncompressed key.
func PubkeyAddress(pub *ecdsa.PublicKey) types.Address {
	raw := ethcrypto.FromECDSAPub(pub)
	return types.BytesToAddress(Keccak256(raw[1:])[12:])
}

// KeyAddress derives the account identity of a private key's public half.
func KeyAddress(key *ecdsa.PrivateKey) types.Address {
	return PubkeyAddress(&key.PublicKey)
}

// GenerateKey creates a fresh secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// TypedDomain identifies one signing scheme instance. Two domains differing
// in any field produce disjoint signature spaces.
type TypedDomain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract types.Address
}

// Separator computes the domain separator hash.
func (d *TypedDomain) Separator() types.Hash {
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], d.ChainID)
	return Keccak256Hash(
		Keccak256([]byte("TypedDomain(string name,string version,uint64 chainId,address verifyingContract)")),
		Keccak256([]byte(d.Name)),
		Keccak256([]byte(d.Version)),
		chain[:],
		d.VerifyingContract.Bytes(),
	)
}

// TypedDigest computes the final signing digest for a struct hash under the
// given domain.
func TypedDigest(domain *TypedDomain, structHash types.Hash) types.Hash {
	sep := domain.Separator()
	return Keccak256Hash([]byte{0x19, 0x01}, sep.Bytes(), structHash.Bytes())
}
