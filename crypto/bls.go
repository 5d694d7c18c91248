// BLS12-381 attestation verification over the supranational/blst library,
// using the MinPk scheme: public keys are 48-byte compressed G1 points,
// signatures 96-byte compressed G2 points.
package crypto

import (
	"errors"

	blst "github.com/supranational/blst/bindings/go"
)

// blsDST is the domain separation tag for attestation signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// Key and signature sizes for the MinPk scheme.
const (
	BLSPubkeySize = 48 // compressed G1
	BLSSigSize    = 96 // compressed G2
	BLSSecretSize = 32 // scalar field element
)

// Errors returned by the BLS helpers.
var (
	ErrBLSInvalidPubkey    = errors.New("crypto: invalid BLS public key bytes")
	ErrBLSInvalidSignature = errors.New("crypto: invalid BLS signature bytes")
	ErrBLSInvalidSecret    = errors.New("crypto: invalid BLS secret key bytes")
)

// BLSVerify checks a single BLS signature. pubkey must be a 48-byte
// compressed G1 point, sig a 96-byte compressed G2 point.
func BLSVerify(pubkey, msg, sig []byte) bool {
	if len(pubkey) != BLSPubkeySize || len(sig) != BLSSigSize {
		return false
	}
	pk := new(blst.P1Affine).Uncompress(pubkey)
	if pk == nil {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	return s.Verify(true, pk, true, msg, blsDST)
}

// BLSSign signs msg with a 32-byte secret scalar and returns the 96-byte
// compressed signature. Intended for attestation services and tests; the
// settlement engine itself only verifies.
func BLSSign(secret, msg []byte) ([]byte, error) {
	if len(secret) != BLSSecretSize {
		return nil, ErrBLSInvalidSecret
	}
	sk := new(blst.SecretKey).Deserialize(secret)
	if sk == nil {
		return nil, ErrBLSInvalidSecret
	}
	sig := new(blst.P2Affine).Sign(sk, msg, blsDST)
	return sig.Compress(), nil
}

// BLSKeygen derives a secret key and its compressed public key from input
// key material (at least 32 bytes).
func BLSKeygen(ikm []byte) (secret, pubkey []byte, err error) {
	if len(ikm) < 32 {
		return nil, nil, ErrBLSInvalidSecret
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, nil, ErrBLSInvalidSecret
	}
	pk := new(blst.P1Affine).From(sk)
	return sk.Serialize(), pk.Compress(), nil
}
