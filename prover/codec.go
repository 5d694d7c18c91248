package prover

import (
	"github.com/intentlane/intentlane/types"
)

// Proof pair wire format: each pair is 64 bytes, the intent hash followed
// by the claimant left-padded to a 32-byte word. Pairs are packed
// back-to-back with no framing, so any length that is not a multiple of 64
// indicates caller-side corruption.
const pairSize = 64

// ProofPair is one decoded (intentHash, claimant) entry.
type ProofPair struct {
	IntentHash types.Hash
	Claimant   types.Address
}

// EncodeProofPairs packs parallel hash/claimant lists into the wire format.
// The lists must be the same length.
func EncodeProofPairs(hashes []types.Hash, claimants []types.Address) ([]byte, error) {
	if len(hashes) != len(claimants) {
		return nil, ErrArrayLengthMismatch
	}
	out := make([]byte, 0, len(hashes)*pairSize)
	for i := range hashes {
		out = append(out, hashes[i].Bytes()...)
		word := claimants[i].Word()
		out = append(out, word.Bytes()...)
	}
	return out, nil
}

// EncodePair packs a single (intentHash, claimant) entry.
func EncodePair(hash types.Hash, claimant types.Address) []byte {
	b, _ := EncodeProofPairs([]types.Hash{hash}, []types.Address{claimant})
	return b
}

// DecodeProofPairs unpacks the wire format. A truncated or misaligned
// payload is rejected wholesale with ErrArrayLengthMismatch; zero-claimant
// entries are returned as-is, since skipping them is batch-processing
// policy, not a codec concern.
func DecodeProofPairs(b []byte) ([]ProofPair, error) {
	if len(b)%pairSize != 0 {
		return nil, ErrArrayLengthMismatch
	}
	pairs := make([]ProofPair, 0, len(b)/pairSize)
	for off := 0; off < len(b); off += pairSize {
		var p ProofPair
		p.IntentHash = types.BytesToHash(b[off : off+32])
		p.Claimant = types.BytesToAddress(b[off+44 : off+64])
		pairs = append(pairs, p)
	}
	return pairs, nil
}
