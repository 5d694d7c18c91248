package types

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/rlp"

	"golang.org/x/crypto/sha3"
)

// Canonical encoding and hashing of the committed records.
//
// Routes and rewards are RLP-encoded: the encoding is deterministic and
// type-disambiguating through struct shape, so no two semantically distinct
// records serialize to the same bytes. The intent hash then commits to the
// destination chain and both record hashes:
//
//	IntentHash = keccak256(be64(destination) || RouteHash || RewardHash)

// EncodeRoute returns the canonical byte encoding of a route. Panics only on
// encoder misuse; all Route field types are RLP-encodable.
func EncodeRoute(r *Route) []byte {
	b, err := rlp.EncodeToBytes(r)
	if err != nil {
		panic("types: route encoding failed: " + err.Error())
	}
	return b
}

// EncodeReward returns the canonical byte encoding of a reward.
func EncodeReward(r *Reward) []byte {
	b, err := rlp.EncodeToBytes(r)
	if err != nil {
		panic("types: reward encoding failed: " + err.Error())
	}
	return b
}

// HashRoute computes the keccak256 commitment of a route's canonical
// encoding.
func HashRoute(r *Route) Hash {
	return keccakHash(EncodeRoute(r))
}

// HashReward computes the keccak256 commitment of a reward's canonical
// encoding.
func HashReward(r *Reward) Hash {
	return keccakHash(EncodeReward(r))
}

// HashIntentParts computes the intent hash from its pre-hashed components.
// This is the form used by withdraw, refund, and challenge, which carry the
// component hashes rather than the full records.
func HashIntentParts(destination uint64, routeHash, rewardHash Hash) Hash {
	var buf [8 + 2*HashLength]byte
	binary.BigEndian.PutUint64(buf[:8], destination)
	copy(buf[8:40], routeHash[:])
	copy(buf[40:], rewardHash[:])
	return keccakHash(buf[:])
}

// HashIntent computes the identity of an intent.
func HashIntent(i *Intent) Hash {
	return HashIntentParts(i.Destination, HashRoute(&i.Route), HashReward(&i.Reward))
}

// Hashes returns (intentHash, routeHash, rewardHash) in one pass, since the
// intermediate hashes are reused throughout the protocol.
func (i *Intent) Hashes() (intentHash, routeHash, rewardHash Hash) {
	routeHash = HashRoute(&i.Route)
	rewardHash = HashReward(&i.Reward)
	intentHash = HashIntentParts(i.Destination, routeHash, rewardHash)
	return intentHash, routeHash, rewardHash
}

// keccakHash is a local keccak256 helper. The crypto package re-exports the
// general-purpose variants; types keeps its own copy to stay dependency-free
// at the bottom of the import graph.
func keccakHash(data []byte) Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write(data)
	var h Hash
	d.Sum(h[:0])
	return h
}
