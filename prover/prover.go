// Package prover implements the pluggable proof back-ends that turn
// destination-chain fulfillment into source-chain-verifiable proof. Four
// strategies realize the Prover interface: BridgeProver (asynchronous push
// over a cross-chain messenger), StateProver (pull-style verification of
// attested log proofs), OracleProver (typed-data attestation from one
// trusted signer), and LocalProver (same-chain, with the flash-fulfill
// intermediary-claimant pattern). Each prover owns its proof table
// exclusively; the settlement ledger reads it only through ProvenIntents.
package prover

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/types"
)

// ProofRecord attributes a fulfillment to a claimant on a destination
// chain. A zero claimant means unproven.
type ProofRecord struct {
	Claimant    types.Address
	Destination uint64
}

// Exists reports whether the record attests anything.
func (r ProofRecord) Exists() bool { return !r.Claimant.IsZero() }

// Prover is the common contract of all proof strategies.
//
// Prove accepts a batch of (intentHash, claimant) pairs packed back-to-back
// in encodedProofs (see EncodeProofPairs). chainID names the remote chain
// the call concerns: for push strategies the chain to dispatch proof to,
// for pull strategies the chain the proofs were produced on. data carries
// strategy-specific material (a signature, a proof blob); fee is the native
// payment attached for push strategies.
type Prover interface {
	Prove(sender types.Address, chainID uint64, encodedProofs []byte, data []byte, fee *uint256.Int) error

	// ProvenIntents returns the proof record for an intent hash, zero
	// claimant if unproven.
	ProvenIntents(intentHash types.Hash) ProofRecord

	// FetchFee estimates the native cost of submitting the given batch.
	// Zero for pull strategies.
	FetchFee(chainID uint64, encodedProofs []byte) (*uint256.Int, error)

	// ChallengeProof clears the record for intentHash iff its stored
	// destination differs from the supplied one. Returns whether a record
	// was cleared. Permissionless; a matching record is left untouched.
	ChallengeProof(intentHash types.Hash, destination uint64) bool
}

// Errors shared across strategies. Input-malformation and security
// rejections are fatal to the call; batch-entry conditions are recovered
// locally and never surface as errors.
var (
	// ErrArrayLengthMismatch is returned when parallel claimant/hash lists
	// disagree in length, or packed pairs are truncated. Caller-side
	// corruption; the whole batch is rejected.
	ErrArrayLengthMismatch = errors.New("prover: array length mismatch")

	// ErrInsufficientFee is returned when the attached payment does not
	// cover the messenger's quote.
	ErrInsufficientFee = errors.New("prover: insufficient fee")

	// ErrUntrustedSender is returned for an inbound message whose origin
	// is not on the configured whitelist. Security-relevant.
	ErrUntrustedSender = errors.New("prover: untrusted message sender")

	// ErrUnknownChain is returned when no remote counterpart is configured
	// for the requested chain.
	ErrUnknownChain = errors.New("prover: no counterpart configured for chain")

	// ErrInvalidSignature is returned when an oracle attestation does not
	// verify. Security-relevant.
	ErrInvalidSignature = errors.New("prover: invalid attestation signature")

	// ErrWrongEmitter is returned when a state proof's emitting contract
	// is not the configured portal for its chain.
	ErrWrongEmitter = errors.New("prover: proof emitted by unexpected contract")

	// ErrWrongEventSignature is returned when a state proof's first topic
	// is not the fulfillment event signature.
	ErrWrongEventSignature = errors.New("prover: wrong event signature")

	// ErrWrongTopicCount is returned when a state proof's topic layout
	// does not match the fulfillment event.
	ErrWrongTopicCount = errors.New("prover: wrong topic count")

	// ErrSecondaryCreator is returned by RefundBoth when the secondary
	// intent's declared creator is not the local prover itself.
	ErrSecondaryCreator = errors.New("prover: secondary intent creator is not this prover")

	// ErrWrongProver is returned when an intent names a different prover
	// than the one asked to act on it.
	ErrWrongProver = errors.New("prover: intent names a different prover")

	// ErrNotLocalIntent is returned by flash-fulfill for an intent whose
	// destination is not the local chain.
	ErrNotLocalIntent = errors.New("prover: intent destination is not the local chain")
)
