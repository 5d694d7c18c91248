package prover

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/crypto"
	"github.com/intentlane/intentlane/events"
	"github.com/intentlane/intentlane/log"
	"github.com/intentlane/intentlane/metrics"
	"github.com/intentlane/intentlane/types"
)

// OracleConfig configures an OracleProver. Oracle is the single trusted
// signer; ChainID and Address scope the typed-data domain so attestations
// cannot be replayed against another prover instance.
type OracleConfig struct {
	ChainID uint64
	Address types.Address
	Oracle  types.Address
	Bus     *events.Bus
	Logger  *log.Logger
	Metrics *metrics.Collector
}

// OracleProver accepts proof batches attested by one designated off-chain
// signer. The oracle is the trust root, so no sender whitelist exists: any
// caller may submit a batch, but only a valid oracle signature over exactly
// (destination, keccak(encodedProofs)) is accepted.
type OracleProver struct {
	oracle  types.Address
	domain  crypto.TypedDomain
	book    *proofBook
	log     *log.Logger
	metrics *metrics.Collector
}

var attestationTypeHash = crypto.Keccak256Hash(
	[]byte("ProofAttestation(uint64 destination,bytes32 proofsHash)"),
)

// NewOracleProver creates an oracle-signature prover.
func NewOracleProver(cfg OracleConfig) *OracleProver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.Module("prover.oracle").With("chain", cfg.ChainID)
	return &OracleProver{
		oracle: cfg.Oracle,
		domain: crypto.TypedDomain{
			Name:              "intentlane.oracle-prover",
			Version:           "1",
			ChainID:           cfg.ChainID,
			VerifyingContract: cfg.Address,
		},
		book:    newProofBook(cfg.Bus, logger),
		log:     logger,
		metrics: cfg.Metrics,
	}
}

// AttestationDigest computes the typed-data digest the oracle signs for a
// batch destined for this prover instance. Tampering with either the
// destination or the proof bytes changes the digest and voids the
// signature.
func (p *OracleProver) AttestationDigest(destination uint64, encodedProofs []byte) types.Hash {
	var dest [8]byte
	binary.BigEndian.PutUint64(dest[:], destination)
	proofsHash := crypto.Keccak256Hash(encodedProofs)
	structHash := crypto.Keccak256Hash(
		attestationTypeHash.Bytes(),
		dest[:],
		proofsHash.Bytes(),
	)
	return crypto.TypedDigest(&p.domain, structHash)
}

// Prove implements Prover. chainID is the chain the fulfillments occurred
// on; data is the oracle's compact signature over AttestationDigest.
func (p *OracleProver) Prove(_ types.Address, chainID uint64, encodedProofs []byte, data []byte, _ *uint256.Int) error {
	pairs, err := DecodeProofPairs(encodedProofs)
	if err != nil {
		return err
	}
	signer, err := crypto.RecoverSigner(p.AttestationDigest(chainID, encodedProofs), data)
	if err != nil || signer != p.oracle {
		p.log.Warn("rejected batch with invalid oracle signature", "destination", chainID)
		return ErrInvalidSignature
	}
	n := p.book.recordBatch(pairs, chainID)
	p.metrics.Add("prover.oracle.recorded", uint64(n))
	return nil
}

// ProvenIntents implements Prover.
func (p *OracleProver) ProvenIntents(intentHash types.Hash) ProofRecord {
	return p.book.get(intentHash)
}

// FetchFee implements Prover: attestation submission is free on-ledger.
func (p *OracleProver) FetchFee(uint64, []byte) (*uint256.Int, error) {
	return uint256.NewInt(0), nil
}

// ChallengeProof implements Prover.
func (p *OracleProver) ChallengeProof(intentHash types.Hash, destination uint64) bool {
	return p.book.challenge(intentHash, destination)
}
