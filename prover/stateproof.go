package prover

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/crypto"
	"github.com/intentlane/intentlane/events"
	"github.com/intentlane/intentlane/log"
	"github.com/intentlane/intentlane/metrics"
	"github.com/intentlane/intentlane/types"
)

// FulfillmentTopic is the event signature a destination portal emits when a
// route is fulfilled: topic[0] of the log the StateProver validates.
var FulfillmentTopic = crypto.Keccak256Hash([]byte("IntentFulfilled(bytes32,address)"))

// fulfillmentTopicCount is the expected topic layout:
// [signature, intentHash, claimant].
const fulfillmentTopicCount = 3

// ProvenLog is the collaborator's output: one log event cryptographically
// proven to have been emitted on a remote chain. The verifier does only the
// cryptographic check; the StateProver does the semantic validation.
type ProvenLog struct {
	ChainID uint64
	Emitter types.Address
	Topics  []types.Hash
	Data    []byte
}

// Verifier checks an opaque proof blob against a remote chain's state and
// extracts the log it proves.
type Verifier interface {
	Verify(proof []byte) (*ProvenLog, error)
}

// StateConfig configures a StateProver. Portals maps each supported remote
// chain to the portal contract whose logs are accepted.
type StateConfig struct {
	Portals  map[uint64]types.Address
	Verifier Verifier
	Bus      *events.Bus
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// StateProver records proofs by verifying receipt/log proofs of remote
// fulfillment events. It never receives pushed messages: callers hand it
// proof blobs, singly or batched.
type StateProver struct {
	portals  map[uint64]types.Address
	verifier Verifier
	book     *proofBook
	log      *log.Logger
	metrics  *metrics.Collector
}

// NewStateProver creates a state-proof prover. The portals map is copied.
func NewStateProver(cfg StateConfig) *StateProver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.Module("prover.state")
	portals := make(map[uint64]types.Address, len(cfg.Portals))
	for id, addr := range cfg.Portals {
		portals[id] = addr
	}
	return &StateProver{
		portals:  portals,
		verifier: cfg.Verifier,
		book:     newProofBook(cfg.Bus, logger),
		log:      logger,
		metrics:  cfg.Metrics,
	}
}

// ValidateProof verifies one proof blob and, if its log is a genuine
// fulfillment event from the configured remote portal, records the proof.
func (p *StateProver) ValidateProof(proof []byte) error {
	pl, err := p.verifier.Verify(proof)
	if err != nil {
		return err
	}
	portal, ok := p.portals[pl.ChainID]
	if !ok || portal != pl.Emitter {
		return ErrWrongEmitter
	}
	if len(pl.Topics) != fulfillmentTopicCount {
		return ErrWrongTopicCount
	}
	if pl.Topics[0] != FulfillmentTopic {
		return ErrWrongEventSignature
	}
	intentHash := pl.Topics[1]
	claimant := types.BytesToAddress(pl.Topics[2].Bytes()[12:])
	if p.book.record(intentHash, claimant, pl.ChainID) == outcomeRecorded {
		p.metrics.Inc("prover.state.recorded")
	}
	return nil
}

// ValidateBatch verifies a batch of proof blobs. The batch is all-or-
// nothing at the cryptographic level: any blob that fails verification or
// semantic validation aborts the call. Entries that merely duplicate an
// existing proof are acknowledged and skipped.
func (p *StateProver) ValidateBatch(proofs [][]byte) error {
	for _, proof := range proofs {
		if err := p.ValidateProof(proof); err != nil {
			return err
		}
	}
	return nil
}

// Prove implements Prover. encodedProofs is ignored for this strategy; data
// is an RLP list of proof blobs (a single blob may be passed un-listed by
// ValidateProof instead).
func (p *StateProver) Prove(_ types.Address, _ uint64, _ []byte, data []byte, _ *uint256.Int) error {
	var proofs [][]byte
	if err := rlp.DecodeBytes(data, &proofs); err != nil {
		return ErrArrayLengthMismatch
	}
	return p.ValidateBatch(proofs)
}

// ProvenIntents implements Prover.
func (p *StateProver) ProvenIntents(intentHash types.Hash) ProofRecord {
	return p.book.get(intentHash)
}

// FetchFee implements Prover: pull strategies charge nothing.
func (p *StateProver) FetchFee(uint64, []byte) (*uint256.Int, error) {
	return uint256.NewInt(0), nil
}

// ChallengeProof implements Prover.
func (p *StateProver) ChallengeProof(intentHash types.Hash, destination uint64) bool {
	return p.book.challenge(intentHash, destination)
}

// ---------------------------------------------------------------------------
// BLSVerifier: a Verifier backed by a verification service that signs the
// logs it has proven against remote state. The blob is the RLP encoding of
// the log plus the service's BLS signature over the log's digest.
// ---------------------------------------------------------------------------

// ErrAttestationInvalid is returned when a proof blob's BLS attestation
// does not verify under the service key.
var ErrAttestationInvalid = errors.New("prover: invalid proof attestation")

// attestedLog is the wire form produced by the verification service.
type attestedLog struct {
	ChainID   uint64
	Emitter   types.Address
	Topics    []types.Hash
	Data      []byte
	Signature []byte
}

// BLSVerifier checks service attestations with a single BLS public key
// (48-byte compressed G1).
type BLSVerifier struct {
	servicePubkey []byte
}

// NewBLSVerifier creates a verifier trusting the given service key.
func NewBLSVerifier(servicePubkey []byte) *BLSVerifier {
	key := make([]byte, len(servicePubkey))
	copy(key, servicePubkey)
	return &BLSVerifier{servicePubkey: key}
}

// Verify implements Verifier.
func (v *BLSVerifier) Verify(proof []byte) (*ProvenLog, error) {
	var al attestedLog
	if err := rlp.DecodeBytes(proof, &al); err != nil {
		return nil, ErrAttestationInvalid
	}
	digest, err := attestedLogDigest(al.ChainID, al.Emitter, al.Topics, al.Data)
	if err != nil {
		return nil, ErrAttestationInvalid
	}
	if !crypto.BLSVerify(v.servicePubkey, digest.Bytes(), al.Signature) {
		return nil, ErrAttestationInvalid
	}
	return &ProvenLog{
		ChainID: al.ChainID,
		Emitter: al.Emitter,
		Topics:  al.Topics,
		Data:    al.Data,
	}, nil
}

// SealAttestedLog produces a proof blob for the given log, signed with the
// service's BLS secret key. Used by attestation services and tests.
func SealAttestedLog(secret []byte, pl *ProvenLog) ([]byte, error) {
	digest, err := attestedLogDigest(pl.ChainID, pl.Emitter, pl.Topics, pl.Data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.BLSSign(secret, digest.Bytes())
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&attestedLog{
		ChainID:   pl.ChainID,
		Emitter:   pl.Emitter,
		Topics:    pl.Topics,
		Data:      pl.Data,
		Signature: sig,
	})
}

func attestedLogDigest(chainID uint64, emitter types.Address, topics []types.Hash, data []byte) (types.Hash, error) {
	enc, err := rlp.EncodeToBytes(&attestedLog{
		ChainID: chainID,
		Emitter: emitter,
		Topics:  topics,
		Data:    data,
	})
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}
