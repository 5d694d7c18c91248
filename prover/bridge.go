package prover

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/bank"
	"github.com/intentlane/intentlane/events"
	"github.com/intentlane/intentlane/log"
	"github.com/intentlane/intentlane/metrics"
	"github.com/intentlane/intentlane/types"
)

// Messenger is the cross-chain messaging collaborator of the BridgeProver.
// Quote returns the native fee the bridge charges for delivering payload to
// the given chain; Send dispatches it to a recipient account there.
// Delivery is asynchronous: the remote side surfaces as a HandleMessage
// call on the counterpart prover.
type Messenger interface {
	Quote(destChainID uint64, payload []byte) (*uint256.Int, error)
	Send(destChainID uint64, recipient types.Address, payload []byte, fee *uint256.Int) error
}

// BridgeConfig configures a BridgeProver. Remotes is the whitelist of
// trusted counterpart prover identities per chain; it is injected at
// construction and never mutated afterwards.
type BridgeConfig struct {
	ChainID   uint64
	Address   types.Address
	Remotes   map[uint64]types.Address
	Messenger Messenger
	Ledger    bank.Ledger
	Bus       *events.Bus
	Logger    *log.Logger
	Metrics   *metrics.Collector
}

// BridgeProver pushes proof batches to a counterpart prover on another
// chain through a cross-chain messaging system, and accepts inbound batches
// from whitelisted counterparts.
type BridgeProver struct {
	chainID   uint64
	addr      types.Address
	remotes   map[uint64]types.Address
	messenger Messenger
	ledger    bank.Ledger
	book      *proofBook
	bus       *events.Bus
	log       *log.Logger
	metrics   *metrics.Collector
}

// NewBridgeProver creates a bridge prover. The remotes map is copied.
func NewBridgeProver(cfg BridgeConfig) *BridgeProver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.Module("prover.bridge").With("chain", cfg.ChainID)
	remotes := make(map[uint64]types.Address, len(cfg.Remotes))
	for id, addr := range cfg.Remotes {
		remotes[id] = addr
	}
	return &BridgeProver{
		chainID:   cfg.ChainID,
		addr:      cfg.Address,
		remotes:   remotes,
		messenger: cfg.Messenger,
		ledger:    cfg.Ledger,
		book:      newProofBook(cfg.Bus, logger),
		bus:       cfg.Bus,
		log:       logger,
		metrics:   cfg.Metrics,
	}
}

// Address returns the prover's account identity on its own chain.
func (p *BridgeProver) Address() types.Address { return p.addr }

// ProvenIntents implements Prover.
func (p *BridgeProver) ProvenIntents(intentHash types.Hash) ProofRecord {
	return p.book.get(intentHash)
}

// FetchFee implements Prover: the messenger's quote for the batch.
func (p *BridgeProver) FetchFee(chainID uint64, encodedProofs []byte) (*uint256.Int, error) {
	if _, ok := p.remotes[chainID]; !ok {
		return nil, ErrUnknownChain
	}
	return p.messenger.Quote(chainID, encodedProofs)
}

// Prove implements Prover. Called on the fulfillment chain, it dispatches
// the batch to the counterpart prover on chainID. fee is the native amount
// the sender has already credited to this prover; anything above the
// messenger's quote is refunded to the sender.
func (p *BridgeProver) Prove(sender types.Address, chainID uint64, encodedProofs []byte, _ []byte, fee *uint256.Int) error {
	recipient, ok := p.remotes[chainID]
	if !ok {
		return ErrUnknownChain
	}
	if _, err := DecodeProofPairs(encodedProofs); err != nil {
		return err
	}
	quote, err := p.messenger.Quote(chainID, encodedProofs)
	if err != nil {
		return err
	}
	if fee == nil {
		fee = uint256.NewInt(0)
	}
	if fee.Lt(quote) {
		return ErrInsufficientFee
	}
	if excess := new(uint256.Int).Sub(fee, quote); !excess.IsZero() {
		if err := p.ledger.TransferNative(p.addr, sender, excess); err != nil {
			return err
		}
	}
	if err := p.messenger.Send(chainID, recipient, encodedProofs, quote); err != nil {
		return err
	}
	p.metrics.Inc("prover.bridge.dispatched")
	p.bus.Emit(events.Event{Type: events.ProofDispatched, Destination: chainID})
	p.log.Info("proof batch dispatched", "to", chainID, "pairs", len(encodedProofs)/pairSize)
	return nil
}

// ChallengeProof implements Prover.
func (p *BridgeProver) ChallengeProof(intentHash types.Hash, destination uint64) bool {
	return p.book.challenge(intentHash, destination)
}

// HandleMessage is the inbound delivery callback. The origin sender must be
// the whitelisted counterpart for its chain; anything else is rejected
// before any record is written. Recorded proofs carry the origin chain as
// their destination, since that is where the fulfillment occurred.
func (p *BridgeProver) HandleMessage(originChainID uint64, originSender types.Address, payload []byte) error {
	trusted, ok := p.remotes[originChainID]
	if !ok || trusted != originSender {
		p.log.Warn("rejected message from untrusted sender",
			"origin", originChainID, "sender", originSender.Hex())
		return ErrUntrustedSender
	}
	pairs, err := DecodeProofPairs(payload)
	if err != nil {
		return err
	}
	n := p.book.recordBatch(pairs, originChainID)
	p.metrics.Add("prover.bridge.recorded", uint64(n))
	return nil
}

// ---------------------------------------------------------------------------
// LoopbackRouter: an in-process Messenger for wiring multiple ledgers in one
// process. Delivery is synchronous, which over-approximates a real bridge's
// asynchrony but preserves its interface contract.
// ---------------------------------------------------------------------------

// InboundHandler receives a delivered message on the destination chain.
type InboundHandler func(originChainID uint64, originSender types.Address, payload []byte) error

// LoopbackRouter routes messages between in-process endpoints keyed by
// chain id.
type LoopbackRouter struct {
	mu       sync.RWMutex
	fees     map[uint64]*uint256.Int
	handlers map[uint64]InboundHandler
}

// NewLoopbackRouter creates an empty router.
func NewLoopbackRouter() *LoopbackRouter {
	return &LoopbackRouter{
		fees:     make(map[uint64]*uint256.Int),
		handlers: make(map[uint64]InboundHandler),
	}
}

// SetFee sets the flat delivery fee quoted for a destination chain.
func (r *LoopbackRouter) SetFee(chainID uint64, fee *uint256.Int) {
	r.mu.Lock()
	r.fees[chainID] = new(uint256.Int).Set(fee)
	r.mu.Unlock()
}

// Register installs the inbound handler for a destination chain.
func (r *LoopbackRouter) Register(chainID uint64, h InboundHandler) {
	r.mu.Lock()
	r.handlers[chainID] = h
	r.mu.Unlock()
}

// Endpoint returns a Messenger bound to an origin identity, suitable for
// handing to a BridgeProver on that chain.
func (r *LoopbackRouter) Endpoint(originChainID uint64, originSender types.Address) Messenger {
	return &loopbackEndpoint{router: r, chainID: originChainID, sender: originSender}
}

type loopbackEndpoint struct {
	router  *LoopbackRouter
	chainID uint64
	sender  types.Address
}

func (e *loopbackEndpoint) Quote(destChainID uint64, _ []byte) (*uint256.Int, error) {
	e.router.mu.RLock()
	defer e.router.mu.RUnlock()
	if fee, ok := e.router.fees[destChainID]; ok {
		return new(uint256.Int).Set(fee), nil
	}
	return uint256.NewInt(0), nil
}

func (e *loopbackEndpoint) Send(destChainID uint64, _ types.Address, payload []byte, _ *uint256.Int) error {
	e.router.mu.RLock()
	h, ok := e.router.handlers[destChainID]
	e.router.mu.RUnlock()
	if !ok {
		return ErrUnknownChain
	}
	return h(e.chainID, e.sender, payload)
}
