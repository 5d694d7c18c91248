package prover

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/bank"
	"github.com/intentlane/intentlane/events"
	"github.com/intentlane/intentlane/log"
	"github.com/intentlane/intentlane/metrics"
	"github.com/intentlane/intentlane/types"
)

// Settlement is the view of the settlement ledger the local prover needs.
// *portal.Portal satisfies it. Snapshot/RevertToSnapshot cover both the
// asset ledger and the ledger's own intent state, giving flash-fulfill its
// single-transaction atomicity.
type Settlement interface {
	ChainID() uint64
	Address() types.Address
	Claimant(intentHash types.Hash) types.Address
	Publish(intent *types.Intent) (types.Hash, error)
	Fund(intent *types.Intent, payer types.Address, allowPartial bool) error
	Fulfill(intentHash types.Hash, route *types.Route, rewardHash types.Hash, claimant, filler types.Address) error
	Withdraw(destination uint64, routeHash types.Hash, reward *types.Reward) error
	Refund(destination uint64, routeHash types.Hash, reward *types.Reward) error
	RefundTo(destination uint64, routeHash types.Hash, reward *types.Reward, refundee types.Address) error
	Snapshot() int
	RevertToSnapshot(rev int)
}

// FlashPhase is the sub-state of one flash-fulfill in progress. The
// intermediary-claimant pattern is its own short-lived state machine
// layered on the outer intent lifecycle.
type FlashPhase uint8

const (
	FlashIdle FlashPhase = iota
	FlashSelfClaimed
	FlashForwarded
)

// LocalConfig configures a LocalProver.
type LocalConfig struct {
	Address types.Address
	Portal  Settlement
	Ledger  bank.Ledger
	Bus     *events.Bus
	Logger  *log.Logger
	Metrics *metrics.Collector
}

// LocalProver serves intents whose route and reward live on the same
// ledger. In default mode ProvenIntents mirrors the settlement ledger's
// claimant mapping, so no proof traffic exists at all. Flash-fulfill
// temporarily reports the prover itself as claimant, withdraws the escrow,
// executes the route, and forwards the proceeds to the true solver in one
// atomic step.
type LocalProver struct {
	addr    types.Address
	portal  Settlement
	ledger  bank.Ledger
	book    *proofBook // flash overrides only; default mode reads the portal
	mu      sync.Mutex
	flash   map[types.Hash]FlashPhase
	log     *log.Logger
	metrics *metrics.Collector
}

// NewLocalProver creates a local prover bound to its settlement ledger.
func NewLocalProver(cfg LocalConfig) *LocalProver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.Module("prover.local")
	return &LocalProver{
		addr:    cfg.Address,
		portal:  cfg.Portal,
		ledger:  cfg.Ledger,
		book:    newProofBook(cfg.Bus, logger),
		flash:   make(map[types.Hash]FlashPhase),
		log:     logger,
		metrics: cfg.Metrics,
	}
}

// Address returns the prover's account identity.
func (p *LocalProver) Address() types.Address { return p.addr }

// FlashPhase returns the sub-state of a flash-fulfill for an intent hash.
func (p *LocalProver) FlashPhase(intentHash types.Hash) FlashPhase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flash[intentHash]
}

// ProvenIntents implements Prover. A flash override takes precedence;
// otherwise the settlement ledger's own claimant mapping is mirrored, with
// the local chain as destination.
func (p *LocalProver) ProvenIntents(intentHash types.Hash) ProofRecord {
	if rec := p.book.get(intentHash); rec.Exists() {
		return rec
	}
	if c := p.portal.Claimant(intentHash); !c.IsZero() {
		return ProofRecord{Claimant: c, Destination: p.portal.ChainID()}
	}
	return ProofRecord{}
}

// Prove implements Prover. Same-chain intents need no proof carriage; the
// call only checks batch well-formedness so malformed callers fail loudly.
func (p *LocalProver) Prove(_ types.Address, _ uint64, encodedProofs []byte, _ []byte, _ *uint256.Int) error {
	_, err := DecodeProofPairs(encodedProofs)
	return err
}

// FetchFee implements Prover: nothing crosses chains.
func (p *LocalProver) FetchFee(uint64, []byte) (*uint256.Int, error) {
	return uint256.NewInt(0), nil
}

// ChallengeProof implements Prover. Only flash overrides are challengeable;
// mirrored records are derived from the ledger's claimant mapping and have
// no stored state to clear.
func (p *LocalProver) ChallengeProof(intentHash types.Hash, destination uint64) bool {
	return p.book.challenge(intentHash, destination)
}

// FlashFulfill collapses withdraw-then-fulfill into one atomic step for a
// same-chain intent naming this prover. The prover self-claims, withdraws
// the escrow to itself, executes the route at its own expense, and forwards
// the remaining proceeds to solver. On any failure every effect is
// reverted, leaving the escrow funded and untouched.
func (p *LocalProver) FlashFulfill(intent *types.Intent, solver types.Address) error {
	return p.flashFulfill(intent, solver, nil)
}

// FlashFulfillWithSecondary is FlashFulfill with the proceeds first funding
// a second, cross-chain intent published in the same step. The secondary
// intent must declare this prover as its creator, so RefundBoth can later
// reclaim it; whatever the secondary funding leaves over goes to solver.
func (p *LocalProver) FlashFulfillWithSecondary(intent *types.Intent, solver types.Address, secondary *types.Intent) error {
	if secondary.Reward.Creator != p.addr {
		return ErrSecondaryCreator
	}
	return p.flashFulfill(intent, solver, secondary)
}

func (p *LocalProver) flashFulfill(intent *types.Intent, solver types.Address, secondary *types.Intent) error {
	if intent.Destination != p.portal.ChainID() {
		return ErrNotLocalIntent
	}
	if intent.Reward.Prover != p.addr {
		return ErrWrongProver
	}
	if solver.IsZero() {
		return types.ErrZeroClaimant
	}
	intentHash, routeHash, rewardHash := intent.Hashes()

	p.mu.Lock()
	defer p.mu.Unlock()

	snap := p.portal.Snapshot()
	fail := func(err error) error {
		p.portal.RevertToSnapshot(snap)
		p.book.clear(intentHash)
		delete(p.flash, intentHash)
		p.log.Warn("flash fulfill reverted", "intent", intentHash.Hex(), "err", err.Error())
		return err
	}

	// Phase 1: self-claim so withdraw's proof check passes before fulfill.
	p.flash[intentHash] = FlashSelfClaimed
	p.book.override(intentHash, ProofRecord{Claimant: p.addr, Destination: intent.Destination})

	before := p.balances(&intent.Reward)

	if err := p.portal.Withdraw(intent.Destination, routeHash, &intent.Reward); err != nil {
		return fail(err)
	}
	if err := p.portal.Fulfill(intentHash, &intent.Route, rewardHash, solver, p.addr); err != nil {
		return fail(err)
	}

	if secondary != nil {
		if _, err := p.portal.Publish(secondary); err != nil {
			return fail(err)
		}
		// Funding moves tokens on the payer's allowance to the portal.
		for _, ta := range secondary.Reward.Tokens {
			p.ledger.Approve(ta.Token, p.addr, p.portal.Address(), ta.Amount)
		}
		if err := p.portal.Fund(secondary, p.addr, false); err != nil {
			return fail(err)
		}
	}

	// Phase 2: forward the net proceeds (withdrawn escrow minus route
	// consumption and secondary funding) to the true solver.
	if err := p.forwardGains(&intent.Reward, before, solver); err != nil {
		return fail(err)
	}

	p.flash[intentHash] = FlashForwarded
	p.book.override(intentHash, ProofRecord{Claimant: solver, Destination: intent.Destination})
	p.metrics.Inc("prover.local.flashFulfilled")
	p.log.Info("flash fulfill complete", "intent", intentHash.Hex(), "solver", solver.Hex())
	return nil
}

// RefundBoth atomically reclaims a flash-chained pair of escrows after the
// secondary intent expired unproven: the secondary escrow refunds to this
// prover (its declared creator) and is forwarded to the primary intent's
// creator, then the primary escrow, if still live, refunds to its creator
// directly. The creator check prevents an unrelated party from redirecting
// a stranger's refund through this path.
func (p *LocalProver) RefundBoth(primary, secondary *types.Intent) error {
	if secondary.Reward.Creator != p.addr {
		return ErrSecondaryCreator
	}
	_, secRouteHash, _ := secondary.Hashes()
	_, priRouteHash, _ := primary.Hashes()

	p.mu.Lock()
	defer p.mu.Unlock()

	snap := p.portal.Snapshot()

	before := p.balances(&secondary.Reward)
	if err := p.portal.Refund(secondary.Destination, secRouteHash, &secondary.Reward); err != nil {
		p.portal.RevertToSnapshot(snap)
		return err
	}
	if err := p.forwardGains(&secondary.Reward, before, primary.Reward.Creator); err != nil {
		p.portal.RevertToSnapshot(snap)
		return err
	}
	// The primary escrow may already have been consumed by the flash
	// withdraw; only a live escrow is reclaimed.
	if err := p.portal.RefundTo(primary.Destination, priRouteHash, &primary.Reward, primary.Reward.Creator); err != nil && !errors.Is(err, types.ErrAlreadyWithdrawn) {
		p.portal.RevertToSnapshot(snap)
		return err
	}
	p.metrics.Inc("prover.local.refundBoth")
	return nil
}

// balances captures the prover's holdings of every asset a reward declares.
func (p *LocalProver) balances(reward *types.Reward) map[types.Address]*uint256.Int {
	out := make(map[types.Address]*uint256.Int, len(reward.Tokens)+1)
	out[types.Address{}] = p.ledger.NativeBalance(p.addr)
	for _, ta := range reward.Tokens {
		if _, ok := out[ta.Token]; !ok {
			out[ta.Token] = p.ledger.TokenBalance(ta.Token, p.addr)
		}
	}
	return out
}

// forwardGains transfers to recipient every positive balance delta the
// prover accrued since before, over the reward's asset set.
func (p *LocalProver) forwardGains(reward *types.Reward, before map[types.Address]*uint256.Int, recipient types.Address) error {
	for token, prev := range before {
		var now *uint256.Int
		native := token.IsZero()
		if native {
			now = p.ledger.NativeBalance(p.addr)
		} else {
			now = p.ledger.TokenBalance(token, p.addr)
		}
		if !now.Gt(prev) {
			continue
		}
		delta := new(uint256.Int).Sub(now, prev)
		var err error
		if native {
			err = p.ledger.TransferNative(p.addr, recipient, delta)
		} else {
			err = p.ledger.TransferToken(token, p.addr, recipient, delta)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
