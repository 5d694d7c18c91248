// Package portal implements the settlement ledger: the per-intent state
// machine that orchestrates publish, fund, fulfill, withdraw, and refund,
// plus the permissionless challenge entry point. One Portal instance exists
// per chain; the same type plays the source role (escrow custody) and the
// destination role (route execution and claimant recording).
package portal

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/bank"
	"github.com/intentlane/intentlane/events"
	"github.com/intentlane/intentlane/log"
	"github.com/intentlane/intentlane/metrics"
	"github.com/intentlane/intentlane/prover"
	"github.com/intentlane/intentlane/types"
	"github.com/intentlane/intentlane/vault"
)

// Config configures a Portal.
type Config struct {
	ChainID  uint64
	Address  types.Address // the portal's own account identity
	Deployer types.Address // vault derivation namespace; defaults to Address
	Ledger   bank.Ledger
	Executor *Executor
	Now      func() uint64 // ledger clock
	Bus      *events.Bus
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// Portal is the settlement ledger for one chain.
type Portal struct {
	chainID  uint64
	addr     types.Address
	deployer types.Address
	ledger   bank.Ledger
	executor *Executor
	now      func() uint64
	bus      *events.Bus
	log      *log.Logger
	metrics  *metrics.Collector

	mu        sync.Mutex
	statuses  map[types.Hash]types.IntentStatus
	claimants map[types.Hash]types.Address
	provers   map[types.Address]prover.Prover
	snaps     []portalSnapshot
}

type portalSnapshot struct {
	ledgerRev int
	statuses  map[types.Hash]types.IntentStatus
	claimants map[types.Hash]types.Address
}

// New creates a Portal.
func New(cfg Config) *Portal {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	deployer := cfg.Deployer
	if deployer.IsZero() {
		deployer = cfg.Address
	}
	return &Portal{
		chainID:   cfg.ChainID,
		addr:      cfg.Address,
		deployer:  deployer,
		ledger:    cfg.Ledger,
		executor:  cfg.Executor,
		now:       cfg.Now,
		bus:       cfg.Bus,
		log:       logger.Module("portal").With("chain", cfg.ChainID),
		metrics:   cfg.Metrics,
		statuses:  make(map[types.Hash]types.IntentStatus),
		claimants: make(map[types.Hash]types.Address),
		provers:   make(map[types.Address]prover.Prover),
	}
}

// ChainID returns the chain this portal settles on.
func (p *Portal) ChainID() uint64 { return p.chainID }

// Address returns the portal's account identity.
func (p *Portal) Address() types.Address { return p.addr }

// RegisterProver binds a prover instance to the address rewards name it by.
func (p *Portal) RegisterProver(addr types.Address, pr prover.Prover) {
	p.mu.Lock()
	p.provers[addr] = pr
	p.mu.Unlock()
}

// Status returns the recorded lifecycle status for an intent hash.
func (p *Portal) Status(intentHash types.Hash) types.IntentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statuses[intentHash]
}

// Claimant returns the recorded claimant for an intent hash, zero if the
// route has not been fulfilled on this chain.
func (p *Portal) Claimant(intentHash types.Hash) types.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.claimants[intentHash]
}

// VaultAddress computes the escrow identity for an intent. Pure derivation;
// no state is touched.
func (p *Portal) VaultAddress(intent *types.Intent) types.Address {
	intentHash, routeHash, _ := intent.Hashes()
	return vault.DeriveAddress(p.deployer, routeHash, intentHash, &intent.Reward)
}

// IsFunded reports whether the intent's escrow meets every declared reward
// entry.
func (p *Portal) IsFunded(intent *types.Intent) bool {
	return vault.IsFunded(p.ledger, p.VaultAddress(intent), &intent.Reward)
}

// ---------------------------------------------------------------------------
// Snapshots. Portal snapshots cover the asset ledger and the portal's own
// intent state, so a caller composing several operations (flash-fulfill)
// can revert them as one transaction.
// ---------------------------------------------------------------------------

// Snapshot returns a revision id for the combined ledger+portal state.
func (p *Portal) Snapshot() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// RevertToSnapshot restores the combined state at the given revision.
func (p *Portal) RevertToSnapshot(rev int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revertLocked(rev)
}

func (p *Portal) snapshotLocked() int {
	s := portalSnapshot{
		ledgerRev: p.ledger.Snapshot(),
		statuses:  make(map[types.Hash]types.IntentStatus, len(p.statuses)),
		claimants: make(map[types.Hash]types.Address, len(p.claimants)),
	}
	for k, v := range p.statuses {
		s.statuses[k] = v
	}
	for k, v := range p.claimants {
		s.claimants[k] = v
	}
	p.snaps = append(p.snaps, s)
	return len(p.snaps) - 1
}

func (p *Portal) revertLocked(rev int) {
	if rev < 0 || rev >= len(p.snaps) {
		return
	}
	s := p.snaps[rev]
	p.ledger.RevertToSnapshot(s.ledgerRev)
	p.statuses = s.statuses
	p.claimants = s.claimants
	p.snaps = p.snaps[:rev]
}

// discardLocked drops a successful operation's snapshot without reverting.
func (p *Portal) discardLocked(rev int) {
	if rev == len(p.snaps)-1 {
		p.snaps = p.snaps[:rev]
	}
}

// ---------------------------------------------------------------------------
// Publish and fund.
// ---------------------------------------------------------------------------

// Publish records the intent's existence and announces its hash.
// Idempotent: re-publishing a known hash is a no-op returning the same
// hash. A same-chain intent must name this portal as its route's executor;
// a cross-chain one must not, since its route runs elsewhere.
func (p *Portal) Publish(intent *types.Intent) (types.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishLocked(intent)
}

func (p *Portal) publishLocked(intent *types.Intent) (types.Hash, error) {
	if err := intent.Validate(); err != nil {
		return types.Hash{}, err
	}
	if intent.Destination == p.chainID && intent.Route.Portal != p.addr {
		return types.Hash{}, types.ErrWrongPortal
	}
	if intent.Destination != p.chainID && intent.Route.Portal == p.addr {
		return types.Hash{}, types.ErrWrongDestination
	}
	intentHash, _, _ := intent.Hashes()
	if p.statuses[intentHash] != types.StatusUnpublished {
		return intentHash, nil
	}
	p.statuses[intentHash] = types.StatusPublished
	p.bus.Emit(events.Event{Type: events.IntentPublished, Hash: intentHash, Destination: intent.Destination})
	p.metrics.Inc("portal.published")
	p.log.Info("intent published", "intent", intentHash.Hex(), "destination", intent.Destination)
	return intentHash, nil
}

// Fund transfers reward assets from payer into the intent's escrow. Token
// amounts move on the payer's allowance to this portal (set by Approve or
// Permit); the native amount moves directly. With allowPartial false the
// call fails unless every declared amount can be met; with allowPartial
// true any subset the payer can cover is accepted.
func (p *Portal) Fund(intent *types.Intent, payer types.Address, allowPartial bool) error {
	return p.FundFor(intent, payer, allowPartial, nil)
}

// FundFor is Fund with a batch of signed permits applied first, so a
// third-party payer needs no prior on-ledger approval.
func (p *Portal) FundFor(intent *types.Intent, payer types.Address, allowPartial bool, permits []bank.PermitData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fundLocked(intent, payer, allowPartial, permits)
}

func (p *Portal) fundLocked(intent *types.Intent, payer types.Address, allowPartial bool, permits []bank.PermitData) error {
	if err := intent.Validate(); err != nil {
		return err
	}
	intentHash, routeHash, _ := intent.Hashes()
	vaultAddr := vault.DeriveAddress(p.deployer, routeHash, intentHash, &intent.Reward)

	rev := p.snapshotLocked()
	fail := func(err error) error {
		p.revertLocked(rev)
		return err
	}

	for _, permit := range permits {
		if err := p.ledger.Permit(permit, p.now()); err != nil {
			return fail(err)
		}
	}

	gaps, nativeGap := vault.FundingGap(p.ledger, vaultAddr, &intent.Reward)
	missing := !nativeGap.IsZero()
	for _, g := range gaps {
		if !g.Amount.IsZero() {
			missing = true
		}
	}
	if !missing {
		p.discardLocked(rev)
		if !allowPartial {
			return types.ErrAlreadyFunded
		}
		return nil
	}

	for _, g := range gaps {
		if g.Amount.IsZero() {
			continue
		}
		amount := g.Amount
		if allowPartial {
			amount = min3(amount, p.ledger.TokenBalance(g.Token, payer), p.ledger.Allowance(g.Token, payer, p.addr))
			if amount.IsZero() {
				continue
			}
		}
		if err := p.ledger.TransferTokenFrom(g.Token, p.addr, payer, vaultAddr, amount); err != nil {
			return fail(fmt.Errorf("%w: %v", types.ErrInsufficientReward, err))
		}
	}
	if !nativeGap.IsZero() {
		amount := nativeGap
		if allowPartial {
			amount = min3(amount, p.ledger.NativeBalance(payer), amount)
		}
		if !amount.IsZero() {
			if err := p.ledger.TransferNative(payer, vaultAddr, amount); err != nil {
				return fail(fmt.Errorf("%w: %v", types.ErrInsufficientReward, err))
			}
		}
	}

	p.discardLocked(rev)
	if vault.IsFunded(p.ledger, vaultAddr, &intent.Reward) {
		p.bus.Emit(events.Event{Type: events.IntentFunded, Hash: intentHash})
		p.metrics.Inc("portal.funded")
		p.log.Info("intent funded", "intent", intentHash.Hex(), "vault", vaultAddr.Hex())
	}
	return nil
}

// PublishAndFund publishes and funds in one atomic step.
func (p *Portal) PublishAndFund(intent *types.Intent, payer types.Address, allowPartial bool) (types.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rev := p.snapshotLocked()
	intentHash, err := p.publishLocked(intent)
	if err != nil {
		p.revertLocked(rev)
		return types.Hash{}, err
	}
	if err := p.fundLocked(intent, payer, false, nil); err != nil {
		p.revertLocked(rev)
		return types.Hash{}, err
	}
	p.discardLocked(rev)
	return intentHash, nil
}

func min3(a, b, c *uint256.Int) *uint256.Int {
	m := new(uint256.Int).Set(a)
	if b.Lt(m) {
		m.Set(b)
	}
	if c.Lt(m) {
		m.Set(c)
	}
	return m
}

// ---------------------------------------------------------------------------
// Fulfill (destination side).
// ---------------------------------------------------------------------------

// Fulfill executes the route on this chain and records claimant for the
// intent hash, exactly once. filler is the account debited for the route's
// token and native consumption. The supplied route must hash to the
// committed value, the deadline must not have passed, and no claimant may
// already be recorded.
func (p *Portal) Fulfill(intentHash types.Hash, route *types.Route, rewardHash types.Hash, claimant, filler types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fulfillLocked(intentHash, route, rewardHash, claimant, filler)
}

func (p *Portal) fulfillLocked(intentHash types.Hash, route *types.Route, rewardHash types.Hash, claimant, filler types.Address) error {
	if err := route.Validate(); err != nil {
		return err
	}
	if route.Portal != p.addr {
		return types.ErrWrongPortal
	}
	routeHash := types.HashRoute(route)
	if types.HashIntentParts(p.chainID, routeHash, rewardHash) != intentHash {
		return types.ErrHashMismatch
	}
	if p.now() > route.Deadline {
		return types.ErrRouteExpired
	}
	if _, dup := p.claimants[intentHash]; dup {
		return types.ErrAlreadyFulfilled
	}
	if claimant.IsZero() {
		return types.ErrZeroClaimant
	}

	rev := p.snapshotLocked()
	fail := func(err error) error {
		p.revertLocked(rev)
		return err
	}

	// Stage the route's declared consumption on the executor account, run
	// the calls in its isolated context, then sweep what the calls left
	// behind back to the filler.
	exAddr := p.executor.Address()
	for _, ta := range route.Tokens {
		if err := p.ledger.TransferToken(ta.Token, filler, exAddr, ta.Amount); err != nil {
			return fail(err)
		}
	}
	if err := p.ledger.TransferNative(filler, exAddr, route.NativeAmount); err != nil {
		return fail(err)
	}
	for i := range route.Calls {
		if err := p.executor.Execute(&route.Calls[i]); err != nil {
			return fail(err)
		}
	}
	for _, ta := range route.Tokens {
		left := p.ledger.TokenBalance(ta.Token, exAddr)
		if !left.IsZero() {
			if err := p.ledger.TransferToken(ta.Token, exAddr, filler, left); err != nil {
				return fail(err)
			}
		}
	}
	if left := p.ledger.NativeBalance(exAddr); !left.IsZero() {
		if err := p.ledger.TransferNative(exAddr, filler, left); err != nil {
			return fail(err)
		}
	}

	p.claimants[intentHash] = claimant
	// Flash settlement withdraws the escrow before running the route on
	// the same chain; a terminal status must never be downgraded.
	if !p.statuses[intentHash].Terminal() {
		p.statuses[intentHash] = types.StatusFulfilled
	}
	p.discardLocked(rev)

	p.bus.Emit(events.Event{Type: events.IntentFulfilled, Hash: intentHash, Claimant: claimant, Destination: p.chainID})
	p.metrics.Inc("portal.fulfilled")
	p.log.Info("intent fulfilled", "intent", intentHash.Hex(), "claimant", claimant.Hex())
	return nil
}

// FulfillAndProve fulfills and immediately submits the proof through the
// named prover in the same step. sourceChainID is the chain the proof must
// reach; fee is the native payment for push strategies, debited from
// filler.
func (p *Portal) FulfillAndProve(intentHash types.Hash, route *types.Route, rewardHash types.Hash, claimant, filler types.Address,
	proverAddr types.Address, sourceChainID uint64, fee *uint256.Int) error {

	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.provers[proverAddr]
	if !ok {
		return types.ErrUnknownProver
	}

	rev := p.snapshotLocked()
	fail := func(err error) error {
		p.revertLocked(rev)
		return err
	}

	if err := p.fulfillLocked(intentHash, route, rewardHash, claimant, filler); err != nil {
		p.revertLocked(rev)
		return err
	}
	if fee != nil && !fee.IsZero() {
		if err := p.ledger.TransferNative(filler, proverAddr, fee); err != nil {
			return fail(err)
		}
	}
	if err := pr.Prove(filler, sourceChainID, prover.EncodePair(intentHash, claimant), nil, fee); err != nil {
		return fail(err)
	}
	p.discardLocked(rev)
	return nil
}

// ---------------------------------------------------------------------------
// Withdraw and refund (source side).
// ---------------------------------------------------------------------------

// Withdraw releases the escrow to the proven claimant. Permissionless: any
// caller may trigger it once the intent's prover holds a record whose
// destination matches the intent's declared one.
func (p *Portal) Withdraw(destination uint64, routeHash types.Hash, reward *types.Reward) error {
	intentHash := types.HashIntentParts(destination, routeHash, types.HashReward(reward))

	// Resolve the prover and read its record outside the portal lock: a
	// local prover's ProvenIntents mirrors this portal's claimant mapping
	// and must be free to read it.
	p.mu.Lock()
	pr, ok := p.provers[reward.Prover]
	p.mu.Unlock()
	if !ok {
		return types.ErrUnknownProver
	}
	rec := pr.ProvenIntents(intentHash)
	if !rec.Exists() || rec.Destination != destination {
		return types.ErrIntentNotProven
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.statuses[intentHash] {
	case types.StatusWithdrawn:
		return types.ErrAlreadyWithdrawn
	case types.StatusRefunded:
		return types.ErrAlreadyRefunded
	}

	rev := p.snapshotLocked()
	vaultAddr := vault.DeriveAddress(p.deployer, routeHash, intentHash, reward)
	if err := vault.ReleaseAll(p.ledger, vaultAddr, reward, rec.Claimant); err != nil {
		p.revertLocked(rev)
		return err
	}
	p.statuses[intentHash] = types.StatusWithdrawn
	p.discardLocked(rev)

	p.bus.Emit(events.Event{Type: events.IntentWithdrawn, Hash: intentHash, Claimant: rec.Claimant, Destination: destination})
	p.metrics.Inc("portal.withdrawn")
	p.log.Info("escrow withdrawn", "intent", intentHash.Hex(), "claimant", rec.Claimant.Hex())
	return nil
}

// Refund returns the escrow to the reward's creator after the reward
// deadline. Permissionless and retryable until it succeeds.
func (p *Portal) Refund(destination uint64, routeHash types.Hash, reward *types.Reward) error {
	return p.RefundTo(destination, routeHash, reward, reward.Creator)
}

// RefundTo is Refund with an explicit beneficiary, used by chained-refund
// flows where the creator is itself an intermediary.
func (p *Portal) RefundTo(destination uint64, routeHash types.Hash, reward *types.Reward, refundee types.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	intentHash := types.HashIntentParts(destination, routeHash, types.HashReward(reward))
	switch p.statuses[intentHash] {
	case types.StatusWithdrawn:
		return types.ErrAlreadyWithdrawn
	case types.StatusRefunded:
		return types.ErrAlreadyRefunded
	}
	if p.now() <= reward.Deadline {
		return types.ErrRewardNotExpired
	}

	rev := p.snapshotLocked()
	vaultAddr := vault.DeriveAddress(p.deployer, routeHash, intentHash, reward)
	if err := vault.ReleaseAll(p.ledger, vaultAddr, reward, refundee); err != nil {
		p.revertLocked(rev)
		return err
	}
	p.statuses[intentHash] = types.StatusRefunded
	p.discardLocked(rev)

	p.bus.Emit(events.Event{Type: events.IntentRefunded, Hash: intentHash, Claimant: refundee, Destination: destination})
	p.metrics.Inc("portal.refunded")
	p.log.Info("escrow refunded", "intent", intentHash.Hex(), "refundee", refundee.Hex())
	return nil
}

// ---------------------------------------------------------------------------
// Challenge.
// ---------------------------------------------------------------------------

// ChallengeIntentProof clears a proof record attributed to the wrong
// destination. It recomputes the intent hash from public inputs and asks
// the named prover to compare its stored destination; a mismatch voids the
// record, a match is a no-op. Permissionless by design. Returns whether a
// record was cleared.
func (p *Portal) ChallengeIntentProof(destination uint64, routeHash, rewardHash types.Hash, proverAddr types.Address) (bool, error) {
	p.mu.Lock()
	pr, ok := p.provers[proverAddr]
	p.mu.Unlock()
	if !ok {
		return false, types.ErrUnknownProver
	}
	intentHash := types.HashIntentParts(destination, routeHash, rewardHash)
	cleared := pr.ChallengeProof(intentHash, destination)
	if cleared {
		p.metrics.Inc("portal.challenged")
	}
	return cleared, nil
}
