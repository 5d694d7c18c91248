// Package intentlane wires the settlement engine's pieces into complete
// in-process ledgers. The helpers here build the multi-chain fixtures the
// end-to-end scenarios run against; they are also the reference for how a
// deployment composes the packages.
package intentlane

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/bank"
	"github.com/intentlane/intentlane/crypto"
	"github.com/intentlane/intentlane/events"
	"github.com/intentlane/intentlane/log"
	"github.com/intentlane/intentlane/metrics"
	"github.com/intentlane/intentlane/portal"
	"github.com/intentlane/intentlane/prover"
	"github.com/intentlane/intentlane/types"
)

// Chain bundles one ledger's settlement stack: asset book, portal,
// executor, event bus, metrics, and a controllable clock.
type Chain struct {
	ChainID  uint64
	Ledger   *bank.MemLedger
	Portal   *portal.Portal
	Executor *portal.Executor
	Bus      *events.Bus
	Metrics  *metrics.Collector

	now atomic.Uint64
}

// SystemAddress derives a well-known account identity for a named system
// component on a chain, so fixtures are reproducible.
func SystemAddress(name string, chainID uint64) types.Address {
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], chainID)
	return types.BytesToAddress(crypto.Keccak256([]byte(name), chain[:])[12:])
}

// NewChain creates a chain with an empty ledger, its portal and executor,
// and the clock set to 1000.
func NewChain(chainID uint64) *Chain {
	c := &Chain{
		ChainID: chainID,
		Ledger:  bank.NewMemLedger(chainID),
		Bus:     events.NewBus(64),
		Metrics: metrics.NewCollector(),
	}
	c.now.Store(1000)
	logger := log.Default()
	c.Executor = portal.NewExecutor(SystemAddress("executor", chainID), c.Ledger, logger)
	c.Portal = portal.New(portal.Config{
		ChainID:  chainID,
		Address:  SystemAddress("portal", chainID),
		Ledger:   c.Ledger,
		Executor: c.Executor,
		Now:      c.Now,
		Bus:      c.Bus,
		Logger:   logger,
		Metrics:  c.Metrics,
	})
	return c
}

// Now returns the chain's current ledger time.
func (c *Chain) Now() uint64 { return c.now.Load() }

// Advance moves the chain's clock forward.
func (c *Chain) Advance(d uint64) { c.now.Add(d) }

// ConnectBridgeProvers creates a whitelisted BridgeProver pair between two
// chains over the router, registers both with their portals, and installs
// the inbound delivery handlers.
func ConnectBridgeProvers(router *prover.LoopbackRouter, a, b *Chain) (*prover.BridgeProver, *prover.BridgeProver) {
	addrA := SystemAddress("bridge-prover", a.ChainID)
	addrB := SystemAddress("bridge-prover", b.ChainID)

	pa := prover.NewBridgeProver(prover.BridgeConfig{
		ChainID:   a.ChainID,
		Address:   addrA,
		Remotes:   map[uint64]types.Address{b.ChainID: addrB},
		Messenger: router.Endpoint(a.ChainID, addrA),
		Ledger:    a.Ledger,
		Bus:       a.Bus,
		Metrics:   a.Metrics,
	})
	pb := prover.NewBridgeProver(prover.BridgeConfig{
		ChainID:   b.ChainID,
		Address:   addrB,
		Remotes:   map[uint64]types.Address{a.ChainID: addrA},
		Messenger: router.Endpoint(b.ChainID, addrB),
		Ledger:    b.Ledger,
		Bus:       b.Bus,
		Metrics:   b.Metrics,
	})
	router.Register(a.ChainID, pa.HandleMessage)
	router.Register(b.ChainID, pb.HandleMessage)
	a.Portal.RegisterProver(addrA, pa)
	b.Portal.RegisterProver(addrB, pb)
	return pa, pb
}

// NewLocalProver creates a same-chain prover bound to the chain's portal
// and registers it.
func NewLocalProver(c *Chain) *prover.LocalProver {
	addr := SystemAddress("local-prover", c.ChainID)
	lp := prover.NewLocalProver(prover.LocalConfig{
		Address: addr,
		Portal:  c.Portal,
		Ledger:  c.Ledger,
		Bus:     c.Bus,
		Metrics: c.Metrics,
	})
	c.Portal.RegisterProver(addr, lp)
	return lp
}

// SimpleIntent builds a minimal token-for-token intent between two chains:
// the route moves routeAmount of routeToken on the destination, the reward
// escrows rewardAmount of rewardToken on the source.
func SimpleIntent(src, dst *Chain, creator, proverAddr, routeToken, rewardToken types.Address,
	routeAmount, rewardAmount uint64, salt byte) *types.Intent {

	return &types.Intent{
		Destination: dst.ChainID,
		Route: types.Route{
			Salt:         types.BytesToHash([]byte{salt}),
			Deadline:     dst.Now() + 3600,
			Portal:       dst.Portal.Address(),
			NativeAmount: uint256.NewInt(0),
			Tokens: []types.TokenAmount{
				{Token: routeToken, Amount: uint256.NewInt(routeAmount)},
			},
		},
		Reward: types.Reward{
			Deadline:     src.Now() + 3600,
			Creator:      creator,
			Prover:       proverAddr,
			NativeAmount: uint256.NewInt(0),
			Tokens: []types.TokenAmount{
				{Token: rewardToken, Amount: uint256.NewInt(rewardAmount)},
			},
		},
	}
}

// FundIntent mints the reward assets to the creator, approves the portal,
// and publishes+funds the intent, returning its hash.
func FundIntent(c *Chain, intent *types.Intent, payer types.Address) (types.Hash, error) {
	for _, ta := range intent.Reward.Tokens {
		c.Ledger.MintToken(ta.Token, payer, ta.Amount)
		c.Ledger.Approve(ta.Token, payer, c.Portal.Address(), ta.Amount)
	}
	if !intent.Reward.NativeAmount.IsZero() {
		c.Ledger.MintNative(payer, intent.Reward.NativeAmount)
	}
	return c.Portal.PublishAndFund(intent, payer, false)
}
