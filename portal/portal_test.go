package portal

import (
	"errors"
	"sync"
	"testing"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/bank"
	"github.com/intentlane/intentlane/crypto"
	"github.com/intentlane/intentlane/prover"
	"github.com/intentlane/intentlane/types"
)

var (
	creator     = types.HexToAddress("0x11")
	solver      = types.HexToAddress("0x22")
	rewardToken = types.HexToAddress("0xb0")
	routeToken  = types.HexToAddress("0xb1")
	proverAddr  = types.HexToAddress("0xcc")
)

// stubProver is a prover.Prover with a settable proof table, for exercising
// the portal without real proof traffic.
type stubProver struct {
	mu      sync.Mutex
	recs    map[types.Hash]prover.ProofRecord
	fee     *uint256.Int
	prove   error
	proveN  int
	lastFee *uint256.Int
}

func newStubProver() *stubProver {
	return &stubProver{recs: make(map[types.Hash]prover.ProofRecord), fee: uint256.NewInt(0)}
}

func (s *stubProver) set(h types.Hash, claimant types.Address, destination uint64) {
	s.mu.Lock()
	s.recs[h] = prover.ProofRecord{Claimant: claimant, Destination: destination}
	s.mu.Unlock()
}

func (s *stubProver) Prove(_ types.Address, _ uint64, _ []byte, _ []byte, fee *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prove != nil {
		return s.prove
	}
	s.proveN++
	s.lastFee = fee
	return nil
}

func (s *stubProver) ProvenIntents(h types.Hash) prover.ProofRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[h]
}

func (s *stubProver) FetchFee(uint64, []byte) (*uint256.Int, error) {
	return new(uint256.Int).Set(s.fee), nil
}

func (s *stubProver) ChallengeProof(h types.Hash, destination uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[h]
	if !ok || rec.Destination == destination {
		return false
	}
	delete(s.recs, h)
	return true
}

type fixture struct {
	ledger *bank.MemLedger
	portal *Portal
	exec   *Executor
	prover *stubProver
	now    uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ledger: bank.NewMemLedger(1), now: 1000, prover: newStubProver()}
	f.exec = NewExecutor(types.HexToAddress("0xe0"), f.ledger, nil)
	f.portal = New(Config{
		ChainID:  1,
		Address:  types.HexToAddress("0xf0"),
		Ledger:   f.ledger,
		Executor: f.exec,
		Now:      func() uint64 { return f.now },
	})
	f.portal.RegisterProver(proverAddr, f.prover)
	return f
}

// intent builds a token-for-token intent. destination 1 is same-chain.
func (f *fixture) intent(destination uint64, salt byte) *types.Intent {
	routePortal := f.portal.Address()
	if destination != 1 {
		routePortal = types.HexToAddress("0xf2") // some remote portal
	}
	return &types.Intent{
		Destination: destination,
		Route: types.Route{
			Salt:         types.BytesToHash([]byte{salt}),
			Deadline:     f.now + 100,
			Portal:       routePortal,
			NativeAmount: uint256.NewInt(0),
			Tokens: []types.TokenAmount{
				{Token: routeToken, Amount: uint256.NewInt(50)},
			},
		},
		Reward: types.Reward{
			Deadline:     f.now + 200,
			Creator:      creator,
			Prover:       proverAddr,
			NativeAmount: uint256.NewInt(0),
			Tokens: []types.TokenAmount{
				{Token: rewardToken, Amount: uint256.NewInt(60)},
			},
		},
	}
}

func (f *fixture) fund(t *testing.T, intent *types.Intent) types.Hash {
	t.Helper()
	for _, ta := range intent.Reward.Tokens {
		f.ledger.MintToken(ta.Token, creator, ta.Amount)
		f.ledger.Approve(ta.Token, creator, f.portal.Address(), ta.Amount)
	}
	if !intent.Reward.NativeAmount.IsZero() {
		f.ledger.MintNative(creator, intent.Reward.NativeAmount)
	}
	h, err := f.portal.PublishAndFund(intent, creator, false)
	if err != nil {
		t.Fatalf("PublishAndFund: %v", err)
	}
	return h
}

func TestPublish(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(2, 1)

	h1, err := f.portal.Publish(intent)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if f.portal.Status(h1) != types.StatusPublished {
		t.Errorf("status = %v, want published", f.portal.Status(h1))
	}

	// Idempotent.
	h2, err := f.portal.Publish(intent)
	if err != nil || h2 != h1 {
		t.Errorf("re-publish = %s/%v, want same hash/nil", h2.Hex(), err)
	}

	// A same-chain intent must name this portal.
	bad := f.intent(1, 2)
	bad.Route.Portal = types.HexToAddress("0xf2")
	if _, err := f.portal.Publish(bad); !errors.Is(err, types.ErrWrongPortal) {
		t.Errorf("wrong portal error = %v, want ErrWrongPortal", err)
	}

	// A cross-chain intent must not name this portal: its route runs on
	// the destination chain.
	inconsistent := f.intent(2, 4)
	inconsistent.Route.Portal = f.portal.Address()
	if _, err := f.portal.Publish(inconsistent); !errors.Is(err, types.ErrWrongDestination) {
		t.Errorf("wrong destination error = %v, want ErrWrongDestination", err)
	}

	// Validation failures surface.
	invalid := f.intent(2, 3)
	invalid.Reward.Creator = types.Address{}
	if _, err := f.portal.Publish(invalid); !errors.Is(err, types.ErrZeroCreator) {
		t.Errorf("invalid intent error = %v, want ErrZeroCreator", err)
	}
}

func TestFund(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(2, 1)
	f.fund(t, intent)

	if !f.portal.IsFunded(intent) {
		t.Fatal("escrow must be funded")
	}
	vaultAddr := f.portal.VaultAddress(intent)
	if !f.ledger.TokenBalance(rewardToken, vaultAddr).Eq(uint256.NewInt(60)) {
		t.Errorf("vault balance = %v, want 60", f.ledger.TokenBalance(rewardToken, vaultAddr))
	}

	// Funding an already-funded escrow in strict mode is rejected.
	if err := f.portal.Fund(intent, creator, false); !errors.Is(err, types.ErrAlreadyFunded) {
		t.Errorf("re-fund error = %v, want ErrAlreadyFunded", err)
	}
	// In partial mode it is a no-op.
	if err := f.portal.Fund(intent, creator, true); err != nil {
		t.Errorf("partial re-fund error = %v, want nil", err)
	}
}

func TestFundInsufficient(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(2, 1)
	if _, err := f.portal.Publish(intent); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// No balance, no allowance: strict funding fails wholesale.
	err := f.portal.Fund(intent, creator, false)
	if !errors.Is(err, types.ErrInsufficientReward) {
		t.Fatalf("error = %v, want ErrInsufficientReward", err)
	}
	if !f.ledger.TokenBalance(rewardToken, f.portal.VaultAddress(intent)).IsZero() {
		t.Error("failed funding must move nothing")
	}
}

func TestFundPartial(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(2, 1)
	if _, err := f.portal.Publish(intent); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Only 25 of 60 available.
	f.ledger.MintToken(rewardToken, creator, uint256.NewInt(25))
	f.ledger.Approve(rewardToken, creator, f.portal.Address(), uint256.NewInt(100))
	if err := f.portal.Fund(intent, creator, true); err != nil {
		t.Fatalf("partial fund: %v", err)
	}
	vaultAddr := f.portal.VaultAddress(intent)
	if !f.ledger.TokenBalance(rewardToken, vaultAddr).Eq(uint256.NewInt(25)) {
		t.Errorf("vault balance = %v, want 25", f.ledger.TokenBalance(rewardToken, vaultAddr))
	}
	if f.portal.IsFunded(intent) {
		t.Error("escrow must not report funded yet")
	}

	// Top up the rest.
	f.ledger.MintToken(rewardToken, creator, uint256.NewInt(35))
	if err := f.portal.Fund(intent, creator, true); err != nil {
		t.Fatalf("top-up fund: %v", err)
	}
	if !f.portal.IsFunded(intent) {
		t.Error("escrow must be funded after top-up")
	}
}

func TestFundForWithPermit(t *testing.T) {
	f := newFixture(t)
	key, _ := crypto.GenerateKey()
	owner := crypto.KeyAddress(key)

	intent := f.intent(2, 1)
	intent.Reward.Creator = owner
	if _, err := f.portal.Publish(intent); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	f.ledger.MintToken(rewardToken, owner, uint256.NewInt(60))

	p := bank.PermitData{
		Token:    rewardToken,
		Owner:    owner,
		Spender:  f.portal.Address(),
		Amount:   uint256.NewInt(60),
		Deadline: f.now + 10,
		Nonce:    0,
	}
	sig, err := crypto.Sign(bank.PermitDigest(1, p), key)
	if err != nil {
		t.Fatalf("sign permit: %v", err)
	}
	p.Signature = sig

	if err := f.portal.FundFor(intent, owner, false, []bank.PermitData{p}); err != nil {
		t.Fatalf("FundFor: %v", err)
	}
	if !f.portal.IsFunded(intent) {
		t.Error("permit-funded escrow must be funded")
	}
}

func TestPublishAndFundAtomic(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(2, 1)

	// Funding fails (no assets), so the publish must unwind too.
	if _, err := f.portal.PublishAndFund(intent, creator, false); err == nil {
		t.Fatal("expected funding failure")
	}
	h, _, _ := intent.Hashes()
	if f.portal.Status(h) != types.StatusUnpublished {
		t.Errorf("status after failed publish+fund = %v, want unpublished", f.portal.Status(h))
	}
}

func TestFulfill(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(1, 1)
	f.ledger.MintToken(routeToken, solver, uint256.NewInt(50))

	// Register a sink that consumes 30 of the staged 50 route tokens.
	sink := types.HexToAddress("0x77")
	f.exec.Register(sink, func(ctx *CallContext, _ []byte) error {
		return ctx.Ledger.TransferToken(routeToken, f.exec.Address(), sink, uint256.NewInt(30))
	})
	intent.Route.Calls = []types.Call{{Target: sink, Value: uint256.NewInt(0), Data: []byte{0x01}}}
	h, _, rewardHash := intent.Hashes()

	if err := f.portal.Fulfill(h, &intent.Route, rewardHash, solver, solver); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if f.portal.Claimant(h) != solver {
		t.Errorf("claimant = %s, want %s", f.portal.Claimant(h).Hex(), solver.Hex())
	}
	if f.portal.Status(h) != types.StatusFulfilled {
		t.Errorf("status = %v, want fulfilled", f.portal.Status(h))
	}
	// 30 consumed by the sink, 20 swept back to the filler.
	if !f.ledger.TokenBalance(routeToken, sink).Eq(uint256.NewInt(30)) {
		t.Errorf("sink = %v, want 30", f.ledger.TokenBalance(routeToken, sink))
	}
	if !f.ledger.TokenBalance(routeToken, solver).Eq(uint256.NewInt(20)) {
		t.Errorf("solver leftover = %v, want 20", f.ledger.TokenBalance(routeToken, solver))
	}

	// Exactly once.
	err := f.portal.Fulfill(h, &intent.Route, rewardHash, types.HexToAddress("0x33"), solver)
	if !errors.Is(err, types.ErrAlreadyFulfilled) {
		t.Errorf("second fulfill error = %v, want ErrAlreadyFulfilled", err)
	}
	if f.portal.Claimant(h) != solver {
		t.Error("claimant must not change after the first fulfill")
	}
}

func TestFulfillRejections(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(1, 1)
	h, _, rewardHash := intent.Hashes()
	f.ledger.MintToken(routeToken, solver, uint256.NewInt(50))

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"hash mismatch", func() error {
			r := intent.Route
			r.Deadline++
			return f.portal.Fulfill(h, &r, rewardHash, solver, solver)
		}, types.ErrHashMismatch},
		{"wrong portal", func() error {
			r := intent.Route
			r.Portal = types.HexToAddress("0xf9")
			return f.portal.Fulfill(h, &r, rewardHash, solver, solver)
		}, types.ErrWrongPortal},
		{"zero claimant", func() error {
			return f.portal.Fulfill(h, &intent.Route, rewardHash, types.Address{}, solver)
		}, types.ErrZeroClaimant},
		{"expired route", func() error {
			f.now = intent.Route.Deadline + 1
			defer func() { f.now = 1000 }()
			return f.portal.Fulfill(h, &intent.Route, rewardHash, solver, solver)
		}, types.ErrRouteExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("Fulfill() = %v, want %v", err, tt.want)
			}
		})
	}
	if f.portal.Claimant(h) != (types.Address{}) {
		t.Error("rejected fulfills must not record a claimant")
	}
}

func TestFulfillRevertsOnCallFailure(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(1, 1)
	f.ledger.MintToken(routeToken, solver, uint256.NewInt(50))

	target := types.HexToAddress("0x77")
	f.exec.Register(target, func(*CallContext, []byte) error {
		return errors.New("reverted")
	})
	intent.Route.Calls = []types.Call{{Target: target, Value: uint256.NewInt(0), Data: []byte{0x01}}}
	h, _, rewardHash := intent.Hashes()

	err := f.portal.Fulfill(h, &intent.Route, rewardHash, solver, solver)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("error = %v, want ErrExecutionFailed", err)
	}
	if !f.ledger.TokenBalance(routeToken, solver).Eq(uint256.NewInt(50)) {
		t.Error("failed fulfill must restore the filler's assets")
	}
	if f.portal.Claimant(h) != (types.Address{}) || f.portal.Status(h) != types.StatusUnpublished {
		t.Error("failed fulfill must leave no state")
	}
}

func TestFulfillAndProve(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(1, 1)
	h, _, rewardHash := intent.Hashes()
	f.ledger.MintToken(routeToken, solver, uint256.NewInt(50))
	f.ledger.MintNative(solver, uint256.NewInt(10))

	fee := uint256.NewInt(10)
	if err := f.portal.FulfillAndProve(h, &intent.Route, rewardHash, solver, solver, proverAddr, 2, fee); err != nil {
		t.Fatalf("FulfillAndProve: %v", err)
	}
	if f.prover.proveN != 1 {
		t.Errorf("prove calls = %d, want 1", f.prover.proveN)
	}
	if !f.ledger.NativeBalance(proverAddr).Eq(fee) {
		t.Errorf("prover fee balance = %v, want %v", f.ledger.NativeBalance(proverAddr), fee)
	}
}

func TestFulfillAndProveRevertsOnProveFailure(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(1, 1)
	h, _, rewardHash := intent.Hashes()
	f.ledger.MintToken(routeToken, solver, uint256.NewInt(50))
	f.prover.prove = prover.ErrUnknownChain

	err := f.portal.FulfillAndProve(h, &intent.Route, rewardHash, solver, solver, proverAddr, 2, nil)
	if !errors.Is(err, prover.ErrUnknownChain) {
		t.Fatalf("error = %v, want ErrUnknownChain", err)
	}
	if f.portal.Claimant(h) != (types.Address{}) {
		t.Error("failed prove must unwind the fulfill")
	}

	// Unknown prover address.
	err = f.portal.FulfillAndProve(h, &intent.Route, rewardHash, solver, solver, types.HexToAddress("0x99"), 2, nil)
	if !errors.Is(err, types.ErrUnknownProver) {
		t.Errorf("error = %v, want ErrUnknownProver", err)
	}
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(2, 1)
	h := f.fund(t, intent)
	_, routeHash, _ := intent.Hashes()

	// Unproven: rejected.
	if err := f.portal.Withdraw(2, routeHash, &intent.Reward); !errors.Is(err, types.ErrIntentNotProven) {
		t.Fatalf("unproven error = %v, want ErrIntentNotProven", err)
	}

	// Proven for the wrong destination: rejected.
	f.prover.set(h, solver, 3)
	if err := f.portal.Withdraw(2, routeHash, &intent.Reward); !errors.Is(err, types.ErrIntentNotProven) {
		t.Fatalf("wrong-destination error = %v, want ErrIntentNotProven", err)
	}

	f.prover.set(h, solver, 2)
	if err := f.portal.Withdraw(2, routeHash, &intent.Reward); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if !f.ledger.TokenBalance(rewardToken, solver).Eq(uint256.NewInt(60)) {
		t.Errorf("claimant reward = %v, want 60", f.ledger.TokenBalance(rewardToken, solver))
	}
	if f.portal.Status(h) != types.StatusWithdrawn {
		t.Errorf("status = %v, want withdrawn", f.portal.Status(h))
	}

	// Exactly once.
	if err := f.portal.Withdraw(2, routeHash, &intent.Reward); !errors.Is(err, types.ErrAlreadyWithdrawn) {
		t.Errorf("second withdraw error = %v, want ErrAlreadyWithdrawn", err)
	}
	// Refund after withdraw is excluded.
	f.now = intent.Reward.Deadline + 1
	if err := f.portal.Refund(2, routeHash, &intent.Reward); !errors.Is(err, types.ErrAlreadyWithdrawn) {
		t.Errorf("refund-after-withdraw error = %v, want ErrAlreadyWithdrawn", err)
	}
}

func TestWithdrawUnknownProver(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(2, 1)
	intent.Reward.Prover = types.HexToAddress("0x99")
	f.fund(t, intent)
	_, routeHash, _ := intent.Hashes()

	if err := f.portal.Withdraw(2, routeHash, &intent.Reward); !errors.Is(err, types.ErrUnknownProver) {
		t.Errorf("error = %v, want ErrUnknownProver", err)
	}
}

func TestFulfillKeepsTerminalStatus(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(1, 1)
	h := f.fund(t, intent)
	_, routeHash, rewardHash := intent.Hashes()
	f.ledger.MintToken(routeToken, solver, uint256.NewInt(50))

	// Escrow released before the route runs, as in flash settlement.
	f.prover.set(h, solver, 1)
	if err := f.portal.Withdraw(1, routeHash, &intent.Reward); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if err := f.portal.Fulfill(h, &intent.Route, rewardHash, solver, solver); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if f.portal.Claimant(h) != solver {
		t.Errorf("claimant = %s, want %s", f.portal.Claimant(h).Hex(), solver.Hex())
	}
	if f.portal.Status(h) != types.StatusWithdrawn {
		t.Errorf("status = %v, want withdrawn", f.portal.Status(h))
	}

	// The terminal status keeps both exits shut.
	if err := f.portal.Withdraw(1, routeHash, &intent.Reward); !errors.Is(err, types.ErrAlreadyWithdrawn) {
		t.Errorf("second withdraw error = %v, want ErrAlreadyWithdrawn", err)
	}
	f.now = intent.Reward.Deadline + 1
	if err := f.portal.Refund(1, routeHash, &intent.Reward); !errors.Is(err, types.ErrAlreadyWithdrawn) {
		t.Errorf("refund error = %v, want ErrAlreadyWithdrawn", err)
	}
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(2, 1)
	h := f.fund(t, intent)
	_, routeHash, _ := intent.Hashes()

	// Before the reward deadline: rejected.
	if err := f.portal.Refund(2, routeHash, &intent.Reward); !errors.Is(err, types.ErrRewardNotExpired) {
		t.Fatalf("early refund error = %v, want ErrRewardNotExpired", err)
	}

	f.now = intent.Reward.Deadline + 1
	if err := f.portal.Refund(2, routeHash, &intent.Reward); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if !f.ledger.TokenBalance(rewardToken, creator).Eq(uint256.NewInt(60)) {
		t.Errorf("creator refund = %v, want 60", f.ledger.TokenBalance(rewardToken, creator))
	}
	if f.portal.Status(h) != types.StatusRefunded {
		t.Errorf("status = %v, want refunded", f.portal.Status(h))
	}

	// Withdraw after refund is excluded even with a valid proof.
	f.prover.set(h, solver, 2)
	if err := f.portal.Withdraw(2, routeHash, &intent.Reward); !errors.Is(err, types.ErrAlreadyRefunded) {
		t.Errorf("withdraw-after-refund error = %v, want ErrAlreadyRefunded", err)
	}
}

func TestChallengeIntentProof(t *testing.T) {
	f := newFixture(t)
	intent := f.intent(2, 1)
	h, routeHash, rewardHash := intent.Hashes()
	f.fund(t, intent)

	// Record attributed to destination 3 while the intent commits to 2: the
	// challenge recomputes the hash for 2 and the mismatch clears the record.
	f.prover.set(h, solver, 3)
	cleared, err := f.portal.ChallengeIntentProof(2, routeHash, rewardHash, proverAddr)
	if err != nil || !cleared {
		t.Fatalf("challenge = %v/%v, want cleared/nil", cleared, err)
	}
	if f.prover.ProvenIntents(h).Exists() {
		t.Error("record must be gone after challenge")
	}

	// Matching record survives.
	f.prover.set(h, solver, 2)
	cleared, err = f.portal.ChallengeIntentProof(2, routeHash, rewardHash, proverAddr)
	if err != nil || cleared {
		t.Errorf("matching challenge = %v/%v, want false/nil", cleared, err)
	}

	if _, err := f.portal.ChallengeIntentProof(2, routeHash, rewardHash, types.HexToAddress("0x99")); !errors.Is(err, types.ErrUnknownProver) {
		t.Errorf("unknown prover error = %v, want ErrUnknownProver", err)
	}
}
