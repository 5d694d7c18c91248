package prover

import (
	"sync"

	"github.com/intentlane/intentlane/events"
	"github.com/intentlane/intentlane/log"
	"github.com/intentlane/intentlane/types"
)

// recordOutcome classifies what happened to one batch entry.
type recordOutcome uint8

const (
	outcomeRecorded recordOutcome = iota
	outcomeSkippedZero
	outcomeAlreadyProven
)

// proofBook is the per-prover proof table. Exactly one prover instance owns
// and mutates each book; the settlement ledger only reads it through the
// owning prover's ProvenIntents. The book also implements the challenge
// rule, since clearing is the one mutation that does not originate from the
// owner's validation path.
type proofBook struct {
	mu      sync.RWMutex
	records map[types.Hash]ProofRecord
	bus     *events.Bus
	log     *log.Logger
}

func newProofBook(bus *events.Bus, logger *log.Logger) *proofBook {
	if logger == nil {
		logger = log.Default()
	}
	return &proofBook{
		records: make(map[types.Hash]ProofRecord),
		bus:     bus,
		log:     logger,
	}
}

// get returns the record for an intent hash, zero-valued if absent.
func (b *proofBook) get(h types.Hash) ProofRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.records[h]
}

// record applies one batch entry. Zero claimants are skipped and
// already-proven hashes acknowledged without mutation; both are best-effort
// batch entries, never errors, so one bad entry cannot block its siblings.
func (b *proofBook) record(h types.Hash, claimant types.Address, destination uint64) recordOutcome {
	if claimant.IsZero() {
		b.bus.Emit(events.Event{Type: events.ProofSkipped, Hash: h, Destination: destination})
		b.log.Debug("skipping zero-claimant proof entry", "intent", h.Hex())
		return outcomeSkippedZero
	}

	b.mu.Lock()
	if existing, ok := b.records[h]; ok && existing.Exists() {
		b.mu.Unlock()
		b.bus.Emit(events.Event{Type: events.IntentAlreadyProven, Hash: h, Claimant: existing.Claimant, Destination: existing.Destination})
		b.log.Debug("intent already proven", "intent", h.Hex(), "claimant", existing.Claimant.Hex())
		return outcomeAlreadyProven
	}
	b.records[h] = ProofRecord{Claimant: claimant, Destination: destination}
	b.mu.Unlock()

	b.bus.Emit(events.Event{Type: events.IntentProven, Hash: h, Claimant: claimant, Destination: destination})
	b.log.Info("intent proven", "intent", h.Hex(), "claimant", claimant.Hex(), "destination", destination)
	return outcomeRecorded
}

// recordBatch applies a decoded batch, returning how many entries were
// newly recorded.
func (b *proofBook) recordBatch(pairs []ProofPair, destination uint64) int {
	n := 0
	for _, p := range pairs {
		if b.record(p.IntentHash, p.Claimant, destination) == outcomeRecorded {
			n++
		}
	}
	return n
}

// override unconditionally replaces the record for an intent hash. Reserved
// for the local prover's intermediary-claimant transitions.
func (b *proofBook) override(h types.Hash, rec ProofRecord) {
	b.mu.Lock()
	b.records[h] = rec
	b.mu.Unlock()
}

// clear removes the record for an intent hash.
func (b *proofBook) clear(h types.Hash) {
	b.mu.Lock()
	delete(b.records, h)
	b.mu.Unlock()
}

// challenge clears the record iff its stored destination disagrees with the
// supplied one. Returns whether a record was cleared; a matching or absent
// record is a no-op.
func (b *proofBook) challenge(h types.Hash, destination uint64) bool {
	b.mu.Lock()
	rec, ok := b.records[h]
	if !ok || !rec.Exists() || rec.Destination == destination {
		b.mu.Unlock()
		return false
	}
	delete(b.records, h)
	b.mu.Unlock()

	b.bus.Emit(events.Event{Type: events.IntentProofInvalidated, Hash: h, Claimant: rec.Claimant, Destination: rec.Destination})
	b.log.Warn("proof record invalidated by challenge",
		"intent", h.Hex(), "recorded", rec.Destination, "declared", destination)
	return true
}
