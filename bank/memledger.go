package bank

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/intentlane/intentlane/types"
)

// MemLedger is an in-memory Ledger: a map arena keyed by account identity,
// with an undo journal for snapshot/revert. All methods are safe for
// concurrent use, though the engine serializes state-changing operations
// per ledger the way a chain serializes transactions.
type MemLedger struct {
	mu           sync.Mutex
	native       map[types.Address]*uint256.Int
	tokens       map[types.Address]map[types.Address]*uint256.Int // token -> holder -> amount
	allowances   map[allowanceKey]*uint256.Int
	nonces       map[types.Address]uint64
	rejectNative map[types.Address]bool
	journal      []func()
	domain       permitDomain
}

type allowanceKey struct {
	token   types.Address
	owner   types.Address
	spender types.Address
}

// NewMemLedger creates an empty ledger for the given chain. The chain id
// scopes permit signatures so a permit signed for one ledger cannot be
// replayed on another.
func NewMemLedger(chainID uint64) *MemLedger {
	return &MemLedger{
		native:       make(map[types.Address]*uint256.Int),
		tokens:       make(map[types.Address]map[types.Address]*uint256.Int),
		allowances:   make(map[allowanceKey]*uint256.Int),
		nonces:       make(map[types.Address]uint64),
		rejectNative: make(map[types.Address]bool),
		domain:       newPermitDomain(chainID),
	}
}

// MintNative credits addr with native assets. Test and genesis helper; not
// part of the Ledger interface.
func (l *MemLedger) MintNative(addr types.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setNative(addr, new(uint256.Int).Add(l.getNative(addr), amount))
}

// MintToken credits addr with token assets.
func (l *MemLedger) MintToken(token, addr types.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setToken(token, addr, new(uint256.Int).Add(l.getToken(token, addr), amount))
}

// SetNativeRejecting marks addr as refusing native transfers, modeling a
// recipient whose receive hook reverts.
func (l *MemLedger) SetNativeRejecting(addr types.Address, rejecting bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.rejectNative[addr]
	l.rejectNative[addr] = rejecting
	l.journal = append(l.journal, func() { l.rejectNative[addr] = prev })
}

// NativeBalance implements Ledger.
func (l *MemLedger) NativeBalance(addr types.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.getNative(addr))
}

// TokenBalance implements Ledger.
func (l *MemLedger) TokenBalance(token, addr types.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.getToken(token, addr))
}

// TransferNative implements Ledger.
func (l *MemLedger) TransferNative(from, to types.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount == nil || amount.IsZero() {
		return nil
	}
	if l.rejectNative[to] {
		return ErrNativeTransferRejected
	}
	bal := l.getNative(from)
	if bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	l.setNative(from, new(uint256.Int).Sub(bal, amount))
	l.setNative(to, new(uint256.Int).Add(l.getNative(to), amount))
	return nil
}

// TransferToken implements Ledger.
func (l *MemLedger) TransferToken(token, from, to types.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferToken(token, from, to, amount)
}

// TransferTokenFrom implements Ledger.
func (l *MemLedger) TransferTokenFrom(token, spender, owner, to types.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount == nil || amount.IsZero() {
		return nil
	}
	if spender != owner {
		key := allowanceKey{token, owner, spender}
		allowed := l.getAllowance(key)
		if allowed.Lt(amount) {
			return ErrInsufficientAllowance
		}
		l.setAllowance(key, new(uint256.Int).Sub(allowed, amount))
	}
	return l.transferToken(token, owner, to, amount)
}

// Approve implements Ledger.
func (l *MemLedger) Approve(token, owner, spender types.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(allowanceKey{token, owner, spender}, new(uint256.Int).Set(amount))
}

// Allowance implements Ledger.
func (l *MemLedger) Allowance(token, owner, spender types.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.getAllowance(allowanceKey{token, owner, spender}))
}

// PermitNonce implements Ledger.
func (l *MemLedger) PermitNonce(owner types.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonces[owner]
}

// Snapshot implements Ledger.
func (l *MemLedger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// RevertToSnapshot implements Ledger. Undo entries are replayed newest
// first, restoring the exact state at the time of the snapshot.
func (l *MemLedger) RevertToSnapshot(rev int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rev < 0 || rev > len(l.journal) {
		return
	}
	for i := len(l.journal) - 1; i >= rev; i-- {
		l.journal[i]()
	}
	l.journal = l.journal[:rev]
}

// --- internal accessors; callers hold l.mu ---

func (l *MemLedger) transferToken(token, from, to types.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	bal := l.getToken(token, from)
	if bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	l.setToken(token, from, new(uint256.Int).Sub(bal, amount))
	l.setToken(token, to, new(uint256.Int).Add(l.getToken(token, to), amount))
	return nil
}

func (l *MemLedger) getNative(addr types.Address) *uint256.Int {
	if v, ok := l.native[addr]; ok {
		return v
	}
	return uint256.NewInt(0)
}

func (l *MemLedger) setNative(addr types.Address, v *uint256.Int) {
	prev, had := l.native[addr]
	l.journal = append(l.journal, func() {
		if had {
			l.native[addr] = prev
		} else {
			delete(l.native, addr)
		}
	})
	l.native[addr] = v
}

func (l *MemLedger) getToken(token, addr types.Address) *uint256.Int {
	if holders, ok := l.tokens[token]; ok {
		if v, ok := holders[addr]; ok {
			return v
		}
	}
	return uint256.NewInt(0)
}

func (l *MemLedger) setToken(token, addr types.Address, v *uint256.Int) {
	holders, ok := l.tokens[token]
	if !ok {
		holders = make(map[types.Address]*uint256.Int)
		l.tokens[token] = holders
	}
	prev, had := holders[addr]
	l.journal = append(l.journal, func() {
		if had {
			holders[addr] = prev
		} else {
			delete(holders, addr)
		}
	})
	holders[addr] = v
}

func (l *MemLedger) getAllowance(key allowanceKey) *uint256.Int {
	if v, ok := l.allowances[key]; ok {
		return v
	}
	return uint256.NewInt(0)
}

func (l *MemLedger) setAllowance(key allowanceKey, v *uint256.Int) {
	prev, had := l.allowances[key]
	l.journal = append(l.journal, func() {
		if had {
			l.allowances[key] = prev
		} else {
			delete(l.allowances, key)
		}
	})
	l.allowances[key] = v
}

func (l *MemLedger) setNonce(owner types.Address, n uint64) {
	prev := l.nonces[owner]
	l.journal = append(l.journal, func() { l.nonces[owner] = prev })
	l.nonces[owner] = n
}
