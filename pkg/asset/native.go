package asset

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Bank tracks native-currency balances per address.
// Thread-safe; persists to pebble when a store is attached.
type Bank struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
	store    *Store
}

// NewBank creates an in-memory bank with no balances
func NewBank() *Bank {
	return &Bank{balances: make(map[common.Address]*uint256.Int)}
}

// BalanceOf returns the native balance of addr (zero if unknown)
func (b *Bank) BalanceOf(addr common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bal, ok := b.balances[addr]
	if !ok {
		return uint256.NewInt(0)
	}
	return bal.Clone()
}

// Mint credits amount to addr out of thin air (genesis funding only)
func (b *Bank) Mint(to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.credit(to, amount)
	return b.persist()
}

// Transfer moves amount from one address to another.
// Returns ErrInsufficientBalance without any effect if from cannot cover it.
func (b *Bank) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bal, ok := b.balances[from]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("native transfer from %s: %w", from.Hex(), ErrInsufficientBalance)
	}

	bal.Sub(bal, amount)
	b.credit(to, amount)
	return b.persist()
}

// credit assumes the lock is held
func (b *Bank) credit(to common.Address, amount *uint256.Int) {
	bal, ok := b.balances[to]
	if !ok {
		bal = uint256.NewInt(0)
		b.balances[to] = bal
	}
	bal.Add(bal, amount)
}

// persist writes the full balance map when a store is attached (lock held)
func (b *Bank) persist() error {
	if b.store == nil {
		return nil
	}
	return b.store.SaveBank(b.balances)
}
