package asset

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is a fungible asset contract: balances plus third-party allowances.
// Method signatures carry the caller explicitly where a contract would use
// msg.sender. Thread-safe; persists to pebble when a store is attached.
type Token struct {
	mu sync.RWMutex

	Name     string
	Symbol   string
	Decimals uint8
	Address  common.Address

	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int // owner -> spender -> amount
	totalSupply *uint256.Int

	store *Store
}

// NewToken creates a fungible token with zero supply
func NewToken(addr common.Address, name, symbol string, decimals uint8) *Token {
	return &Token{
		Name:        name,
		Symbol:      symbol,
		Decimals:    decimals,
		Address:     addr,
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
		totalSupply: uint256.NewInt(0),
	}
}

// BalanceOf returns the token balance of addr (zero if unknown)
func (t *Token) BalanceOf(addr common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bal, ok := t.balances[addr]
	if !ok {
		return uint256.NewInt(0)
	}
	return bal.Clone()
}

// TotalSupply returns the total minted amount
func (t *Token) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply.Clone()
}

// Allowance returns how much spender may move out of owner's balance
func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byOwner, ok := t.allowances[owner]
	if !ok {
		return uint256.NewInt(0)
	}
	amount, ok := byOwner[spender]
	if !ok {
		return uint256.NewInt(0)
	}
	return amount.Clone()
}

// Approve grants spender the right to move up to amount from owner's balance
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	byOwner, ok := t.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = byOwner
	}
	byOwner[spender] = amount.Clone()
	return t.persist()
}

// Transfer moves amount from the caller's balance to another address
func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.move(from, to, amount); err != nil {
		return err
	}
	return t.persist()
}

// TransferFrom moves amount from one address to another on behalf of spender,
// gated by a prior Approve from the source. The allowance is decremented by
// the transferred amount.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	byOwner, ok := t.allowances[from]
	if !ok {
		return fmt.Errorf("%s transferFrom %s: %w", t.Symbol, from.Hex(), ErrInsufficientAllowance)
	}
	allowed, ok := byOwner[spender]
	if !ok || allowed.Lt(amount) {
		return fmt.Errorf("%s transferFrom %s: %w", t.Symbol, from.Hex(), ErrInsufficientAllowance)
	}

	if err := t.move(from, to, amount); err != nil {
		return err
	}

	allowed.Sub(allowed, amount)
	return t.persist()
}

// Mint credits amount to an address, growing the total supply
func (t *Token) Mint(to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	bal, ok := t.balances[to]
	if !ok {
		bal = uint256.NewInt(0)
		t.balances[to] = bal
	}
	bal.Add(bal, amount)
	t.totalSupply.Add(t.totalSupply, amount)
	return t.persist()
}

// move assumes the lock is held
func (t *Token) move(from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}

	bal, ok := t.balances[from]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("%s transfer from %s: %w", t.Symbol, from.Hex(), ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)

	toBal, ok := t.balances[to]
	if !ok {
		toBal = uint256.NewInt(0)
		t.balances[to] = toBal
	}
	toBal.Add(toBal, amount)
	return nil
}

// persist writes the token state when a store is attached (lock held)
func (t *Token) persist() error {
	if t.store == nil {
		return nil
	}
	return t.store.SaveToken(t)
}
