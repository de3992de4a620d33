package asset

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Collection is a non-fungible asset contract: each unit id has exactly one
// owner and optionally one approved spender. Thread-safe; persists to pebble
// when a store is attached.
type Collection struct {
	mu sync.RWMutex

	Name    string
	Symbol  string
	Address common.Address

	owners    map[uint256.Int]common.Address // unit id -> owner
	approvals map[uint256.Int]common.Address // unit id -> approved spender

	store *Store
}

// NewCollection creates an empty non-fungible collection
func NewCollection(addr common.Address, name, symbol string) *Collection {
	return &Collection{
		Name:      name,
		Symbol:    symbol,
		Address:   addr,
		owners:    make(map[uint256.Int]common.Address),
		approvals: make(map[uint256.Int]common.Address),
	}
}

// Mint creates unit id owned by to. Fails if the id was already minted.
func (c *Collection) Mint(to common.Address, id *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.owners[*id]; ok {
		return fmt.Errorf("%s mint %s: %w", c.Symbol, id.Hex(), ErrUnitExists)
	}
	c.owners[*id] = to
	return c.persist()
}

// OwnerOf returns the owner of unit id, and whether the unit exists
func (c *Collection) OwnerOf(id *uint256.Int) (common.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	owner, ok := c.owners[*id]
	return owner, ok
}

// BalanceOf returns how many units addr owns
func (c *Collection) BalanceOf(addr common.Address) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n uint64
	for _, owner := range c.owners {
		if owner == addr {
			n++
		}
	}
	return n
}

// Approve grants spender the right to transfer unit id. The caller must be
// the current owner.
func (c *Collection) Approve(caller, spender common.Address, id *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner, ok := c.owners[*id]
	if !ok {
		return fmt.Errorf("%s approve %s: %w", c.Symbol, id.Hex(), ErrUnknownUnit)
	}
	if owner != caller {
		return fmt.Errorf("%s approve %s by %s: %w", c.Symbol, id.Hex(), caller.Hex(), ErrNotOwner)
	}
	c.approvals[*id] = spender
	return c.persist()
}

// TransferFrom moves unit id from its owner to another address. The caller
// must be the owner or the approved spender; from must be the current owner.
// Any approval on the unit is cleared by the transfer.
func (c *Collection) TransferFrom(caller, from, to common.Address, id *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	owner, ok := c.owners[*id]
	if !ok {
		return fmt.Errorf("%s transfer %s: %w", c.Symbol, id.Hex(), ErrUnknownUnit)
	}
	if owner != from {
		return fmt.Errorf("%s transfer %s: from %s: %w", c.Symbol, id.Hex(), from.Hex(), ErrNotOwner)
	}
	if caller != owner {
		approved, ok := c.approvals[*id]
		if !ok || approved != caller {
			return fmt.Errorf("%s transfer %s by %s: %w", c.Symbol, id.Hex(), caller.Hex(), ErrNotApproved)
		}
	}

	c.owners[*id] = to
	delete(c.approvals, *id)
	return c.persist()
}

// persist writes the collection state when a store is attached (lock held)
func (c *Collection) persist() error {
	if c.store == nil {
		return nil
	}
	return c.store.SaveCollection(c)
}
