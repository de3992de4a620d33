package asset

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Ledger is the registry of all assets a node knows about: the native bank
// plus every deployed fungible token and non-fungible collection. Deployment
// addresses are derived deterministically from a deployer address and a
// monotonic nonce, the way contract creation derives them on chain.
type Ledger struct {
	mu sync.RWMutex

	bank        *Bank
	tokens      map[common.Address]*Token
	collections map[common.Address]*Collection

	deployer common.Address
	nonce    uint64

	store *Store
}

// NewLedger creates an in-memory ledger with no persistence
func NewLedger() *Ledger {
	return &Ledger{
		bank:        NewBank(),
		tokens:      make(map[common.Address]*Token),
		collections: make(map[common.Address]*Collection),
	}
}

// NewLedgerWithStore creates a ledger backed by a pebble database at dbPath,
// restoring any previously persisted bank, token, and collection state.
func NewLedgerWithStore(dbPath string) (*Ledger, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger store: %w", err)
	}

	l := NewLedger()
	l.store = store
	l.bank.store = store

	if err := store.LoadInto(l); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to restore ledger state: %w", err)
	}
	return l, nil
}

// Close closes the underlying pebble database, if any
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// Bank returns the native-currency bank
func (l *Ledger) Bank() *Bank {
	return l.bank
}

// DeployToken creates and registers a new fungible token
func (l *Ledger) DeployToken(name, symbol string, decimals uint8) (*Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	addr := crypto.CreateAddress(l.deployer, l.nonce)
	l.nonce++

	t := NewToken(addr, name, symbol, decimals)
	t.store = l.store
	l.tokens[addr] = t

	if l.store != nil {
		if err := l.store.SaveToken(t); err != nil {
			return nil, err
		}
		if err := l.store.SaveNonce(l.nonce); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DeployCollection creates and registers a new non-fungible collection
func (l *Ledger) DeployCollection(name, symbol string) (*Collection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	addr := crypto.CreateAddress(l.deployer, l.nonce)
	l.nonce++

	c := NewCollection(addr, name, symbol)
	c.store = l.store
	l.collections[addr] = c

	if l.store != nil {
		if err := l.store.SaveCollection(c); err != nil {
			return nil, err
		}
		if err := l.store.SaveNonce(l.nonce); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Token returns the fungible token at addr, if deployed
func (l *Ledger) Token(addr common.Address) (*Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tokens[addr]
	return t, ok
}

// Collection returns the non-fungible collection at addr, if deployed
func (l *Ledger) Collection(addr common.Address) (*Collection, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.collections[addr]
	return c, ok
}

// Assets returns refs for every deployed asset plus the native currency
func (l *Ledger) Assets() []Ref {
	l.mu.RLock()
	defer l.mu.RUnlock()

	refs := make([]Ref, 0, len(l.tokens)+len(l.collections)+1)
	refs = append(refs, NativeRef())
	for addr := range l.tokens {
		refs = append(refs, Ref{Kind: Fungible, Address: addr})
	}
	for addr := range l.collections {
		refs = append(refs, Ref{Kind: NonFungible, Address: addr})
	}
	return refs
}

// register adds a restored asset during store load (no persistence round-trip)
func (l *Ledger) register(t *Token, c *Collection) {
	if t != nil {
		t.store = l.store
		l.tokens[t.Address] = t
	}
	if c != nil {
		c.store = l.store
		l.collections[c.Address] = c
	}
}
