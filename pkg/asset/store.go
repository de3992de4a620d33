package asset

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Store provides pebble-based persistence for ledger state.
// Thread-safe: all writes happen under the owning asset's mutex.
type Store struct {
	db *pebble.DB
}

// NewStore opens a pebble database at the given path
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:          32 << 20,                  // 32MB memtable
		L0CompactionThreshold: 2,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10, // 512KB
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Serialized forms. Map keys become hex strings because JSON objects
// require string keys; values round-trip through uint256 hex encoding.

type tokenState struct {
	Address     common.Address                     `json:"address"`
	Name        string                             `json:"name"`
	Symbol      string                             `json:"symbol"`
	Decimals    uint8                              `json:"decimals"`
	TotalSupply *uint256.Int                       `json:"totalSupply"`
	Balances    map[string]*uint256.Int            `json:"balances"`
	Allowances  map[string]map[string]*uint256.Int `json:"allowances"`
}

type unitState struct {
	ID       *uint256.Int `json:"id"`
	Owner    common.Address `json:"owner"`
	Approved common.Address `json:"approved"`
}

type collectionState struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	Symbol  string         `json:"symbol"`
	Units   []unitState    `json:"units"`
}

// SaveBank persists the full native balance map
func (s *Store) SaveBank(balances map[common.Address]*uint256.Int) error {
	state := make(map[string]*uint256.Int, len(balances))
	for addr, bal := range balances {
		state[addr.Hex()] = bal
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal bank: %w", err)
	}
	if err := s.db.Set([]byte(keyBank), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save bank: %w", err)
	}
	return nil
}

// SaveToken persists a fungible token's full state (caller holds its lock)
func (s *Store) SaveToken(t *Token) error {
	state := tokenState{
		Address:     t.Address,
		Name:        t.Name,
		Symbol:      t.Symbol,
		Decimals:    t.Decimals,
		TotalSupply: t.totalSupply,
		Balances:    make(map[string]*uint256.Int, len(t.balances)),
		Allowances:  make(map[string]map[string]*uint256.Int, len(t.allowances)),
	}
	for addr, bal := range t.balances {
		state.Balances[addr.Hex()] = bal
	}
	for owner, byOwner := range t.allowances {
		m := make(map[string]*uint256.Int, len(byOwner))
		for spender, amount := range byOwner {
			m[spender.Hex()] = amount
		}
		state.Allowances[owner.Hex()] = m
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal token %s: %w", t.Symbol, err)
	}
	if err := s.db.Set(tokenKey(t.Address), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save token %s: %w", t.Symbol, err)
	}
	return nil
}

// SaveCollection persists a collection's full state (caller holds its lock)
func (s *Store) SaveCollection(c *Collection) error {
	state := collectionState{
		Address: c.Address,
		Name:    c.Name,
		Symbol:  c.Symbol,
		Units:   make([]unitState, 0, len(c.owners)),
	}
	for id, owner := range c.owners {
		id := id
		state.Units = append(state.Units, unitState{
			ID:       &id,
			Owner:    owner,
			Approved: c.approvals[id],
		})
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal collection %s: %w", c.Symbol, err)
	}
	if err := s.db.Set(collectionKey(c.Address), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save collection %s: %w", c.Symbol, err)
	}
	return nil
}

// SaveNonce persists the deployment nonce
func (s *Store) SaveNonce(nonce uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	if err := s.db.Set([]byte(keyNonce), buf, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// LoadInto restores bank, tokens, collections, and the deployment nonce
// into a freshly created ledger
func (s *Store) LoadInto(l *Ledger) error {
	// Bank
	data, closer, err := s.db.Get([]byte(keyBank))
	if err == nil {
		var state map[string]*uint256.Int
		uerr := json.Unmarshal(data, &state)
		closer.Close()
		if uerr != nil {
			return fmt.Errorf("failed to unmarshal bank: %w", uerr)
		}
		for hex, bal := range state {
			l.bank.balances[common.HexToAddress(hex)] = bal
		}
	} else if err != pebble.ErrNotFound {
		return fmt.Errorf("failed to get bank: %w", err)
	}

	// Nonce
	data, closer, err = s.db.Get([]byte(keyNonce))
	if err == nil {
		if len(data) == 8 {
			l.nonce = binary.BigEndian.Uint64(data)
		}
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return fmt.Errorf("failed to get nonce: %w", err)
	}

	// Fungible tokens
	if err := s.loadTokens(l); err != nil {
		return err
	}

	// Non-fungible collections
	return s.loadCollections(l)
}

func (s *Store) loadTokens(l *Ledger) error {
	prefix := []byte(prefixFT)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to scan tokens: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var state tokenState
		if err := json.Unmarshal(iter.Value(), &state); err != nil {
			continue // Skip invalid entries
		}

		t := NewToken(state.Address, state.Name, state.Symbol, state.Decimals)
		if state.TotalSupply != nil {
			t.totalSupply = state.TotalSupply
		}
		for hex, bal := range state.Balances {
			t.balances[common.HexToAddress(hex)] = bal
		}
		for ownerHex, byOwner := range state.Allowances {
			m := make(map[common.Address]*uint256.Int, len(byOwner))
			for spenderHex, amount := range byOwner {
				m[common.HexToAddress(spenderHex)] = amount
			}
			t.allowances[common.HexToAddress(ownerHex)] = m
		}
		l.register(t, nil)
	}
	return nil
}

func (s *Store) loadCollections(l *Ledger) error {
	prefix := []byte(prefixNF)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to scan collections: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var state collectionState
		if err := json.Unmarshal(iter.Value(), &state); err != nil {
			continue // Skip invalid entries
		}

		c := NewCollection(state.Address, state.Name, state.Symbol)
		for _, unit := range state.Units {
			if unit.ID == nil {
				continue
			}
			c.owners[*unit.ID] = unit.Owner
			if unit.Approved != (common.Address{}) {
				c.approvals[*unit.ID] = unit.Approved
			}
		}
		l.register(nil, c)
	}
	return nil
}
