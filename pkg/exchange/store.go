package exchange

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/holiman/uint256"
)

// OrderStore is the sole source of truth for outstanding escrow obligations:
// a keyed map from order id to record, with optional pebble persistence.
// Thread-safe, but callers that need read-modify-write atomicity across
// calls (the engine) serialize on their own mutex.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[uint256.Int]*Order
	store  *Store
}

// NewOrderStore creates an in-memory order store
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[uint256.Int]*Order)}
}

// NewOrderStoreWithPath creates an order store backed by a pebble database,
// restoring any open orders persisted there.
func NewOrderStoreWithPath(dbPath string) (*OrderStore, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create order store: %w", err)
	}

	os := NewOrderStore()
	os.store = store

	restored, err := store.LoadOpenOrders()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to restore open orders: %w", err)
	}
	for _, o := range restored {
		os.orders[o.ID] = o
	}
	return os, nil
}

// Close closes the underlying pebble database, if any
func (s *OrderStore) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Exists reports whether id denotes an open order
func (s *OrderStore) Exists(id uint256.Int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.orders[id]
	return ok
}

// Create persists a new open order. Fails if the id is already open.
func (s *OrderStore) Create(o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("create order %s: %w", o.ID.Hex(), ErrDuplicateID)
	}

	cp := o.clone()
	s.orders[o.ID] = &cp
	return s.persist(&cp)
}

// Get returns a copy of the order, or the zero-valued record if id does not
// denote an open order
func (s *OrderStore) Get(id uint256.Int) Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return zeroOrder()
	}
	return o.clone()
}

// Decrement reduces both sides of an order by the filled amounts, applied
// only after both asset movements of the fill have been confirmed. When
// either side reaches zero the order is closed and its record removed,
// leaving the slot indistinguishable from one that never existed.
// Returns whether the order closed.
func (s *OrderStore) Decrement(id uint256.Int, makerDelta, takerDelta *uint256.Int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, fmt.Errorf("decrement order %s: %w", id.Hex(), ErrUnknownOrder)
	}
	if o.MakerItem.Value.Lt(makerDelta) || o.TakerItem.Value.Lt(takerDelta) {
		return false, fmt.Errorf("decrement order %s: fill exceeds remaining values", id.Hex())
	}

	o.MakerItem.Value.Sub(o.MakerItem.Value, makerDelta)
	o.TakerItem.Value.Sub(o.TakerItem.Value, takerDelta)

	if o.MakerItem.Value.IsZero() || o.TakerItem.Value.IsZero() {
		delete(s.orders, id)
		return true, s.remove(id)
	}
	return false, s.persist(o)
}

// Clear removes the order record entirely (cancel path)
func (s *OrderStore) Clear(id uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return fmt.Errorf("clear order %s: %w", id.Hex(), ErrUnknownOrder)
	}
	delete(s.orders, id)
	return s.remove(id)
}

// Open returns copies of all open orders, sorted by id
func (s *OrderStore) Open() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Cmp(&out[j].ID) < 0
	})
	return out
}

// Count returns the number of open orders
func (s *OrderStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// persist assumes the lock is held
func (s *OrderStore) persist(o *Order) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveOrder(o)
}

// remove assumes the lock is held
func (s *OrderStore) remove(id uint256.Int) error {
	if s.store == nil {
		return nil
	}
	return s.store.DeleteOrder(id)
}

// Store provides pebble-based persistence for open orders
type Store struct {
	db *pebble.DB
}

// NewStore opens a pebble database at the given path
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:          64 << 20,                   // 64MB memtable
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
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

// SaveOrder persists an order record
func (s *Store) SaveOrder(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(o.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// DeleteOrder removes an order record
func (s *Store) DeleteOrder(id uint256.Int) error {
	if err := s.db.Delete(orderKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// LoadOpenOrders loads every persisted open order
func (s *Store) LoadOpenOrders() ([]*Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}
	defer iter.Close()

	var orders []*Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			continue // Skip invalid entries
		}
		if o.Open() {
			orders = append(orders, &o)
		}
	}
	return orders, nil
}
