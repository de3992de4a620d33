package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/escrowx/escrowx/pkg/asset"
)

// fillScale is the fixed-point scaling constant for proportional fills.
// The canonical computation is ((makerValue * 1e18) / takerValue *
// takerAmount) / 1e18 in wrapping 256-bit arithmetic; this exact order of
// operations must be preserved for bit-for-bit compatible fills.
var fillScale = uint256.NewInt(1_000_000_000_000_000_000)

// EventType labels order lifecycle events
type EventType string

const (
	EventOrderCreated   EventType = "order_created"
	EventOrderFilled    EventType = "order_filled"
	EventOrderCancelled EventType = "order_cancelled"
)

// Event is emitted after each committed state transition
type Event struct {
	Type        EventType      `json:"type"`
	Order       Order          `json:"order"`
	MakerAmount *uint256.Int   `json:"makerAmount,omitempty"`
	TakerAmount *uint256.Int   `json:"takerAmount,omitempty"`
	Taker       common.Address `json:"taker,omitempty"`
	Closed      bool           `json:"closed,omitempty"`
}

// MakeOrderRequest carries the parameters of one make-order call
type MakeOrderRequest struct {
	ID         uint256.Int  `json:"id"`
	MakerValue *uint256.Int `json:"makerValue"`
	TakerValue *uint256.Int `json:"takerValue"`
	MakerAsset asset.Ref    `json:"makerAsset"`
	TakerAsset asset.Ref    `json:"takerAsset"`
}

// Validate rejects malformed requests before any asset movement
func (r MakeOrderRequest) Validate() error {
	if r.ID.IsZero() {
		return fmt.Errorf("order id must be non-zero")
	}
	if err := r.MakerAsset.Validate(); err != nil {
		return fmt.Errorf("maker asset: %w", err)
	}
	if err := r.TakerAsset.Validate(); err != nil {
		return fmt.Errorf("taker asset: %w", err)
	}
	if r.MakerValue == nil || r.MakerValue.IsZero() {
		return fmt.Errorf("maker value must be non-zero")
	}
	if r.TakerValue == nil || r.TakerValue.IsZero() {
		return fmt.Errorf("taker value must be non-zero")
	}
	return nil
}

// Engine holds custody of pledged assets and settles orders against them.
// Every public operation runs to completion under one mutex: no two
// operations interleave, matching the sequential execution the ledger's
// total order of operations provides.
type Engine struct {
	mu sync.Mutex

	ledger *asset.Ledger
	orders *OrderStore
	vault  common.Address

	native      nativeAdapter
	fungible    fungibleAdapter
	nonFungible nonFungibleAdapter

	log    *zap.SugaredLogger
	notify func(Event)
}

// NewEngine creates a settlement engine custodying assets at vault.
// A nil logger disables logging.
func NewEngine(ledger *asset.Ledger, orders *OrderStore, vault common.Address, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		ledger:      ledger,
		orders:      orders,
		vault:       vault,
		native:      nativeAdapter{bank: ledger.Bank(), vault: vault},
		fungible:    fungibleAdapter{ledger: ledger, vault: vault},
		nonFungible: nonFungibleAdapter{ledger: ledger, vault: vault},
		log:         logger,
	}
}

// Vault returns the escrow custodian address
func (e *Engine) Vault() common.Address {
	return e.vault
}

// SetNotify installs a callback invoked after each committed transition.
// Must be set before the engine starts serving operations.
func (e *Engine) SetNotify(fn func(Event)) {
	e.notify = fn
}

func (e *Engine) emit(ev Event) {
	if e.notify != nil {
		e.notify(ev)
	}
}

func (e *Engine) adapterFor(kind asset.Kind) adapter {
	switch kind {
	case asset.Fungible:
		return e.fungible
	case asset.NonFungible:
		return e.nonFungible
	default:
		return e.native
	}
}

// beginPayment debits the supplied native currency from payer into the
// vault and returns the budget tracker. A nil supplied amount means zero.
func (e *Engine) beginPayment(payer common.Address, supplied *uint256.Int) (*nativePayment, error) {
	if supplied == nil {
		supplied = uint256.NewInt(0)
	}
	if !supplied.IsZero() {
		if err := e.ledger.Bank().Transfer(payer, e.vault, supplied); err != nil {
			return nil, fmt.Errorf("native payment: %w", err)
		}
	}
	return &nativePayment{payer: payer, remaining: supplied.Clone()}, nil
}

// refundPayment returns any unconsumed native currency to the payer.
// The vault holds the remainder by construction, so this cannot fail;
// a failure here is an escrow-conservation violation.
func (e *Engine) refundPayment(pay *nativePayment) {
	if pay == nil || pay.remaining.IsZero() {
		return
	}
	if err := e.ledger.Bank().Transfer(e.vault, pay.payer, pay.remaining); err != nil {
		e.log.Errorw("refund_failed", "payer", pay.payer.Hex(), "amount", pay.remaining.Dec(), "err", err)
		return
	}
	pay.remaining.Clear()
}

// MakeOrder creates an order and pulls the maker's pledge into the vault.
// Escrow pull and order creation are one atomic unit: on any failure no
// order is created and no assets move (beyond refunding the supplied
// native currency in full).
func (e *Engine) MakeOrder(req MakeOrderRequest, suppliedNative *uint256.Int, maker common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pay, err := e.beginPayment(maker, suppliedNative)
	if err != nil {
		return err
	}
	defer e.refundPayment(pay)

	return e.makeOrderLocked(req, maker, pay)
}

// MakeOrders processes each sub-order independently in sequence. A
// sub-order's failure does not disturb committed or subsequent sub-orders.
// The native currency supplied for the whole batch is apportioned across
// native-denominated sub-orders in sequence order; the remainder (including
// amounts unused by failed sub-orders) is refunded once at the end.
// Returns false if any sub-order failed.
func (e *Engine) MakeOrders(reqs []MakeOrderRequest, suppliedNative *uint256.Int, maker common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	pay, err := e.beginPayment(maker, suppliedNative)
	if err != nil {
		e.log.Warnw("batch_rejected", "maker", maker.Hex(), "err", err)
		return false
	}
	defer e.refundPayment(pay)

	ok := true
	for i, req := range reqs {
		if err := e.makeOrderLocked(req, maker, pay); err != nil {
			e.log.Warnw("batch_order_failed",
				"index", i, "id", req.ID.Hex(), "maker", maker.Hex(), "err", err)
			ok = false
		}
	}
	return ok
}

// makeOrderLocked assumes the engine mutex is held and a payment is open
func (e *Engine) makeOrderLocked(req MakeOrderRequest, maker common.Address, pay *nativePayment) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if e.orders.Exists(req.ID) {
		return fmt.Errorf("make order %s: %w", req.ID.Hex(), ErrDuplicateID)
	}

	makerItem := Item{Asset: req.MakerAsset, Value: req.MakerValue.Clone(), Owner: maker}
	takerItem := Item{Asset: req.TakerAsset, Value: req.TakerValue.Clone()}

	if err := e.adapterFor(req.MakerAsset.Kind).pullIn(makerItem, maker, pay); err != nil {
		return fmt.Errorf("make order %s: escrow pull: %w", req.ID.Hex(), err)
	}

	order := Order{ID: req.ID, MakerItem: makerItem, TakerItem: takerItem}
	if err := e.orders.Create(order); err != nil {
		return err
	}

	e.log.Infow("order_created",
		"id", req.ID.Hex(),
		"maker", maker.Hex(),
		"maker_asset", req.MakerAsset.Kind.String(),
		"maker_value", req.MakerValue.Dec(),
		"taker_asset", req.TakerAsset.Kind.String(),
		"taker_value", req.TakerValue.Dec())
	e.emit(Event{Type: EventOrderCreated, Order: order.clone()})
	return nil
}

// TakeOrder fills an order in whole or in part. A take against a missing
// or closed order, and a fill whose computed amounts are zero, succeed
// with no effect. A failed pull of the taker's payment aborts the take
// with order and balances unchanged.
func (e *Engine) TakeOrder(id uint256.Int, requested, suppliedNative *uint256.Int, taker common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pay, err := e.beginPayment(taker, suppliedNative)
	if err != nil {
		return err
	}
	defer e.refundPayment(pay)

	order := e.orders.Get(id)
	if !order.Open() {
		return nil // idempotent on missing orders
	}
	if requested == nil {
		requested = uint256.NewInt(0)
	}

	makerAmount, takerAmount := computeFill(order, requested)
	if makerAmount.IsZero() || takerAmount.IsZero() {
		e.log.Debugw("degenerate_fill", "id", id.Hex(), "requested", requested.Dec())
		return nil
	}

	// Pull the taker's payment first; its failure must leave everything
	// untouched. Payouts and the store decrement follow only once the
	// payment is in vault custody.
	payItem := Item{Asset: order.TakerItem.Asset, Value: takerAmount, Owner: taker}
	if err := e.adapterFor(payItem.Asset.Kind).pullIn(payItem, taker, pay); err != nil {
		return fmt.Errorf("take order %s: payment pull: %w", id.Hex(), err)
	}

	if err := e.adapterFor(order.MakerItem.Asset.Kind).pushOut(order.MakerItem, makerAmount, taker); err != nil {
		return fmt.Errorf("take order %s: pledge payout: %w", id.Hex(), err)
	}
	if err := e.adapterFor(payItem.Asset.Kind).pushOut(payItem, takerAmount, order.MakerItem.Owner); err != nil {
		return fmt.Errorf("take order %s: payment payout: %w", id.Hex(), err)
	}

	closed, err := e.orders.Decrement(id, makerAmount, takerAmount)
	if err != nil {
		return fmt.Errorf("take order %s: %w", id.Hex(), err)
	}

	e.log.Infow("order_filled",
		"id", id.Hex(),
		"taker", taker.Hex(),
		"maker_amount", makerAmount.Dec(),
		"taker_amount", takerAmount.Dec(),
		"closed", closed)
	e.emit(Event{
		Type:        EventOrderFilled,
		Order:       e.orders.Get(id),
		MakerAmount: makerAmount,
		TakerAmount: takerAmount,
		Taker:       taker,
		Closed:      closed,
	})
	return nil
}

// CancelOrder returns the remaining pledge to the maker and removes the
// record. Only the maker may cancel; the taker side was never escrowed so
// a cancel moves nothing else.
func (e *Engine) CancelOrder(id uint256.Int, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.orders.Get(id)
	if !order.Open() {
		return fmt.Errorf("cancel order %s: %w", id.Hex(), ErrUnknownOrder)
	}
	if order.MakerItem.Owner != caller {
		return fmt.Errorf("cancel order %s by %s: %w", id.Hex(), caller.Hex(), ErrNotMaker)
	}

	if err := e.adapterFor(order.MakerItem.Asset.Kind).pushOut(order.MakerItem, order.MakerItem.Value, caller); err != nil {
		return fmt.Errorf("cancel order %s: pledge return: %w", id.Hex(), err)
	}
	if err := e.orders.Clear(id); err != nil {
		return fmt.Errorf("cancel order %s: %w", id.Hex(), err)
	}

	e.log.Infow("order_cancelled", "id", id.Hex(), "maker", caller.Hex())
	e.emit(Event{Type: EventOrderCancelled, Order: order})
	return nil
}

// GetOrder returns the order record, or the zero-valued record if id does
// not denote an open order
func (e *Engine) GetOrder(id uint256.Int) Order {
	return e.orders.Get(id)
}

// OpenOrders returns all open orders sorted by id
func (e *Engine) OpenOrders() []Order {
	return e.orders.Open()
}

// computeFill derives the amounts a take request settles.
//
// When either side is non-fungible the fill is all-or-nothing: the request
// must name the full remaining taker value exactly, and both sides settle
// in full. Otherwise the requested amount is clamped to what the maker
// still wants and the maker side scales proportionally via the canonical
// fixed-point computation. Division by zero cannot arise for open orders.
func computeFill(order Order, requested *uint256.Int) (makerAmount, takerAmount *uint256.Int) {
	zero := uint256.NewInt(0)

	if order.MakerItem.Asset.Kind == asset.NonFungible || order.TakerItem.Asset.Kind == asset.NonFungible {
		if !requested.Eq(order.TakerItem.Value) {
			return zero, zero.Clone()
		}
		return order.MakerItem.Value.Clone(), order.TakerItem.Value.Clone()
	}

	takerAmount = requested.Clone()
	if takerAmount.Gt(order.TakerItem.Value) {
		takerAmount.Set(order.TakerItem.Value)
	}

	// ((makerValue * SCALE) / takerValue * takerAmount) / SCALE in
	// wrapping 256-bit arithmetic - scale up, divide, multiply, divide.
	m := new(uint256.Int).Mul(order.MakerItem.Value, fillScale)
	m.Div(m, order.TakerItem.Value)
	m.Mul(m, takerAmount)
	m.Div(m, fillScale)
	return m, takerAmount
}
