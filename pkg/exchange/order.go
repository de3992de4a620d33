package exchange

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/escrowx/escrowx/pkg/asset"
)

// Item is one side of an order: an asset reference plus a value.
// For native/fungible assets the value is a quantity; for non-fungible
// assets it is the unit id. Owner is the party entitled to receive this
// item's counter-asset (set for the maker item only - the taker is whoever
// calls TakeOrder).
type Item struct {
	Asset asset.Ref      `json:"asset"`
	Value *uint256.Int   `json:"value"`
	Owner common.Address `json:"owner"`
}

// Order is an outstanding escrow obligation. MakerItem.Value is the pledge
// still held in the vault; TakerItem.Value is the amount the maker still
// wants in return. Both are non-increasing; when either reaches zero the
// order is closed and its record removed.
type Order struct {
	ID        uint256.Int `json:"id"`
	MakerItem Item        `json:"makerItem"`
	TakerItem Item        `json:"takerItem"`
}

// zeroOrder returns the record reported for an order that does not exist
// (or that existed and has been closed - the two are indistinguishable)
func zeroOrder() Order {
	return Order{
		MakerItem: Item{Value: uint256.NewInt(0)},
		TakerItem: Item{Value: uint256.NewInt(0)},
	}
}

// Open reports whether the order is outstanding: both sides still carry value
func (o Order) Open() bool {
	return o.MakerItem.Value != nil && !o.MakerItem.Value.IsZero() &&
		o.TakerItem.Value != nil && !o.TakerItem.Value.IsZero()
}

// clone returns a deep copy so callers cannot mutate store state
func (o Order) clone() Order {
	cp := o
	cp.MakerItem.Value = o.MakerItem.Value.Clone()
	cp.TakerItem.Value = o.TakerItem.Value.Clone()
	return cp
}
