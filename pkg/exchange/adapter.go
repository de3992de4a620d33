package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/escrowx/escrowx/pkg/asset"
)

// nativePayment tracks the native currency supplied with an operation.
// The full amount is debited into the vault when the operation begins;
// pulls consume from the remaining budget and whatever is left is refunded
// to the payer when the operation completes.
type nativePayment struct {
	payer     common.Address
	remaining *uint256.Int
}

// consume reserves amount out of the remaining budget
func (p *nativePayment) consume(amount *uint256.Int) error {
	if p.remaining.Lt(amount) {
		return fmt.Errorf("need %s, supplied %s remaining: %w",
			amount.Dec(), p.remaining.Dec(), ErrInsufficientNative)
	}
	p.remaining.Sub(p.remaining, amount)
	return nil
}

// adapter moves one kind of asset between vault custody and participants.
// pullIn escrows an item's value from payer; pushOut releases amount of a
// held item to a recipient. Implementations must either complete the move
// or fail with no effect.
type adapter interface {
	pullIn(item Item, payer common.Address, pay *nativePayment) error
	pushOut(item Item, amount *uint256.Int, to common.Address) error
}

// nativeAdapter handles the native currency. The payment debit already
// moved the supplied amount into the vault, so pullIn only reserves from
// the budget; pushOut pays out of vault custody.
type nativeAdapter struct {
	bank  *asset.Bank
	vault common.Address
}

func (a nativeAdapter) pullIn(item Item, payer common.Address, pay *nativePayment) error {
	return pay.consume(item.Value)
}

func (a nativeAdapter) pushOut(item Item, amount *uint256.Int, to common.Address) error {
	return a.bank.Transfer(a.vault, to, amount)
}

// fungibleAdapter handles fungible tokens via third-party transfers gated
// by an allowance the payer granted to the vault.
type fungibleAdapter struct {
	ledger *asset.Ledger
	vault  common.Address
}

func (a fungibleAdapter) pullIn(item Item, payer common.Address, pay *nativePayment) error {
	tok, ok := a.ledger.Token(item.Asset.Address)
	if !ok {
		return fmt.Errorf("token %s: %w", item.Asset.Address.Hex(), asset.ErrUnknownAsset)
	}
	return tok.TransferFrom(a.vault, payer, a.vault, item.Value)
}

func (a fungibleAdapter) pushOut(item Item, amount *uint256.Int, to common.Address) error {
	tok, ok := a.ledger.Token(item.Asset.Address)
	if !ok {
		return fmt.Errorf("token %s: %w", item.Asset.Address.Hex(), asset.ErrUnknownAsset)
	}
	return tok.Transfer(a.vault, to, amount)
}

// nonFungibleAdapter handles unique units. item.Value is the unit id;
// the amount argument to pushOut is ignored because the single identified
// unit moves in full or not at all.
type nonFungibleAdapter struct {
	ledger *asset.Ledger
	vault  common.Address
}

func (a nonFungibleAdapter) pullIn(item Item, payer common.Address, pay *nativePayment) error {
	col, ok := a.ledger.Collection(item.Asset.Address)
	if !ok {
		return fmt.Errorf("collection %s: %w", item.Asset.Address.Hex(), asset.ErrUnknownAsset)
	}
	return col.TransferFrom(a.vault, payer, a.vault, item.Value)
}

func (a nonFungibleAdapter) pushOut(item Item, amount *uint256.Int, to common.Address) error {
	col, ok := a.ledger.Collection(item.Asset.Address)
	if !ok {
		return fmt.Errorf("collection %s: %w", item.Asset.Address.Hex(), asset.ErrUnknownAsset)
	}
	return col.TransferFrom(a.vault, a.vault, to, item.Value)
}
