package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind discriminates how an asset's value is interpreted:
// Native/Fungible values are quantities, NonFungible values are unit ids.
type Kind int8

const (
	Native Kind = iota
	Fungible
	NonFungible
)

func (k Kind) String() string {
	switch k {
	case Native:
		return "native"
	case Fungible:
		return "fungible"
	case NonFungible:
		return "nonfungible"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the three known kinds
func (k Kind) Valid() bool {
	return k >= Native && k <= NonFungible
}

// NativeAddress is the sentinel contract address denoting the native currency
var NativeAddress = common.Address{}

// Ref identifies an asset: a kind plus the contract address that implements it.
// The all-zero address is reserved for the native currency.
type Ref struct {
	Kind    Kind           `json:"kind"`
	Address common.Address `json:"address"`
}

// NativeRef returns the reference for the native currency
func NativeRef() Ref {
	return Ref{Kind: Native, Address: NativeAddress}
}

// Validate checks kind/address consistency: native must use the sentinel
// address, token kinds must not.
func (r Ref) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid asset kind: %d", int8(r.Kind))
	}
	if r.Kind == Native && r.Address != NativeAddress {
		return fmt.Errorf("native asset must use the zero address, got %s", r.Address.Hex())
	}
	if r.Kind != Native && r.Address == NativeAddress {
		return fmt.Errorf("%s asset requires a contract address", r.Kind)
	}
	return nil
}

// IsNative reports whether the reference denotes the native currency
func (r Ref) IsNative() bool {
	return r.Kind == Native
}
