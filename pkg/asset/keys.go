package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema for ledger state.
// One record per asset contract so a mutation rewrites only that asset.

const (
	keyBank  = "bank"   // native balance map (single record)
	keyNonce = "nonce"  // deployment nonce (single record)
	prefixFT = "ft:"    // fungible token state
	prefixNF = "nft:"   // non-fungible collection state
)

// tokenKey returns the key for a fungible token
// Format: "ft:{address}"
func tokenKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixFT, addr.Hex()))
}

// collectionKey returns the key for a non-fungible collection
// Format: "nft:{address}"
func collectionKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNF, addr.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
