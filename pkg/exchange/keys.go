package exchange

import (
	"github.com/holiman/uint256"
)

// Pebble key schema for open orders.
// Keys use the full 32-byte big-endian id so iteration order matches
// numeric id order.

const prefixOrder = "ord:"

// orderKey returns the key for an order
// Format: "ord:" + 32-byte big-endian id
func orderKey(id uint256.Int) []byte {
	b32 := id.Bytes32()
	return append([]byte(prefixOrder), b32[:]...)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
