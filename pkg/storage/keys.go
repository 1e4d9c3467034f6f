package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema for Pebble storage:
//
//   rem:<orderId>              → raw fill counter (big-endian bytes)
//   fill:<orderId>:<ts>:<seq>  → FillRecord (JSON)
//   auth:<digest>              → spent owner request marker

// Key prefixes
const (
	prefixRemaining = "rem:"
	prefixFill      = "fill:"
	prefixAuth      = "auth:"
)

// remainingKey returns the key for an order's raw counter
// Format: "rem:{orderId}"
func remainingKey(id common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixRemaining, id.Hex()))
}

// fillKey returns the key for one fill
// Format: "fill:{orderId}:{timestamp}:{seq}"
// Timestamp and seq are zero-padded (20 digits) for lexicographic sorting
func fillKey(id common.Hash, timestamp int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%020d", prefixFill, id.Hex(), timestamp, seq))
}

// fillPrefix returns the prefix for all fills of an order
// Format: "fill:{orderId}:"
func fillPrefix(id common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixFill, id.Hex()))
}

// authKey returns the key marking an owner request digest as spent
// Format: "auth:{digest}"
func authKey(digest common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixAuth, digest.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
