// Package kvstore defines the storage primitive consumed by the storemap
// container types: a point key-value store addressed by flat byte keys.
//
// The contract is deliberately minimal. There is no iteration and no range
// query; every read, write, removal and existence check is an individually
// metered call against the backing store. Everything richer (maps, sets,
// ordered maps, vectors) is built above this boundary by the storemap
// package, which derives storage keys and caches entries so that each
// logical operation costs the minimum number of these calls.
package kvstore

import "errors"

var (
	// ErrStoreFull is returned when the backing store cannot satisfy a write
	// due to quota or capacity. It is not retryable within the same logical
	// call; callers abandon the call and pending container writes are
	// discarded unflushed.
	ErrStoreFull = errors.New("the store cannot accept further writes")
)

// Store is the point key-value contract.
//
// Read returns the stored bytes and true when key is present. Absence is not
// an error: a missing key yields (nil, false, nil). Write replaces any
// previous value. Remove of an absent key is a no-op. Has answers presence
// without transferring the value, so callers can avoid paying a value read
// (and decode) for a boolean query.
//
// Implementations are used from a single goroutine per logical call and need
// no internal locking.
type Store interface {
	Read(key []byte) ([]byte, bool, error)
	Write(key []byte, value []byte) error
	Remove(key []byte) error
	Has(key []byte) (bool, error)
}
