// Package storage defines the pluggable durable log the Queue and DLQ build
// on, and its three implementations: memory, embedded SQL, and key-value.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound reports an unknown id or key. No Adapter method returns it:
// Delete of an unknown id is a no-op.
var ErrNotFound = errors.New("storage: not found")

// Record is one entry in the append-only log: an opaque payload plus the
// monotonically increasing id the adapter assigned it.
type Record struct {
	ID      uint64
	Payload []byte
}

// Adapter is the append-only log contract every durable component (Queue
// rehydration, DLQ) is built on. Implementations must make Append safe under
// concurrent callers and make ReadAll observe a consistent snapshot with
// respect to concurrent Appends.
type Adapter interface {
	// Append writes payload under key and returns its assigned id. key
	// namespaces independent logs sharing one adapter (e.g. "queue" vs
	// "dlq") so a single embedded database can back both.
	Append(ctx context.Context, key string, payload []byte) (id uint64, err error)

	// ReadAll returns every live record under key in append order.
	ReadAll(ctx context.Context, key string) ([]Record, error)

	// Delete removes the record with the given id from key's log. Deleting
	// an unknown id is a no-op.
	Delete(ctx context.Context, key string, id uint64) error

	// Close releases any underlying resources (file handles, connections).
	Close() error
}
