package interfaces

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned when a key store has no key under a name.
var ErrKeyNotFound = errors.New("partition key not found")

// KeyStore holds named partition keys on behalf of callers. The core never
// consults it; it is injected into front ends that want to refer to
// partition keys by name instead of passing raw bytes.
type KeyStore interface {
	// Get returns the partition key stored under name or ErrKeyNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put stores key under name, replacing any previous key.
	Put(ctx context.Context, name string, key []byte) error

	// List returns all key names in lexical order.
	List(ctx context.Context) ([]string, error)
}
