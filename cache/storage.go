package cache

import "errors"

// ErrClosed is returned by storage operations after Close.
var ErrClosed = errors.New("cache storage closed")

// Storage holds named cache generations, e.g. `votatik-v1` or `votatik-api-v1`.
// Each generation maps keys to []byte values, which represent stored HTTP responses.
// Generations of an older version stay around until they are explicitly deleted.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open returns the generation with the given name, creating it if needed.
	Open(name string) (Cache, error)
	// Has checks if a generation with the given name exists.
	Has(name string) (bool, error)
	// Names returns the names of all existing generations.
	Names() ([]string, error)
	// Delete removes the generation and all of its entries.
	// It returns false if there was no such generation.
	Delete(name string) (bool, error)
	// Close releases the underlying resources.
	Close() error
}

// Cache is a single cache generation.
type Cache interface {
	// Name returns the generation name.
	Name() string
	// Get returns the stored bytes for the given key, if they exist.
	// It also returns a boolean indicating whether retrieval was successful.
	Get(key string) ([]byte, bool, error)
	// Put stores the given bytes under the given key, replacing any previous value.
	// If the generation was deleted in the meantime, it is created again.
	Put(key string, bytes []byte) error
	// Keys returns all keys in the generation.
	Keys() ([]string, error)
	// Purge removes the entry for the given key.
	Purge(key string) error
}
