// Package index defines the interface the benchmark drives, so the
// homegrown B-tree file and the Pebble baseline can be measured through
// the same code path.
package index

// Store is a uint64-to-uint64 key/value store.
type Store interface {
	// Insert stores the pair. Implementations decide how to treat a key
	// that is already present.
	Insert(key, value uint64) error
	// Get returns the value for key and whether the key was present.
	Get(key uint64) (uint64, bool, error)
	Close() error
}
