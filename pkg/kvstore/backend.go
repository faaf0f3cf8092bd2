package kvstore

// Keyspace is the raw byte-level view of one named store inside a Backend.
//
// Every method must be safe for concurrent use. A Keyspace provides no
// per-key locking of its own: Store layers segment locks on top, and all
// mutations issued by this module go through a Store session.
type Keyspace interface {
	// Get returns the value stored under key. The returned slice is owned
	// by the caller.
	Get(key []byte) ([]byte, bool, error)
	// Set creates or overwrites key.
	Set(key, val []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error
	// Len counts the entries in the keyspace.
	Len() (int, error)
	// Range calls fn for every entry until fn returns false.
	Range(fn func(key, val []byte) bool) error
}

// StoreInfo describes a keyspace registered in a Backend's catalog.
type StoreInfo struct {
	Name   string `json:"name"`
	Sizing Sizing `json:"sizing"`

	// Rank is the creation order of the store within this backend
	// instance. It is process-local and never persisted.
	Rank uint64 `json:"-"`
}

// Sequencer hands out monotonically increasing numbers. Values are never
// reused, including across restarts when the backend is persistent.
type Sequencer interface {
	Next() (uint64, error)
}

// Backend owns the physical storage behind a set of named stores.
//
// Implementations:
//   - MemoryBackend: process-local maps, data is lost on Close
//   - BadgerBackend: persistent BadgerDB, catalog and sequences survive restarts
type Backend interface {
	// Create opens the keyspace called name, creating and cataloguing it
	// if it does not exist yet. When the store already exists its catalogued
	// sizing wins over the sizing argument.
	Create(name string, sizing Sizing) (Keyspace, StoreInfo, error)

	// Catalog lists every store known to the backend, including stores
	// created by an earlier process on a persistent backend.
	Catalog() ([]StoreInfo, error)

	// Drop deletes a store's data and catalog entry. Handles obtained
	// before the drop must not be used afterwards.
	Drop(name string) error

	// Sequence returns the named monotonic counter.
	Sequence(name string) (Sequencer, error)

	Close() error
}
