package replicache

import "errors"

// ErrNotFound is returned by a Store when a key has no persisted value.
var ErrNotFound = errors.New("replicache: entry not found")

type (
	// Store is the persisted, ordered key-value state a Transaction is layered on.
	//
	// GetEntries must return entries with key >= fromKey in ascending byte order
	// of the key. Transactions rely on this ordering and do not verify it.
	Store[T any] interface {
		PutEntry(key string, value T) error
		HasEntry(key string) (bool, error)
		GetEntry(key string) (T, error)
		GetEntries(fromKey string) (Iterator[T], error)
		DelEntry(key string) error
	}

	// Iterator is a single-pass cursor over key ordered entries. Iterators must
	// be closed after use.
	Iterator[T any] interface {
		Next() bool
		Entry() Entry[T]
		Err() error
		Close() error
	}

	Entry[T any] struct {
		Key   string
		Value T
	}

	// Backend is a versioned, multi-space store used by the push and pull
	// endpoints.
	Backend[T any] interface {
		// Space returns a view of spaceID whose writes are stamped with version.
		Space(spaceID string, version uint64) Store[T]
		GetCookie(spaceID string) (uint64, bool)
		SetCookie(spaceID string, version uint64)
		GetLastMutationID(clientID string) (uint64, bool)
		SetLastMutationID(clientID string, lastMutationID uint64)
		GetChangedEntries(spaceID string, prevVersion uint64) []Change[T]
	}

	Change[T any] struct {
		Key     string
		Value   T
		Deleted bool
		Version uint64
	}
)
