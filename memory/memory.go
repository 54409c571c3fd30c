package memory

import (
	"sync"
	"time"

	"github.com/airheartdev/replicache/v2"
	gbtree "github.com/google/btree"
	"github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"
)

type (
	// Backend keeps every space in memory. Deleted entries are retained with
	// the version that deleted them so pulls can report the deletion.
	Backend[T any] struct {
		mu      sync.RWMutex
		entries *gbtree.BTree
		spaces  *btree.Tree[string, *Space]
		clients *btree.Tree[string, *Client]
	}

	Entry[T any] struct {
		SpaceID        string
		Key            string
		Value          T
		Deleted        bool
		Version        uint64
		LastModifiedAt time.Time
	}

	Client struct {
		ID             string
		LastMutationID uint64
		LastModifiedAt time.Time
	}

	Space struct {
		ID             string
		Version        uint64
		LastModifiedAt time.Time
	}
)

var _ replicache.Backend[any] = &Backend[any]{}

func New[T any]() *Backend[T] {
	return &Backend[T]{
		entries: gbtree.New(16),
		spaces:  btree.New[string, *Space](generic.Less[string]),
		clients: btree.New[string, *Client](generic.Less[string]),
	}
}

func (t *Backend[T]) Space(spaceID string, version uint64) replicache.Store[T] {
	return &spaceStore[T]{backend: t, spaceID: spaceID, version: version}
}

func (t *Backend[T]) PutEntry(spaceID string, key string, value T, version uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry := t.get(spaceID, key); entry != nil {
		entry.LastModifiedAt = time.Now()
		entry.Version = version
		entry.Value = value
		entry.Deleted = false
		return
	}

	t.entries.ReplaceOrInsert(&Entry[T]{
		SpaceID:        spaceID,
		Key:            key,
		Value:          value,
		Deleted:        false,
		Version:        version,
		LastModifiedAt: time.Now(),
	})
}

func (t *Backend[T]) GetEntry(spaceID string, key string) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry := t.get(spaceID, key)
	if entry == nil || entry.Deleted {
		var zero T
		return zero, replicache.ErrNotFound
	}

	return entry.Value, nil
}

func (t *Backend[T]) DelEntry(spaceID string, key string, version uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.get(spaceID, key)
	if entry == nil || entry.Deleted {
		return
	}

	var zero T
	entry.Value = zero
	entry.Deleted = true
	entry.Version = version
	entry.LastModifiedAt = time.Now()
}

func (t *Backend[T]) get(spaceID string, key string) *Entry[T] {
	item := t.entries.Get(&Entry[T]{SpaceID: spaceID, Key: key})
	if item == nil {
		return nil
	}
	return item.(*Entry[T])
}

// ascend calls fn for the entries of spaceID with key >= fromKey, in key
// order, until fn returns false.
func (t *Backend[T]) ascend(spaceID string, fromKey string, fn func(e *Entry[T]) bool) {
	t.entries.AscendGreaterOrEqual(&Entry[T]{SpaceID: spaceID, Key: fromKey},
		func(item gbtree.Item) bool {
			e := item.(*Entry[T])
			if e.SpaceID != spaceID {
				return false
			}
			return fn(e)
		})
}

// GetEntries returns the live entries of spaceID with key >= fromKey in key
// order.
func (t *Backend[T]) GetEntries(spaceID string, fromKey string) []*Entry[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]*Entry[T], 0)
	t.ascend(spaceID, fromKey, func(val *Entry[T]) bool {
		if !val.Deleted {
			e := *val
			entries = append(entries, &e)
		}
		return true
	})

	return entries
}

func (t *Backend[T]) GetCookie(spaceID string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	space, ok := t.spaces.Get(spaceID)
	if !ok {
		return 0, false
	}
	return space.Version, true
}

func (t *Backend[T]) SetCookie(spaceID string, version uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if space, ok := t.spaces.Get(spaceID); ok {
		space.LastModifiedAt = time.Now()
		space.Version = version
		return
	}

	t.spaces.Put(spaceID, &Space{
		ID:             spaceID,
		Version:        version,
		LastModifiedAt: time.Now(),
	})
}

func (t *Backend[T]) GetLastMutationID(clientID string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	client, ok := t.clients.Get(clientID)
	if !ok {
		return 0, false
	}
	return client.LastMutationID, true
}

func (t *Backend[T]) SetLastMutationID(clientID string, lastMutationID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	client, ok := t.clients.Get(clientID)
	if !ok {
		t.clients.Put(clientID, &Client{
			ID:             clientID,
			LastMutationID: lastMutationID,
			LastModifiedAt: time.Now(),
		})
		return
	}
	client.LastMutationID = lastMutationID
	client.LastModifiedAt = time.Now()
}

// GetChangedEntries returns every entry of spaceID, deleted or not, written
// after prevVersion.
func (t *Backend[T]) GetChangedEntries(spaceID string, prevVersion uint64) []replicache.Change[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	changes := make([]replicache.Change[T], 0)
	t.ascend(spaceID, "", func(val *Entry[T]) bool {
		if val.Version > prevVersion {
			changes = append(changes, replicache.Change[T]{
				Key:     val.Key,
				Value:   val.Value,
				Deleted: val.Deleted,
				Version: val.Version,
			})
		}
		return true
	})
	return changes
}

// Size returns the number of entries held, including deleted ones.
func (t *Backend[T]) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Len()
}

// Less orders entries by space, then by key within a space.
func (e *Entry[T]) Less(than gbtree.Item) bool {
	o := than.(*Entry[T])
	if e.SpaceID != o.SpaceID {
		return e.SpaceID < o.SpaceID
	}
	return e.Key < o.Key
}
