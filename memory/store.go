package memory

import "github.com/airheartdev/replicache/v2"

// spaceStore is the replicache.Store view of a single space. Writes are
// stamped with the version the view was opened at.
type spaceStore[T any] struct {
	backend *Backend[T]
	spaceID string
	version uint64
}

var _ replicache.Store[any] = &spaceStore[any]{}

func (s *spaceStore[T]) PutEntry(key string, value T) error {
	s.backend.PutEntry(s.spaceID, key, value, s.version)
	return nil
}

func (s *spaceStore[T]) HasEntry(key string) (bool, error) {
	_, err := s.backend.GetEntry(s.spaceID, key)
	if err == replicache.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *spaceStore[T]) GetEntry(key string) (T, error) {
	return s.backend.GetEntry(s.spaceID, key)
}

func (s *spaceStore[T]) GetEntries(fromKey string) (replicache.Iterator[T], error) {
	return &iterator[T]{entries: s.backend.GetEntries(s.spaceID, fromKey), idx: -1}, nil
}

func (s *spaceStore[T]) DelEntry(key string) error {
	s.backend.DelEntry(s.spaceID, key, s.version)
	return nil
}

// iterator walks a snapshot of a space taken when the scan started.
type iterator[T any] struct {
	entries []*Entry[T]
	idx     int
}

func (it *iterator[T]) Next() bool {
	if it.idx < len(it.entries) {
		it.idx++
	}
	return it.idx < len(it.entries)
}

func (it *iterator[T]) Entry() replicache.Entry[T] {
	e := it.entries[it.idx]
	return replicache.Entry[T]{Key: e.Key, Value: e.Value}
}

func (it *iterator[T]) Err() error {
	return nil
}

func (it *iterator[T]) Close() error {
	it.entries = nil
	it.idx = 0
	return nil
}
