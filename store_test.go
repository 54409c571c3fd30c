package replicache

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var errStore = errors.New("store unavailable")

// mapStore is a Store over a plain map. Keys listed in failPut, failDel and
// failGet fail with errStore; failScan fails range reads after scanAfter
// entries.
type mapStore struct {
	mu      sync.Mutex
	entries map[string]string

	failPut   map[string]bool
	failDel   map[string]bool
	failGet   map[string]bool
	failScan  bool
	scanAfter int

	gets  atomic.Int32
	puts  atomic.Int32
	dels  atomic.Int32
	scans atomic.Int32

	last *sliceIterator
}

func newMapStore(keys ...string) *mapStore {
	s := &mapStore{
		entries: map[string]string{},
		failPut: map[string]bool{},
		failDel: map[string]bool{},
		failGet: map[string]bool{},
	}
	for _, k := range keys {
		s.entries[k] = k
	}
	return s
}

func (s *mapStore) PutEntry(key string, value string) error {
	s.puts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut[key] {
		return errStore
	}
	s.entries[key] = value
	return nil
}

func (s *mapStore) HasEntry(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *mapStore) GetEntry(key string) (string, error) {
	s.gets.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet[key] {
		return "", errStore
	}
	v, ok := s.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *mapStore) GetEntries(fromKey string) (Iterator[string], error) {
	s.scans.Add(1)
	it := &sliceIterator{idx: -1, failAfter: -1}
	for _, e := range s.all() {
		if e.Key >= fromKey {
			it.entries = append(it.entries, e)
		}
	}
	if s.failScan {
		it.failAfter = s.scanAfter
	}
	s.last = it
	return it, nil
}

func (s *mapStore) DelEntry(key string) error {
	s.dels.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDel[key] {
		return errStore
	}
	delete(s.entries, key)
	return nil
}

func (s *mapStore) all() []Entry[string] {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry[string], 0, len(s.entries))
	for k, v := range s.entries {
		entries = append(entries, Entry[string]{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

func (s *mapStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

type sliceIterator struct {
	entries   []Entry[string]
	idx       int
	failAfter int
	err       error
	closed    bool
	pulled    int
}

func (it *sliceIterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if it.failAfter >= 0 && it.pulled >= it.failAfter {
		it.err = errStore
		return false
	}
	it.idx++
	if it.idx >= len(it.entries) {
		return false
	}
	it.pulled++
	return true
}

func (it *sliceIterator) Entry() Entry[string] {
	return it.entries[it.idx]
}

func (it *sliceIterator) Err() error {
	return it.err
}

func (it *sliceIterator) Close() error {
	it.closed = true
	return nil
}
