package replicache

import (
	"errors"
	"strings"
)

var ErrIndexScanUnsupported = errors.New("replicache: index scans are not supported")

type (
	ScanOptions struct {
		// Prefix restricts the scan to keys starting with Prefix.
		Prefix string
		// Start is the lower bound of the scan, inclusive unless Exclusive is set.
		Start *ScanStart
		// Limit caps the number of entries returned. Zero or less means no limit.
		Limit int
		// IndexName requests a secondary index scan, which is not supported.
		IndexName string
	}

	ScanStart struct {
		Key       string
		Exclusive bool
	}
)

func (o ScanOptions) fromKey() string {
	if o.Start != nil && o.Start.Key > o.Prefix {
		return o.Start.Key
	}
	return o.Prefix
}

// Scan returns the entries visible to the transaction in ascending key order:
// the store's entries overlaid with the transaction's pending writes, minus
// pending deletes. The store is read lazily as the result is consumed.
func (t *Transaction[T]) Scan(opts ScanOptions) (*ScanResult[T], error) {
	if opts.IndexName != "" {
		return nil, ErrIndexScanUnsupported
	}

	fromKey := opts.fromKey()

	t.mu.Lock()
	var pending []cacheEntry[T]
	t.cache.Each(func(key string, val Value[T]) {
		if val.Dirty && key >= fromKey {
			pending = append(pending, cacheEntry[T]{key: key, value: val.Value})
		}
	})
	t.mu.Unlock()

	source, err := t.store.GetEntries(fromKey)
	if err != nil {
		return nil, err
	}

	return &ScanResult[T]{
		merged: &mergeIterator[T]{source: source, pending: pending},
		opts:   opts,
	}, nil
}

type cacheEntry[T any] struct {
	key   string
	value *T
}

// mergeIterator merges the store's entries with the pending cache entries,
// both in ascending key order. When both hold the same key the cache entry
// wins. Tombstones are passed through with a nil value. The store is only
// advanced once its current head has been consumed.
type mergeIterator[T any] struct {
	source     Iterator[T]
	peeked     bool
	sourceDone bool
	sourceErr  error

	pending []cacheEntry[T]
	pos     int

	cur cacheEntry[T]
}

func (m *mergeIterator[T]) peek() bool {
	if !m.peeked && !m.sourceDone {
		m.peeked = m.source.Next()
		if !m.peeked {
			m.sourceDone = true
			m.sourceErr = m.source.Err()
		}
	}
	return m.peeked
}

func (m *mergeIterator[T]) Next() bool {
	hasSource := m.peek()
	if m.sourceErr != nil {
		return false
	}

	hasPending := m.pos < len(m.pending)
	switch {
	case !hasSource && !hasPending:
		return false
	case !hasPending:
		m.takeSource()
	case !hasSource:
		m.takePending()
	default:
		cmp := strings.Compare(m.source.Entry().Key, m.pending[m.pos].key)
		switch {
		case cmp < 0:
			m.takeSource()
		case cmp > 0:
			m.takePending()
		default:
			m.takePending()
			m.peeked = false
		}
	}
	return true
}

func (m *mergeIterator[T]) takeSource() {
	e := m.source.Entry()
	m.cur = cacheEntry[T]{key: e.Key, value: &e.Value}
	m.peeked = false
}

func (m *mergeIterator[T]) takePending() {
	m.cur = m.pending[m.pos]
	m.pos++
}

func (m *mergeIterator[T]) Err() error {
	return m.sourceErr
}

func (m *mergeIterator[T]) Close() error {
	return m.source.Close()
}

// ScanResult is a single-pass iterator over the result of a Scan. A result
// that is not fully drained through Keys, Values or Entries must be closed.
type ScanResult[T any] struct {
	merged  *mergeIterator[T]
	opts    ScanOptions
	count   int
	done    bool
	closed  bool
	current Entry[T]
}

var _ Iterator[any] = &ScanResult[any]{}

func (r *ScanResult[T]) Next() bool {
	if r.done {
		return false
	}
	if r.opts.Limit > 0 && r.count >= r.opts.Limit {
		r.done = true
		return false
	}

	for r.merged.Next() {
		e := r.merged.cur
		if e.value == nil {
			continue
		}
		if !strings.HasPrefix(e.key, r.opts.Prefix) {
			// Keys sharing a prefix are contiguous, nothing further can match.
			break
		}
		if start := r.opts.Start; start != nil && start.Exclusive && e.key == start.Key {
			continue
		}

		r.current = Entry[T]{Key: e.key, Value: *e.value}
		r.count++
		return true
	}

	r.done = true
	return false
}

func (r *ScanResult[T]) Entry() Entry[T] {
	return r.current
}

func (r *ScanResult[T]) Err() error {
	return r.merged.Err()
}

func (r *ScanResult[T]) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.done = true
	return r.merged.Close()
}

func (r *ScanResult[T]) Entries() ([]Entry[T], error) {
	defer r.Close()

	entries := make([]Entry[T], 0)
	for r.Next() {
		entries = append(entries, r.current)
	}
	return entries, r.Err()
}

func (r *ScanResult[T]) Keys() ([]string, error) {
	entries, err := r.Entries()
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys, nil
}

func (r *ScanResult[T]) Values() ([]T, error) {
	entries, err := r.Entries()
	if err != nil {
		return nil, err
	}

	values := make([]T, len(entries))
	for i, e := range entries {
		values[i] = e.Value
	}
	return values, nil
}
