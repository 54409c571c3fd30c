// Package pebble implements replicache.Store on a pebble database. Values are
// stored JSON encoded.
package pebble

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/airheartdev/replicache/v2"
	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"
)

// Store is a replicache.Store on a pebble database. Iterators still open when
// the store is closed are closed with it and report ErrClosed.
type Store[T any] struct {
	db     *pebble.DB
	closed bool
	mu     sync.RWMutex

	itersMu sync.Mutex
	iters   map[*iterator[T]]struct{}
}

var _ replicache.Store[any] = &Store[any]{}

func Open[T any](dataDir string, logger *log.Logger) (*Store[T], error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	opts := &pebble.Options{
		Cache:        pebble.NewCache(16 * 1024 * 1024),
		MemTableSize: 8 * 1024 * 1024,
	}
	if logger != nil {
		opts.Logger = logger
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(dataDir, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", dataDir, err)
	}

	return &Store[T]{db: db, iters: map[*iterator[T]]struct{}{}}, nil
}

func (p *Store[T]) PutEntry(key string, value T) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("pebble: encoding %q: %w", key, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	return p.db.Set([]byte(key), b, pebble.Sync)
}

func (p *Store[T]) HasEntry(key string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false, ErrClosed
	}

	_, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

func (p *Store[T]) GetEntry(key string) (T, error) {
	var value T

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return value, ErrClosed
	}

	b, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return value, replicache.ErrNotFound
	}
	if err != nil {
		return value, err
	}
	defer closer.Close()

	if err := json.Unmarshal(b, &value); err != nil {
		return value, fmt.Errorf("pebble: decoding %q: %w", key, err)
	}
	return value, nil
}

func (p *Store[T]) GetEntries(fromKey string) (replicache.Iterator[T], error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(fromKey),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble: creating iterator: %w", err)
	}
	it := &iterator[T]{iter: iter, store: p}
	p.itersMu.Lock()
	p.iters[it] = struct{}{}
	p.itersMu.Unlock()
	return it, nil
}

// release forgets it and reports whether it was still open.
func (p *Store[T]) release(it *iterator[T]) bool {
	p.itersMu.Lock()
	defer p.itersMu.Unlock()

	if _, ok := p.iters[it]; !ok {
		return false
	}
	delete(p.iters, it)
	return true
}

func (p *Store[T]) DelEntry(key string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	return p.db.Delete([]byte(key), pebble.Sync)
}

func (p *Store[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.itersMu.Lock()
	iters := p.iters
	p.iters = map[*iterator[T]]struct{}{}
	p.itersMu.Unlock()

	for it := range iters {
		it.err = ErrClosed
		if err := it.iter.Close(); err != nil {
			log.WithError(err).Warn("pebble: closing iterator")
		}
	}
	return p.db.Close()
}
