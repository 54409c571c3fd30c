// Package badger implements replicache.Store on a badger database. Values are
// stored JSON encoded.
package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/airheartdev/replicache/v2"
	"github.com/dgraph-io/badger"
	log "github.com/sirupsen/logrus"
)

type Store[T any] struct {
	db *badger.DB
}

var _ replicache.Store[any] = &Store[any]{}

func Open[T any](dataDir string, logger *log.Logger) (*Store[T], error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dataDir).WithLogger(nil)
	if logger != nil {
		opts = opts.WithLogger(logger)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", dataDir, err)
	}
	return &Store[T]{db: db}, nil
}

func (s *Store[T]) PutEntry(key string, value T) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("badger: encoding %q: %w", key, err)
	}

	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(key), b)
	})
}

func (s *Store[T]) HasEntry(key string) (bool, error) {
	err := s.db.View(func(tx *badger.Txn) error {
		_, err := tx.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store[T]) GetEntry(key string) (T, error) {
	var value T
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return replicache.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &value); err != nil {
				return fmt.Errorf("badger: decoding %q: %w", key, err)
			}
			return nil
		})
	})
	return value, err
}

// GetEntries holds a read-only transaction open until the iterator is closed.
func (s *Store[T]) GetEntries(fromKey string) (replicache.Iterator[T], error) {
	tx := s.db.NewTransaction(false)
	it := tx.NewIterator(badger.DefaultIteratorOptions)

	return &iterator[T]{
		tx:  tx,
		it:  it,
		key: []byte(fromKey),
	}, nil
}

func (s *Store[T]) DelEntry(key string) error {
	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Delete([]byte(key))
	})
}

func (s *Store[T]) Close() error {
	return s.db.Close()
}

type iterator[T any] struct {
	tx     *badger.Txn
	it     *badger.Iterator
	key    []byte
	seeked bool
	closed bool
	entry  replicache.Entry[T]
	err    error
}

func (bit *iterator[T]) Next() bool {
	if bit.err != nil || bit.closed {
		return false
	}

	if bit.seeked {
		bit.it.Next()
	} else {
		bit.it.Seek(bit.key)
		bit.seeked = true
	}
	if !bit.it.Valid() {
		return false
	}

	item := bit.it.Item()
	key := string(item.KeyCopy(nil))

	var value T
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &value)
	})
	if err != nil {
		bit.err = fmt.Errorf("badger: decoding %q: %w", key, err)
		return false
	}

	bit.entry = replicache.Entry[T]{Key: key, Value: value}
	return true
}

func (bit *iterator[T]) Entry() replicache.Entry[T] {
	return bit.entry
}

func (bit *iterator[T]) Err() error {
	return bit.err
}

func (bit *iterator[T]) Close() error {
	if bit.closed {
		return nil
	}
	bit.closed = true
	bit.it.Close()
	bit.tx.Discard()
	return nil
}
