// Package bbolt implements replicache.Store on a bbolt database. All entries
// live in a single bucket and values are stored JSON encoded.
package bbolt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airheartdev/replicache/v2"
	"go.etcd.io/bbolt"
)

var (
	entriesBucket = []byte{'e', 'n', 't', 'r', 'i', 'e', 's'}

	errMissingBucket = errors.New("bbolt: missing entries bucket")
)

type Store[T any] struct {
	db *bbolt.DB
}

var _ replicache.Store[any] = &Store[any]{}

func Open[T any](dataDir string) (*Store[T], error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(filepath.Join(dataDir, "replicache.bbolt"), 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("bbolt: open %s: %w", dataDir, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store[T]{db: db}, nil
}

func bucket(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bkt := tx.Bucket(entriesBucket)
	if bkt == nil {
		return nil, errMissingBucket
	}
	return bkt, nil
}

func (s *Store[T]) PutEntry(key string, value T) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bbolt: encoding %q: %w", key, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(key), b)
	})
}

func (s *Store[T]) HasEntry(key string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx)
		if err != nil {
			return err
		}
		found = bkt.Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

func (s *Store[T]) GetEntry(key string) (T, error) {
	var value T
	err := s.db.View(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx)
		if err != nil {
			return err
		}

		// Only valid for the life of the transaction.
		b := bkt.Get([]byte(key))
		if b == nil {
			return replicache.ErrNotFound
		}
		if err := json.Unmarshal(b, &value); err != nil {
			return fmt.Errorf("bbolt: decoding %q: %w", key, err)
		}
		return nil
	})
	return value, err
}

// GetEntries holds a read-only transaction open until the iterator is closed.
func (s *Store[T]) GetEntries(fromKey string) (replicache.Iterator[T], error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("bbolt: begin failed: %w", err)
	}
	bkt, err := bucket(tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	return &iterator[T]{
		tx:  tx,
		cr:  bkt.Cursor(),
		key: []byte(fromKey),
	}, nil
}

func (s *Store[T]) DelEntry(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt, err := bucket(tx)
		if err != nil {
			return err
		}
		return bkt.Delete([]byte(key))
	})
}

func (s *Store[T]) Close() error {
	return s.db.Close()
}

type iterator[T any] struct {
	tx    *bbolt.Tx
	cr    *bbolt.Cursor
	key   []byte
	next  bool
	entry replicache.Entry[T]
	err   error
}

func (it *iterator[T]) Next() bool {
	if it.err != nil || it.tx == nil {
		return false
	}

	var key, val []byte
	if it.next {
		key, val = it.cr.Next()
	} else {
		key, val = it.cr.Seek(it.key)
		it.next = true
		it.key = nil
	}

	if key == nil {
		return false
	}

	var value T
	if err := json.Unmarshal(val, &value); err != nil {
		it.err = fmt.Errorf("bbolt: decoding %q: %w", key, err)
		return false
	}
	it.entry = replicache.Entry[T]{Key: string(key), Value: value}
	return true
}

func (it *iterator[T]) Entry() replicache.Entry[T] {
	return it.entry
}

func (it *iterator[T]) Err() error {
	return it.err
}

func (it *iterator[T]) Close() error {
	if it.tx == nil {
		return nil
	}
	err := it.tx.Rollback()
	it.tx = nil
	return err
}
