package pebble

import (
	"encoding/json"
	"fmt"

	"github.com/airheartdev/replicache/v2"
	"github.com/cockroachdb/pebble"
)

type iterator[T any] struct {
	iter    *pebble.Iterator
	store   *Store[T]
	started bool
	entry   replicache.Entry[T]
	err     error
}

func (it *iterator[T]) Next() bool {
	if it.err != nil {
		return false
	}

	var ok bool
	if !it.started {
		it.started = true
		ok = it.iter.First()
	} else {
		ok = it.iter.Next()
	}
	if !ok {
		it.err = it.iter.Error()
		return false
	}

	key := string(it.iter.Key())
	val, err := it.iter.ValueAndErr()
	if err != nil {
		it.err = fmt.Errorf("pebble: reading %q: %w", key, err)
		return false
	}

	var value T
	if err := json.Unmarshal(val, &value); err != nil {
		it.err = fmt.Errorf("pebble: decoding %q: %w", key, err)
		return false
	}
	it.entry = replicache.Entry[T]{Key: key, Value: value}
	return true
}

func (it *iterator[T]) Entry() replicache.Entry[T] {
	return it.entry
}

func (it *iterator[T]) Err() error {
	return it.err
}

func (it *iterator[T]) Close() error {
	if !it.store.release(it) {
		return nil
	}
	return it.iter.Close()
}
