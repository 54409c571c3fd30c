package replicache

import (
	"errors"
	"sync"

	multierror "github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"
)

type (
	ReadTransaction[T any] interface {
		ClientID() string
		Get(key string) (*T, error)
		Has(key string) (bool, error)
		IsEmpty() (bool, error)
		Scan(opts ScanOptions) (*ScanResult[T], error)
	}

	WriteTransaction[T any] interface {
		ReadTransaction[T]
		Put(key string, value T) error
		Del(key string) (bool, error)
	}

	// Value is a cached entry. A nil Value is a pending delete when Dirty is
	// set and a memoized miss otherwise.
	Value[T any] struct {
		Value *T
		Dirty bool
	}

	TransactionEnvironment string
	TransactionReason      string
)

const (
	EnvironmentServer   TransactionEnvironment = "server"
	ReasonAuthoritative TransactionReason      = "authoritative"
)

// Transaction buffers writes in front of a Store. Reads see the transaction's
// own writes, Flush persists them.
type Transaction[T any] struct {
	mu         sync.Mutex
	cache      *btree.Tree[string, Value[T]]
	store      Store[T]
	clientID   string
	mutationID uint64
}

var _ WriteTransaction[any] = &Transaction[any]{}

func NewTransaction[T any](store Store[T], clientID string, mutationID uint64) *Transaction[T] {
	return &Transaction[T]{
		store:      store,
		clientID:   clientID,
		mutationID: mutationID,
		cache:      newCache[T](),
	}
}

func newCache[T any]() *btree.Tree[string, Value[T]] {
	return btree.New[string, Value[T]](generic.Less[string])
}

func (t *Transaction[T]) ClientID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientID
}

func (t *Transaction[T]) MutationID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mutationID
}

func (t *Transaction[T]) Environment() TransactionEnvironment {
	return EnvironmentServer
}

func (t *Transaction[T]) Reason() TransactionReason {
	return ReasonAuthoritative
}

// Reset discards every cached entry, flushed or not, and rebinds the
// transaction to a new client and mutation.
func (t *Transaction[T]) Reset(clientID string, mutationID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clientID = clientID
	t.mutationID = mutationID
	t.cache = newCache[T]()
}

func (t *Transaction[T]) Put(key string, value T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Put(key, Value[T]{Value: &value, Dirty: true})
	return nil
}

func (t *Transaction[T]) Del(key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	val, err := t.get(key)
	if err != nil {
		return false, err
	}
	t.cache.Put(key, Value[T]{Dirty: true})
	return val != nil, nil
}

// Get returns a copy of the value visible for key, or nil if there is none.
// Changing the copy has no effect until it is passed to Put.
func (t *Transaction[T]) Get(key string) (*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	val, err := t.get(key)
	if err != nil || val == nil {
		return nil, err
	}
	v := *val
	return &v, nil
}

func (t *Transaction[T]) get(key string) (*T, error) {
	if val, ok := t.cache.Get(key); ok {
		return val.Value, nil
	}

	var value *T
	entry, err := t.store.GetEntry(key)
	switch {
	case err == nil:
		value = &entry
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	t.cache.Put(key, Value[T]{Value: value, Dirty: false})
	return value, nil
}

func (t *Transaction[T]) Has(key string) (bool, error) {
	val, err := t.Get(key)
	if err != nil {
		return false, err
	}
	return val != nil, nil
}

func (t *Transaction[T]) IsEmpty() (bool, error) {
	res, err := t.Scan(ScanOptions{})
	if err != nil {
		return false, err
	}
	defer res.Close()

	if res.Next() {
		return false, nil
	}
	return true, res.Err()
}

// Flush writes every dirty entry to the store concurrently and waits for all
// of them. Writes that succeed stay applied even when others fail, and their
// entries are marked clean; failed entries stay dirty for the next Flush.
func (t *Transaction[T]) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	type pending struct {
		key   string
		value *T
	}

	var dirty []pending
	t.cache.Each(func(key string, val Value[T]) {
		if val.Dirty {
			dirty = append(dirty, pending{key: key, value: val.Value})
		}
	})
	if len(dirty) == 0 {
		return nil
	}

	store := t.store
	done := make([]bool, len(dirty))
	puts := 0

	var g multierror.Group
	for i, p := range dirty {
		if p.value == nil {
			g.Go(func() error {
				if err := store.DelEntry(p.key); err != nil {
					return err
				}
				done[i] = true
				return nil
			})
			continue
		}

		puts++
		value := *p.value
		g.Go(func() error {
			if err := store.PutEntry(p.key, value); err != nil {
				return err
			}
			done[i] = true
			return nil
		})
	}
	merr := g.Wait()

	for i, p := range dirty {
		if done[i] {
			t.cache.Put(p.key, Value[T]{Value: p.value, Dirty: false})
		}
	}

	fields := log.Fields{
		"client":   t.clientID,
		"mutation": t.mutationID,
		"puts":     puts,
		"dels":     len(dirty) - puts,
	}
	if err := merr.ErrorOrNil(); err != nil {
		log.WithFields(fields).WithError(err).Warn("transaction flush failed")
		return err
	}
	log.WithFields(fields).Debug("transaction flushed")
	return nil
}
