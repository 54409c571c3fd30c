package replicache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var (
	ErrMutatorExists  = errors.New("replicache: mutator already registered")
	ErrUnknownMutator = errors.New("replicache: unknown mutator")
)

type (
	Replicache[T any] struct {
		options  *Options
		backend  Backend[T]
		mutators map[string]Mutator[T]

		// Poor man's transaction: pushes and pulls are serialised.
		mu sync.Mutex
	}

	Options struct {
		authFn AuthFn
		pokeFn PokeFn
	}

	AuthFn func(ctx context.Context, token string) bool

	// PokeFn is called after a push has been applied to spaceID.
	PokeFn func(spaceID string)
)

func New[T any](backend Backend[T], options ...Option) *Replicache[T] {
	r := new(Replicache[T])
	r.backend = backend

	opts := &Options{
		authFn: func(ctx context.Context, token string) bool { return true },
		pokeFn: func(spaceID string) {},
	}
	for _, option := range options {
		option(opts)
	}
	r.options = opts

	return r
}

type Option func(o *Options)

// Mutator applies a single named mutation inside tx. Returning an error skips
// the mutation; its staged writes are discarded.
type Mutator[T any] func(tx WriteTransaction[T], args json.RawMessage) error

func WithAuth(fn func(ctx context.Context, token string) bool) Option {
	return func(o *Options) {
		o.authFn = fn
	}
}

func WithPoke(fn PokeFn) Option {
	return func(o *Options) {
		o.pokeFn = fn
	}
}

func (r *Replicache[T]) Register(name string, mutator Mutator[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mutators == nil {
		r.mutators = make(map[string]Mutator[T])
	}

	if r.mutators[name] != nil {
		return ErrMutatorExists
	}

	r.mutators[name] = mutator
	return nil
}
