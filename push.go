package replicache

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
)

type (
	PushRequest struct {
		ClientID      string     `json:"clientID"`
		Mutations     []Mutation `json:"mutations"`
		ProfileID     string     `json:"profileID"`
		PushVersion   int64      `json:"pushVersion"`
		SchemaVersion string     `json:"schemaVersion,omitempty"`
	}

	Mutation struct {
		ID   uint64          `json:"id"`
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	}
)

// Push applies the client's pending mutations to spaceID. Mutations that were
// already processed are skipped and processing stops at the first mutation
// from the future. Each mutation runs in its own transaction and is flushed
// before the next one starts. If a flush fails or ctx is cancelled, the
// mutations flushed so far are still recorded and the error is returned.
func (r *Replicache[T]) Push(ctx context.Context, spaceID string, push *PushRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prevVersion, _ := r.backend.GetCookie(spaceID)
	nextVersion := prevVersion + 1
	lastMutationID, _ := r.backend.GetLastMutationID(push.ClientID)

	logger := log.WithFields(log.Fields{
		"space":   spaceID,
		"client":  push.ClientID,
		"version": nextVersion,
	})

	tx := NewTransaction(r.backend.Space(spaceID, nextVersion), push.ClientID, lastMutationID)
	processedMutationID := lastMutationID

	var err error
	for _, mut := range push.Mutations {
		if err = ctx.Err(); err != nil {
			break
		}

		expectedMutationID := lastMutationID + 1
		if mut.ID < expectedMutationID {
			logger.Debugf("mutation %d has already been processed - skipping", mut.ID)
			continue
		}
		if mut.ID > expectedMutationID {
			logger.Warnf("mutation %d is from the future - aborting", mut.ID)
			break
		}

		tx.Reset(push.ClientID, mut.ID)
		if merr := r.mutate(tx, mut); merr != nil {
			logger.WithError(merr).Errorf("mutation %d (%s) failed - skipping", mut.ID, mut.Name)
		} else if ferr := tx.Flush(); ferr != nil {
			err = fmt.Errorf("replicache: flushing mutation %d: %w", mut.ID, ferr)
			break
		}

		lastMutationID = expectedMutationID
	}

	// Mutations flushed before a failure are in the store and must not be
	// replayed by a retried push.
	if err != nil && lastMutationID == processedMutationID {
		return err
	}

	r.backend.SetLastMutationID(push.ClientID, lastMutationID)
	r.backend.SetCookie(spaceID, nextVersion)
	r.options.pokeFn(spaceID)

	return err
}

func (r *Replicache[T]) mutate(tx *Transaction[T], mut Mutation) error {
	mutator, ok := r.mutators[mut.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMutator, mut.Name)
	}

	log.WithField("client", tx.ClientID()).Debugf("processing mutation %d (%s): %s",
		mut.ID, mut.Name, string(mut.Args))
	return mutator(tx, mut.Args)
}
