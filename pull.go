package replicache

import "context"

type (
	PullRequest struct {
		ClientID       string `json:"clientID"`
		Cookie         uint64 `json:"cookie"`
		LastMutationID uint64 `json:"lastMutationID"`
		ProfileID      string `json:"profileID"`
		PullVersion    int64  `json:"pullVersion"`
		SchemaVersion  string `json:"schemaVersion,omitempty"`
	}

	PullResponse[T any] struct {
		Cookie         uint64              `json:"cookie"`
		LastMutationID uint64              `json:"lastMutationID"`
		Patch          []PatchOperation[T] `json:"patch"`
	}

	PatchOperation[T any] struct {
		Op    PatchOp `json:"op"`
		Key   *string `json:"key,omitempty"`
		Value *T      `json:"value,omitempty"`
	}
)

type PatchOp string

const (
	PatchPut   PatchOp = "put"
	PatchDel   PatchOp = "del"
	PatchClear PatchOp = "clear"
)

// Pull returns the patch that brings a client at pull.Cookie up to date with
// spaceID.
func (r *Replicache[T]) Pull(ctx context.Context, spaceID string, pull *PullRequest) (PullResponse[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return PullResponse[T]{}, err
	}

	lastMutationID, _ := r.backend.GetLastMutationID(pull.ClientID)
	cookie, _ := r.backend.GetCookie(spaceID)

	resp := PullResponse[T]{
		LastMutationID: lastMutationID,
		Cookie:         cookie,
		Patch:          []PatchOperation[T]{},
	}

	if pull.Cookie == 0 {
		resp.Patch = append(resp.Patch, PatchOperation[T]{
			Op: PatchClear,
		})
	}

	for _, change := range r.backend.GetChangedEntries(spaceID, pull.Cookie) {
		key := change.Key
		if change.Deleted {
			if pull.Cookie == 0 {
				// Already covered by the clear.
				continue
			}
			resp.Patch = append(resp.Patch, PatchOperation[T]{
				Op:  PatchDel,
				Key: &key,
			})
			continue
		}

		value := change.Value
		resp.Patch = append(resp.Patch, PatchOperation[T]{
			Op:    PatchPut,
			Key:   &key,
			Value: &value,
		})
	}

	return resp, nil
}
