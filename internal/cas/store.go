package cas

import (
	"context"
	"encoding/json"
	"fmt"

	"kai-model/internal/ids"
)

// Tenancy scopes a write to the workspace and change set that produced it.
type Tenancy struct {
	WorkspacePk ids.WorkspacePk `json:"workspacePk"`
	ChangeSetID ids.ChangeSetID `json:"changeSetId"`
}

// Actor identifies who wrote an object ("system" or a user id).
type Actor string

// SystemActor is used for writes that no user initiated.
const SystemActor Actor = "system"

// Store is an append-only, content-deduplicated object store.
type Store interface {
	// Write stores content and returns its hash. isNew is false when identical
	// content was already present; concurrent writes of the same bytes are safe.
	Write(ctx context.Context, content []byte, tenancy Tenancy, actor Actor) (hash ContentHash, isNew bool, err error)

	// ReadMany returns the content of every hash present in the store. Missing
	// hashes are simply absent from the result.
	ReadMany(ctx context.Context, hashes []ContentHash) (map[ContentHash][]byte, error)
}

// WriteJSON stores the canonical JSON encoding of v.
func WriteJSON(ctx context.Context, s Store, v interface{}, tenancy Tenancy, actor Actor) (ContentHash, bool, error) {
	want, data, err := HashJSON(v)
	if err != nil {
		return ContentHash{}, false, fmt.Errorf("encoding content: %w", err)
	}
	hash, isNew, err := s.Write(ctx, data, tenancy, actor)
	if err != nil {
		return ContentHash{}, false, err
	}
	if hash != want {
		return ContentHash{}, false, fmt.Errorf("store returned hash %s for content hashing to %s", hash.Short(), want.Short())
	}
	return hash, isNew, nil
}

// TryReadManyAs batch-reads hashes and decodes each object as T. Missing
// hashes are absent from the result, not an error.
func TryReadManyAs[T any](ctx context.Context, s Store, hashes []ContentHash) (map[ContentHash]T, error) {
	raw, err := s.ReadMany(ctx, hashes)
	if err != nil {
		return nil, err
	}

	result := make(map[ContentHash]T, len(raw))
	for hash, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decoding content %s: %w", hash.Short(), err)
		}
		result[hash] = v
	}
	return result, nil
}

// ReadAs reads a single object. The bool is false when the hash is absent.
func ReadAs[T any](ctx context.Context, s Store, hash ContentHash) (T, bool, error) {
	var zero T
	found, err := TryReadManyAs[T](ctx, s, []ContentHash{hash})
	if err != nil {
		return zero, false, err
	}
	v, ok := found[hash]
	return v, ok, nil
}
