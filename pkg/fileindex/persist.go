package fileindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuemby/chronicle/pkg/objstore"
)

// snapshotKey is where the index's flattened Snapshot lives in object
// storage, alongside the catalog's own log and checkpoints
// (pkg/cataloglog.Log).
const snapshotKey = "fileindex/snapshot.json"

// SaveToStore writes the index's current contents to store, following
// the same JSON-checkpoint shape pkg/cataloglog uses for catalog
// snapshots.
func (idx *Index) SaveToStore(ctx context.Context, store objstore.Store) error {
	data, err := json.Marshal(idx.SaveSnapshot())
	if err != nil {
		return fmt.Errorf("fileindex: marshal snapshot: %w", err)
	}
	if _, err := store.Put(ctx, snapshotKey, data); err != nil {
		return fmt.Errorf("fileindex: writing snapshot: %w", err)
	}
	return nil
}

// LoadFromStore restores the index from its last saved snapshot, if
// any. A missing snapshot (fresh object store) is not an error: the
// index simply starts empty.
func (idx *Index) LoadFromStore(ctx context.Context, store objstore.Store) error {
	data, err := store.Get(ctx, snapshotKey)
	if errors.Is(err, objstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fileindex: reading snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("fileindex: unmarshal snapshot: %w", err)
	}
	idx.LoadSnapshot(snap)
	return nil
}
