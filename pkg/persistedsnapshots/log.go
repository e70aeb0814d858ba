// Package persistedsnapshots appends one record per write-path flush
// cycle to object storage, recording which Parquet files were added
// (and, for a compaction-originated flush, removed) along with the
// catalog sequence the flush was consistent with. Unlike the catalog's
// own log and checkpoint (pkg/cataloglog), these records are never
// replayed to reconstruct state — the fileindex snapshot already does
// that — they exist as an append-only audit trail a caller can page
// through newest-first.
package persistedsnapshots

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/objstore"
)

const (
	keyPrefixFmt = "%s/snapshots/"
	keyFmt       = "%s/snapshots/%020d.json"
)

// Log appends and lists persisted snapshots under "<prefix>/snapshots/".
type Log struct {
	store  objstore.Store
	prefix string
}

// New wraps store, scoping every key under "<prefix>/snapshots/".
func New(store objstore.Store, prefix string) *Log {
	return &Log{store: store, prefix: strings.TrimSuffix(prefix, "/")}
}

func (l *Log) key(seq uint64) string {
	return fmt.Sprintf(keyFmt, l.prefix, seq)
}

// Append writes snap at its SnapshotSeq. Two writers racing on the same
// sequence is a caller bug (snapshot sequence assignment is expected to
// be serialized by the write path's single flush owner), so Append uses
// an unconditional Put rather than PutIfAbsent.
func (l *Log) Append(ctx context.Context, snap catalog.PersistedSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("persistedsnapshots: encoding seq %d: %w", snap.SnapshotSeq, err)
	}
	if _, err := l.store.Put(ctx, l.key(snap.SnapshotSeq), data); err != nil {
		return fmt.Errorf("persistedsnapshots: writing seq %d: %w", snap.SnapshotSeq, err)
	}
	return nil
}

// Load returns up to limit snapshots, newest-first. It pages through
// the store's List 1000 entries at a time, collects every key, sorts
// newest-first, truncates to limit and only then fetches the objects.
func (l *Log) Load(ctx context.Context, limit int) ([]catalog.PersistedSnapshot, error) {
	const pageSize = 1000
	prefix := fmt.Sprintf(keyPrefixFmt, l.prefix)

	var metas []objstore.ObjectMeta
	for offset := 0; ; offset += pageSize {
		page, err := l.store.List(ctx, prefix, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("persistedsnapshots: listing: %w", err)
		}
		metas = append(metas, page...)
		if len(page) < pageSize {
			break
		}
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Key > metas[j].Key })

	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}

	out := make([]catalog.PersistedSnapshot, 0, len(metas))
	for _, m := range metas {
		data, err := l.store.Get(ctx, m.Key)
		if err != nil {
			return nil, fmt.Errorf("persistedsnapshots: reading %s: %w", m.Key, err)
		}
		var snap catalog.PersistedSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("persistedsnapshots: decoding %s: %w", m.Key, err)
		}
		out = append(out, snap)
	}
	return out, nil
}
