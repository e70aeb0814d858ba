package cataloglog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/clog"
	"github.com/cuemby/chronicle/pkg/objstore"
)

const (
	logPrefixFmt     = "%s/catalog/log/"
	logKeyFmt        = "%s/catalog/log/%020d.bin"
	checkpointKeyFmt = "%s/catalog/checkpoint.bin"
)

// Log persists the catalog's batch sequence and checkpoints to an
// objstore.Store, and satisfies catalog.LogAppender so a *Catalog can be
// constructed with one directly.
type Log struct {
	store  objstore.Store
	prefix string
}

// New wraps store, scoping every key under a "<prefix>/..." layout.
func New(store objstore.Store, prefix string) *Log {
	return &Log{store: store, prefix: strings.TrimSuffix(prefix, "/")}
}

func (l *Log) logKey(seq catalog.CatalogSequenceNumber) string {
	return fmt.Sprintf(logKeyFmt, l.prefix, seq)
}

func (l *Log) checkpointKey() string {
	return fmt.Sprintf(checkpointKeyFmt, l.prefix)
}

// Append writes one log record for seq via conditional put: two writers
// racing on the same sequence produce a deterministic loser (the one
// whose PutIfAbsent sees ErrAlreadyExists), which this returns as an
// error for the caller to retry its composition against current state.
// In this module's single-node-writer model that race never actually
// triggers outside of tests, since the write permit already serializes
// appends; the conditional put is still the correctness mechanism, not
// an optimization.
func (l *Log) Append(ctx context.Context, seq catalog.CatalogSequenceNumber, batch catalog.CatalogBatch) error {
	data, err := Encode(batch)
	if err != nil {
		return err
	}
	if _, err := l.store.PutIfAbsent(ctx, l.logKey(seq), data); err != nil {
		return fmt.Errorf("cataloglog: append seq %d: %w", seq, err)
	}
	return nil
}

// Checkpoint writes snap as the latest checkpoint, JSON-encoded.
func (l *Log) Checkpoint(ctx context.Context, snap catalog.CatalogSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cataloglog: encoding checkpoint: %w", err)
	}
	if _, err := l.store.Put(ctx, l.checkpointKey(), data); err != nil {
		return fmt.Errorf("cataloglog: writing checkpoint: %w", err)
	}
	return nil
}

// Load performs the startup sequence: deserialize the
// latest checkpoint if one exists (else start empty), then apply every
// log entry past the checkpoint's sequence in ascending order. It
// returns the number of log entries replayed, mostly for logging.
func (l *Log) Load(ctx context.Context, cat *catalog.Catalog) (int, error) {
	logger := clog.WithComponent("cataloglog")

	data, err := l.store.Get(ctx, l.checkpointKey())
	switch {
	case err == nil:
		var snap catalog.CatalogSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return 0, fmt.Errorf("cataloglog: corrupt checkpoint: %w", err)
		}
		if err := cat.RestoreFromCheckpoint(snap); err != nil {
			return 0, fmt.Errorf("cataloglog: restoring checkpoint: %w", err)
		}
		logger.Info().Uint64("sequence", uint64(snap.Sequence)).Msg("restored catalog checkpoint")
	case err == objstore.ErrNotFound:
		logger.Info().Msg("no catalog checkpoint found, starting empty")
	default:
		return 0, fmt.Errorf("cataloglog: reading checkpoint: %w", err)
	}

	entries, err := l.listLogEntriesAfter(ctx, cat.Sequence())
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		raw, err := l.store.Get(ctx, e.key)
		if err != nil {
			return 0, fmt.Errorf("cataloglog: reading log entry %d: %w", e.seq, err)
		}
		batch, err := Decode(raw)
		if err != nil {
			return 0, fmt.Errorf("cataloglog: corrupt log entry %d at %s: %w", e.seq, e.key, err)
		}
		if err := cat.ApplyReplay(batch, e.seq); err != nil {
			return 0, fmt.Errorf("cataloglog: replaying entry %d: %w", e.seq, err)
		}
	}
	if len(entries) > 0 {
		logger.Info().Int("entries", len(entries)).Msg("replayed catalog log")
	}
	return len(entries), nil
}

type logEntry struct {
	seq catalog.CatalogSequenceNumber
	key string
}

// listLogEntriesAfter lists every log key with sequence > after, sorted
// ascending. It pages through the store's List 1000 keys at a time so a
// log with many segments doesn't require a single unbounded listing.
func (l *Log) listLogEntriesAfter(ctx context.Context, after catalog.CatalogSequenceNumber) ([]logEntry, error) {
	prefix := fmt.Sprintf(logPrefixFmt, l.prefix)
	const page = 1000

	var entries []logEntry
	offset := 0
	for {
		metas, err := l.store.List(ctx, prefix, offset, page)
		if err != nil {
			return nil, fmt.Errorf("cataloglog: listing log: %w", err)
		}
		if len(metas) == 0 {
			break
		}
		for _, m := range metas {
			seq, ok := parseLogSeq(prefix, m.Key)
			if !ok {
				continue
			}
			if seq > after {
				entries = append(entries, logEntry{seq: seq, key: m.Key})
			}
		}
		if len(metas) < page {
			break
		}
		offset += len(metas)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries, nil
}

func parseLogSeq(prefix, key string) (catalog.CatalogSequenceNumber, bool) {
	name := strings.TrimPrefix(key, prefix)
	name = strings.TrimSuffix(name, ".bin")
	n, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return catalog.CatalogSequenceNumber(n), true
}

var _ catalog.LogAppender = (*Log)(nil)
