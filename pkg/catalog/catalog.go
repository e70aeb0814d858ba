package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogAppender persists an applied batch's ordered record before it is
// committed to memory. pkg/cataloglog.Log implements this; Catalog only
// depends on the interface to stay free of that import.
type LogAppender interface {
	Append(ctx context.Context, seq CatalogSequenceNumber, batch CatalogBatch) error
}

type noopAppender struct{}

func (noopAppender) Append(context.Context, CatalogSequenceNumber, CatalogBatch) error { return nil }

// InternalDatabaseName is the reserved database hard-deletion is always
// refused for.
const InternalDatabaseName = "_internal"

// DefaultCheckpointInterval is how many applied batches accumulate
// between checkpoints when no override is configured.
const DefaultCheckpointInterval = 100

// Limits bounds schema growth; a breach fails with a dedicated
// TooMany* kind mapped to HTTP 422.
type Limits struct {
	MaxTagColumnsPerTable   int
	MaxFieldColumnsPerTable int
	MaxTablesPerDatabase    int
	MaxDatabases            int
}

// DefaultLimits is the production default: the 251st tag column on a
// table fails.
var DefaultLimits = Limits{
	MaxTagColumnsPerTable:   250,
	MaxFieldColumnsPerTable: 1000,
	MaxTablesPerDatabase:    2000,
	MaxDatabases:            5,
}

// Publisher is the narrow interface Catalog uses to announce applied
// batches: implemented by pkg/catalogevents.Bus and injected so this
// package stays free of that import.
type Publisher interface {
	Publish(seq CatalogSequenceNumber, batch CatalogBatch)
}

type noopPublisher struct{}

func (noopPublisher) Publish(CatalogSequenceNumber, CatalogBatch) {}

// Catalog is the single source of truth for schema, retention, tokens,
// and generation config. Reads take a short RLock; writes serialize
// through the permit mutex, which is held only across batch composition,
// log append, and in-memory apply (never across unrelated I/O).
type Catalog struct {
	mu sync.RWMutex

	instanceUUID uuid.UUID
	seq          CatalogSequenceNumber

	nodes     *Repository[NodeID, Node]
	databases *Repository[DbID, Database]
	tokens    *TokenRepository

	genDurations map[Generation]time.Duration

	limits Limits

	permitMu sync.Mutex
	events   Publisher
	log      LogAppender
}

// Permit is held across composing an ordered batch, persisting its log
// record, and applying it to memory; it releases on every exit path the
// way a scoped guard would.
type Permit struct {
	c        *Catalog
	released bool
}

// Release unlocks the write permit. Safe to call multiple times.
func (p *Permit) Release() {
	if p.released {
		return
	}
	p.released = true
	p.c.permitMu.Unlock()
}

// New creates an empty Catalog with a freshly generated instance UUID,
// stable for the Catalog's lifetime (a restored Catalog gets its UUID
// from the checkpoint instead; see RestoreFromCheckpoint).
func New(limits Limits, events Publisher, log LogAppender) *Catalog {
	if events == nil {
		events = noopPublisher{}
	}
	if log == nil {
		log = noopAppender{}
	}
	return &Catalog{
		instanceUUID: uuid.New(),
		nodes:        NewRepository[NodeID, Node](incU64[NodeID]),
		databases:    NewRepository[DbID, Database](incU64[DbID]),
		tokens:       newTokenRepository(),
		genDurations: make(map[Generation]time.Duration),
		limits:       limits,
		events:       events,
		log:          log,
	}
}

// InstanceUUID returns the catalog's stable identifier.
func (c *Catalog) InstanceUUID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instanceUUID
}

// Sequence returns the current applied sequence number.
func (c *Catalog) Sequence() CatalogSequenceNumber {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// GetPermitAndVerify acquires the single write permit. If observedSeq
// does not match the current sequence, it releases the permit and
// returns ErrRetryVerification so the caller recomposes the batch
// against current state; otherwise the batch is stamped with
// current+1 and the held permit is returned.
func (c *Catalog) GetPermitAndVerify(batch CatalogBatch, observedSeq CatalogSequenceNumber) (*OrderedCatalogBatch, *Permit, error) {
	c.permitMu.Lock()
	permit := &Permit{c: c}

	c.mu.RLock()
	current := c.seq
	c.mu.RUnlock()

	if observedSeq != current {
		permit.Release()
		return nil, nil, ErrRetryVerification
	}

	ordered := &OrderedCatalogBatch{Batch: batch, Sequence: current + 1}
	return ordered, permit, nil
}

// ApplyOrdered asserts ordered.Sequence == current+1, applies the batch
// to in-memory state, and advances current sequence. A mismatch here is
// a programming bug (a verified batch is always applyable), so it panics
// rather than returning an error.
func (c *Catalog) ApplyOrdered(ordered *OrderedCatalogBatch, permit *Permit) error {
	if permit == nil || permit.c != c {
		return fmt.Errorf("catalog: ApplyOrdered called without a held permit for this catalog")
	}

	c.mu.Lock()
	if ordered.Sequence != c.seq+1 {
		c.mu.Unlock()
		panic(fmt.Sprintf("catalog: ApplyOrdered sequence invariant violated: got %d, want %d", ordered.Sequence, c.seq+1))
	}
	err := c.apply(ordered.Batch)
	if err == nil {
		c.seq = ordered.Sequence
	}
	c.mu.Unlock()

	if err == nil {
		c.events.Publish(ordered.Sequence, ordered.Batch)
	}
	return err
}

// withRetry composes a batch via compose, submits it for verification,
// and on Retry recomposes against the now-current sequence. It bounds
// retries at a generous ceiling; persistent mismatch past that is an
// internal error, not an infinite loop.
func (c *Catalog) withRetry(ctx context.Context, compose func(observed CatalogSequenceNumber) (CatalogBatch, error)) (*OrderedCatalogBatch, error) {
	const maxRetries = 1000
	for i := 0; i < maxRetries; i++ {
		observed := c.Sequence()
		batch, err := compose(observed)
		if err != nil {
			return nil, err
		}
		ordered, permit, err := c.GetPermitAndVerify(batch, observed)
		if err != nil {
			if rerr, ok := err.(*Error); ok && rerr.Kind == KindRetryVerification {
				continue
			}
			return nil, err
		}
		if err := c.log.Append(ctx, ordered.Sequence, ordered.Batch); err != nil {
			permit.Release()
			return nil, newErr("withRetry", KindObjectStore, err)
		}
		if err := c.ApplyOrdered(ordered, permit); err != nil {
			permit.Release()
			return nil, err
		}
		permit.Release()
		return ordered, nil
	}
	return nil, newErr("withRetry", KindRetryVerification, fmt.Errorf("exceeded %d retries", maxRetries))
}

// RetentionCutoffs returns cutoff_ns(db,table) for every non-deleted
// table of every non-deleted database with Duration retention.
func (c *Catalog) RetentionCutoffs(now time.Time) map[[2]uint64]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[[2]uint64]int64)
	for _, db := range c.databases.List() {
		if db.Deleted {
			continue
		}
		cutoff, ok := db.Retention.CutoffNS(now)
		if !ok {
			continue
		}
		for _, t := range db.Tables.List() {
			if t.Deleted {
				continue
			}
			out[[2]uint64{uint64(db.ID), uint64(t.ID)}] = cutoff
		}
	}
	return out
}

// GetDatabase returns a copy of a database by name.
func (c *Catalog) GetDatabase(name string) (Database, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	db, _, ok := c.databases.GetByName(name)
	return db, ok
}

// GetDatabaseByID returns a copy of a database by id.
func (c *Catalog) GetDatabaseByID(id DbID) (Database, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.databases.Get(id)
}

// ListDatabases returns all databases in insertion order.
func (c *Catalog) ListDatabases() []Database {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.databases.List()
}
