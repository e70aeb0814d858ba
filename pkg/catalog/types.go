// Package catalog is the single source of truth for a storage node's
// schema, retention, tokens, and generation configuration. All mutations
// flow through CatalogBatch values applied under the write permit; reads
// take a cheap, short-lived snapshot of the in-memory tree.
//
// Entities and invariants (mirrors the node's data model):
//
//   - CatalogSequenceNumber: monotonically increasing 64-bit integer.
//     Every applied batch consumes exactly current+1.
//   - Node: (node_catalog_id, node_id_name, instance_uuid, modes[],
//     core_count, state). instance_uuid is immutable once registered.
//   - Database: (db_id, name, tables, retention, triggers, deleted,
//     hard_delete_time).
//   - Table: (table_id, name, columns, series_key, sort_key, last_caches,
//     distinct_caches, deleted, hard_delete_time). Series key columns are
//     a prefix of the sort key; the time column, if present, is last.
//   - Column: (column_id, name, type, nullable). Timestamp columns are
//     non-nullable.
//   - Token: (token_id, name, hash, created_at, updated_at, expiry,
//     permissions). hash is unique; plaintext is never stored.
//   - Generation: integer level 1..5, each with an immutable duration.
//   - ParquetFile: (id, path, size_bytes, row_count, chunk_time, min_time,
//     max_time, generation).
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// CatalogSequenceNumber totally orders applied catalog batches.
type CatalogSequenceNumber uint64

type (
	NodeID    uint64
	DbID      uint64
	TableID   uint64
	ColumnID  uint64
	TriggerID uint64
	TokenID   uint64
)

func incU64[T ~uint64](v T) T { return v + 1 }

// NodeState is the lifecycle state of a registered node.
type NodeState int

const (
	NodeStateStopped NodeState = iota
	NodeStateRunning
)

// NodeMode names a role a node plays; a node's modes[] governs which
// background loops (ingest, compaction) cmd/chronicled starts for it.
type NodeMode string

const (
	NodeModeIngest  NodeMode = "ingest"
	NodeModeCompact NodeMode = "compact"
)

// Node is a registered storage node. instance_uuid is immutable once set:
// re-registration with a different uuid is rejected by the catalog.
type Node struct {
	ID           NodeID
	Name         string
	InstanceUUID uuid.UUID
	Modes        []NodeMode
	CoreCount    int
	State        NodeState
	StateChanged time.Time
}

func (n Node) EntityName() string { return n.Name }

// HasMode reports whether m is one of the node's declared modes.
func (n Node) HasMode(m NodeMode) bool {
	for _, have := range n.Modes {
		if have == m {
			return true
		}
	}
	return false
}

// RetentionKind selects whether a database's data ages out.
type RetentionKind int

const (
	RetentionIndefinite RetentionKind = iota
	RetentionDuration
)

// Retention is Indefinite, or Duration(d) expiring rows older than d.
type Retention struct {
	Kind     RetentionKind
	Duration time.Duration
}

// CutoffNS returns the retention cutoff in unix nanoseconds relative to
// now, or false if retention is Indefinite.
func (r Retention) CutoffNS(now time.Time) (int64, bool) {
	if r.Kind != RetentionDuration {
		return 0, false
	}
	return now.Add(-r.Duration).UnixNano(), true
}

// Database owns a set of Tables and Triggers under a unique name.
type Database struct {
	ID              DbID
	Name            string
	Tables          *Repository[TableID, Table]
	Retention       Retention
	Triggers        *Repository[TriggerID, Trigger]
	Deleted         bool
	HardDeleteTime  *time.Time
}

func (d Database) EntityName() string { return d.Name }

// ColumnType is the storage type of a Column.
type ColumnType int

const (
	ColumnTag ColumnType = iota
	ColumnFieldString
	ColumnFieldInt64
	ColumnFieldUint64
	ColumnFieldFloat64
	ColumnFieldBool
	ColumnTimestamp
)

// IsField reports whether t is one of the Field(primitive) variants.
func (t ColumnType) IsField() bool {
	switch t {
	case ColumnFieldString, ColumnFieldInt64, ColumnFieldUint64, ColumnFieldFloat64, ColumnFieldBool:
		return true
	}
	return false
}

// Column is a single field/tag/timestamp column of a Table. Timestamp
// columns are always non-nullable.
type Column struct {
	ID       ColumnID
	Name     string
	Type     ColumnType
	Nullable bool
}

func (c Column) EntityName() string { return c.Name }

// TriggerState is the lifecycle state of a Trigger: <absent> -> Disabled
// -> Enabled -> Deleted. Delete is only legal from Disabled.
type TriggerState int

const (
	TriggerDisabled TriggerState = iota
	TriggerEnabled
	TriggerDeleted
)

// Trigger names a processing-engine hook point. The plugin runtime
// itself is out of scope; the catalog only tracks lifecycle state so a
// future runtime has somewhere authoritative to read it from.
type Trigger struct {
	ID    TriggerID
	Name  string
	State TriggerState
}

func (t Trigger) EntityName() string { return t.Name }

// LastCacheDef and DistinctCacheDef record the configuration the write
// path and query layer would use to maintain a cache; this module only
// validates and stores the definitions — the caches themselves are
// consumers of the catalog, not catalog internals. They are named, not
// numbered, so they live in plain maps rather than a Repository.
type LastCacheDef struct {
	Name         string
	KeyColumns   []ColumnID
	ValueColumns []ColumnID
	Count        int
}

type DistinctCacheDef struct {
	Name           string
	KeyColumns     []ColumnID
	MaxCardinality int
}

// Table owns its Columns and Caches under a unique name within its
// Database.
type Table struct {
	ID             TableID
	Name           string
	Columns        *Repository[ColumnID, Column]
	SeriesKey      []ColumnID
	SortKey        []ColumnID
	LastCaches     map[string]LastCacheDef
	DistinctCaches map[string]DistinctCacheDef
	Deleted        bool
	HardDeleteTime *time.Time
}

func (t Table) EntityName() string { return t.Name }

// TimeColumn returns the table's Timestamp column, if one exists.
func (t Table) TimeColumn() (Column, bool) {
	for _, c := range t.Columns.List() {
		if c.Type == ColumnTimestamp {
			return c, true
		}
	}
	return Column{}, false
}

// Permissions is a bitmask of allowed actions on a resource, used by the
// scoped-token permission model.
type Permissions uint8

const (
	PermRead Permissions = 1 << iota
	PermWrite
	PermCreate
	PermDelete
)

// ResourceType names what a scoped token's permission applies to.
type ResourceType int

const (
	ResourceWildcard ResourceType = iota
	ResourceDatabase
	ResourceToken
)

// ResourceIdentifier selects which instances of ResourceType a Permission
// grants access to.
type ResourceIdentifier struct {
	Wildcard bool
	DbIDs    []DbID
	TokenIDs []TokenID
}

// Permission is one entry of a scoped token's access grant.
type Permission struct {
	ResourceType ResourceType
	Identifier   ResourceIdentifier
	Actions      Permissions
}

// Token is an API credential. hash is the sha-512 digest of the
// plaintext; plaintext itself is never persisted.
type Token struct {
	ID          TokenID
	Name        string
	Hash        [64]byte
	CreatedAt   time.Time
	UpdatedAt   *time.Time
	Expiry      *time.Time
	Permissions []Permission
	IsAdmin     bool
	Deleted     bool
}

func (t Token) EntityName() string { return t.Name }

// Generation is a compaction tier, 1..5, each with an immutable once-set
// duration.
type Generation int

const (
	Generation1 Generation = 1
	Generation5 Generation = 5
)

// ParquetFile is a single persisted data file registered in the
// persisted-files index.
type ParquetFile struct {
	ID         uint64
	Path       string
	SizeBytes  int64
	RowCount   int64
	ChunkTime  int64
	MinTime    int64
	MaxTime    int64
	Generation Generation
}

// PersistedSnapshot summarizes files added/removed in one WAL flush,
// sequenced by (snapshot_seq, wal_file_seq, catalog_seq).
type PersistedSnapshot struct {
	SnapshotSeq uint64
	WalFileSeq  uint64
	CatalogSeq  CatalogSequenceNumber
	Added       []ParquetFile
	Removed     []uint64
}
