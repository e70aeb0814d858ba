package catalog

import (
	"time"

	"github.com/google/uuid"
)

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

// SnapshotVersion is the version tag stamped into every CatalogSnapshot;
// bump it if the JSON shape below changes in a way old snapshots can't
// decode into.
const SnapshotVersion = 1

// CatalogSnapshot is the JSON checkpoint format: a full, self-contained
// copy of the catalog tree at a given sequence number. Reloading it
// (Catalog.RestoreFromCheckpoint) plus replaying any log entries past
// Sequence must reproduce an equal in-memory catalog.
type CatalogSnapshot struct {
	Version      int                      `json:"version"`
	CatalogUUID  string                   `json:"catalog_uuid"`
	Sequence     CatalogSequenceNumber    `json:"sequence"`
	Nodes        []NodeSnapshot           `json:"nodes"`
	Databases    []DatabaseSnapshot       `json:"databases"`
	Tokens       []TokenSnapshot          `json:"tokens"`
	GenDurations map[Generation]int64     `json:"generation_config"` // nanoseconds
}

type NodeSnapshot struct {
	ID           NodeID     `json:"id"`
	Name         string     `json:"name"`
	InstanceUUID [16]byte   `json:"instance_uuid"`
	Modes        []NodeMode `json:"modes"`
	CoreCount    int        `json:"core_count"`
	State        NodeState  `json:"state"`
	StateChanged time.Time  `json:"state_changed"`
}

type DatabaseSnapshot struct {
	ID             DbID             `json:"id"`
	Name           string           `json:"name"`
	Tables         []TableSnapshot  `json:"tables"`
	Triggers       []TriggerSnapshot `json:"triggers"`
	RetentionKind  RetentionKind    `json:"retention_kind"`
	RetentionNS    int64            `json:"retention_ns"`
	Deleted        bool             `json:"deleted"`
	HardDeleteTime *time.Time       `json:"hard_delete_time,omitempty"`
}

type TableSnapshot struct {
	ID             TableID            `json:"id"`
	Name           string             `json:"name"`
	Columns        []ColumnSnapshot   `json:"columns"`
	SeriesKey      []ColumnID         `json:"series_key"`
	SortKey        []ColumnID         `json:"sort_key"`
	LastCaches     []LastCacheDef     `json:"last_caches"`
	DistinctCaches []DistinctCacheDef `json:"distinct_caches"`
	Deleted        bool               `json:"deleted"`
	HardDeleteTime *time.Time         `json:"hard_delete_time,omitempty"`
}

type ColumnSnapshot struct {
	ID       ColumnID   `json:"id"`
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

type TriggerSnapshot struct {
	ID    TriggerID    `json:"id"`
	Name  string       `json:"name"`
	State TriggerState `json:"state"`
}

type TokenSnapshot struct {
	ID          TokenID      `json:"id"`
	Name        string       `json:"name"`
	Hash        [64]byte     `json:"hash"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
	Expiry      *time.Time   `json:"expiry,omitempty"`
	Permissions []Permission `json:"permissions"`
	IsAdmin     bool         `json:"is_admin"`
	Deleted     bool         `json:"deleted"`
}

// Checkpoint collects the full in-memory tree into a CatalogSnapshot: a
// single process's view at the moment the permit-held caller decided to
// checkpoint.
func (c *Catalog) Checkpoint() CatalogSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := CatalogSnapshot{
		Version:      SnapshotVersion,
		CatalogUUID:  c.instanceUUID.String(),
		Sequence:     c.seq,
		GenDurations: make(map[Generation]int64, len(c.genDurations)),
	}
	for level, d := range c.genDurations {
		snap.GenDurations[level] = int64(d)
	}
	for _, n := range c.nodes.List() {
		snap.Nodes = append(snap.Nodes, NodeSnapshot{
			ID: n.ID, Name: n.Name, InstanceUUID: n.InstanceUUID,
			Modes: n.Modes, CoreCount: n.CoreCount, State: n.State, StateChanged: n.StateChanged,
		})
	}
	for _, db := range c.databases.List() {
		dbSnap := DatabaseSnapshot{
			ID: db.ID, Name: db.Name,
			RetentionKind: db.Retention.Kind, RetentionNS: int64(db.Retention.Duration),
			Deleted: db.Deleted, HardDeleteTime: db.HardDeleteTime,
		}
		for _, t := range db.Tables.List() {
			tSnap := TableSnapshot{
				ID: t.ID, Name: t.Name, SeriesKey: t.SeriesKey, SortKey: t.SortKey,
				Deleted: t.Deleted, HardDeleteTime: t.HardDeleteTime,
			}
			for _, col := range t.Columns.List() {
				tSnap.Columns = append(tSnap.Columns, ColumnSnapshot{ID: col.ID, Name: col.Name, Type: col.Type, Nullable: col.Nullable})
			}
			for _, lc := range t.LastCaches {
				tSnap.LastCaches = append(tSnap.LastCaches, lc)
			}
			for _, dc := range t.DistinctCaches {
				tSnap.DistinctCaches = append(tSnap.DistinctCaches, dc)
			}
			dbSnap.Tables = append(dbSnap.Tables, tSnap)
		}
		for _, trig := range db.Triggers.List() {
			dbSnap.Triggers = append(dbSnap.Triggers, TriggerSnapshot{ID: trig.ID, Name: trig.Name, State: trig.State})
		}
		snap.Databases = append(snap.Databases, dbSnap)
	}
	for _, t := range c.tokens.list() {
		snap.Tokens = append(snap.Tokens, TokenSnapshot{
			ID: t.ID, Name: t.Name, Hash: t.Hash, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
			Expiry: t.Expiry, Permissions: t.Permissions, IsAdmin: t.IsAdmin, Deleted: t.Deleted,
		})
	}
	return snap
}

// RestoreFromCheckpoint replaces the catalog's entire in-memory state
// with snap's. It must only be called before the catalog starts serving
// writes (cataloglog.Load calls it once at startup, before replaying any
// log entries past snap.Sequence).
func (c *Catalog) RestoreFromCheckpoint(snap CatalogSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	uuid, err := parseUUID(snap.CatalogUUID)
	if err != nil {
		return newErr("RestoreFromCheckpoint", KindCorruption, err)
	}
	c.instanceUUID = uuid
	c.seq = snap.Sequence

	c.genDurations = make(map[Generation]time.Duration, len(snap.GenDurations))
	for level, ns := range snap.GenDurations {
		c.genDurations[level] = time.Duration(ns)
	}

	c.nodes = NewRepository[NodeID, Node](incU64[NodeID])
	for _, n := range snap.Nodes {
		c.nodes.Insert(n.ID, Node{
			ID: n.ID, Name: n.Name, InstanceUUID: n.InstanceUUID,
			Modes: n.Modes, CoreCount: n.CoreCount, State: n.State, StateChanged: n.StateChanged,
		})
	}

	c.databases = NewRepository[DbID, Database](incU64[DbID])
	for _, dbSnap := range snap.Databases {
		db := Database{
			ID: dbSnap.ID, Name: dbSnap.Name,
			Tables:   NewRepository[TableID, Table](incU64[TableID]),
			Triggers: NewRepository[TriggerID, Trigger](incU64[TriggerID]),
			Retention: Retention{Kind: dbSnap.RetentionKind, Duration: time.Duration(dbSnap.RetentionNS)},
			Deleted:  dbSnap.Deleted, HardDeleteTime: dbSnap.HardDeleteTime,
		}
		for _, tSnap := range dbSnap.Tables {
			table := Table{
				ID: tSnap.ID, Name: tSnap.Name, SeriesKey: tSnap.SeriesKey, SortKey: tSnap.SortKey,
				Columns:        NewRepository[ColumnID, Column](incU64[ColumnID]),
				LastCaches:     make(map[string]LastCacheDef),
				DistinctCaches: make(map[string]DistinctCacheDef),
				Deleted:        tSnap.Deleted, HardDeleteTime: tSnap.HardDeleteTime,
			}
			for _, col := range tSnap.Columns {
				table.Columns.Insert(col.ID, Column{ID: col.ID, Name: col.Name, Type: col.Type, Nullable: col.Nullable})
			}
			for _, lc := range tSnap.LastCaches {
				table.LastCaches[lc.Name] = lc
			}
			for _, dc := range tSnap.DistinctCaches {
				table.DistinctCaches[dc.Name] = dc
			}
			db.Tables.Insert(table.ID, table)
		}
		for _, trig := range dbSnap.Triggers {
			db.Triggers.Insert(trig.ID, Trigger{ID: trig.ID, Name: trig.Name, State: trig.State})
		}
		c.databases.Insert(db.ID, db)
	}

	c.tokens = newTokenRepository()
	for _, t := range snap.Tokens {
		c.tokens.insert(Token{
			ID: t.ID, Name: t.Name, Hash: t.Hash, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
			Expiry: t.Expiry, Permissions: t.Permissions, IsAdmin: t.IsAdmin, Deleted: t.Deleted,
		})
	}
	return nil
}

// ApplyReplay applies batch directly to memory and advances the
// sequence to seq, bypassing the write permit. It is only safe to call
// during startup log replay (cataloglog.Load), strictly in ascending
// seq order, before the catalog is handed to the write path: there is
// no concurrent writer to race against yet.
func (c *Catalog) ApplyReplay(batch CatalogBatch, seq CatalogSequenceNumber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq+1 {
		return newErr("ApplyReplay", KindCorruption, nil)
	}
	if err := c.apply(batch); err != nil {
		return newErr("ApplyReplay", KindCorruption, err)
	}
	c.seq = seq
	return nil
}
