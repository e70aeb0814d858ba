package catalog

import (
	"fmt"
	"time"
)

// apply mutates in-memory state for a single verified batch. It trusts
// that the batch was already validated by the compose step that built
// it (operations.go): a verified batch is always applyable, so anything
// unexpected here is a programming bug, not a user error.
func (c *Catalog) apply(batch CatalogBatch) error {
	switch batch.Kind {
	case BatchNode:
		return c.applyNodeOps(batch.Ops)
	case BatchDatabase:
		return c.applyDatabaseOps(batch.DbID, batch.Ops)
	case BatchToken:
		return c.applyTokenOps(batch.Ops)
	case BatchDelete:
		return c.applyDeleteOps(batch.Ops)
	case BatchGeneration:
		return c.applyGenerationOps(batch.Ops)
	default:
		return fmt.Errorf("catalog: apply: unknown batch kind %d", batch.Kind)
	}
}

func (c *Catalog) applyNodeOps(ops []Op) error {
	for _, op := range ops {
		switch o := op.(type) {
		case OpCreateNode:
			n := Node{
				ID:           o.ID,
				Name:         o.Name,
				InstanceUUID: o.InstanceUUID,
				Modes:        o.Modes,
				CoreCount:    o.CoreCount,
				State:        NodeStateRunning,
			}
			c.nodes.Insert(o.ID, n)
		case OpNodeRunning:
			n, ok := c.nodes.Get(o.ID)
			if !ok {
				return fmt.Errorf("catalog: apply: node %d not found", o.ID)
			}
			n.State = NodeStateRunning
			n.StateChanged = o.At
			c.nodes.Insert(o.ID, n)
		case OpNodeStopped:
			n, ok := c.nodes.Get(o.ID)
			if !ok {
				return fmt.Errorf("catalog: apply: node %d not found", o.ID)
			}
			n.State = NodeStateStopped
			n.StateChanged = o.At
			c.nodes.Insert(o.ID, n)
		default:
			return fmt.Errorf("catalog: apply: unexpected node op %T", op)
		}
	}
	return nil
}

func (c *Catalog) applyDatabaseOps(dbID DbID, ops []Op) error {
	for _, op := range ops {
		switch o := op.(type) {
		case OpCreateDatabase:
			db := Database{
				ID:       o.ID,
				Name:     o.Name,
				Tables:   NewRepository[TableID, Table](incU64[TableID]),
				Triggers: NewRepository[TriggerID, Trigger](incU64[TriggerID]),
			}
			c.databases.Insert(o.ID, db)

		case OpCreateTable:
			db, ok := c.databases.Get(dbID)
			if !ok {
				return fmt.Errorf("catalog: apply: database %d not found", dbID)
			}
			db.Tables = db.Tables.Clone()
			table := Table{
				ID:             o.ID,
				Name:           o.Name,
				Columns:        NewRepository[ColumnID, Column](incU64[ColumnID]),
				LastCaches:     make(map[string]LastCacheDef),
				DistinctCaches: make(map[string]DistinctCacheDef),
			}
			for _, colOp := range o.Columns {
				addColumn(&table, colOp)
			}
			db.Tables.Insert(o.ID, table)
			c.databases.Insert(dbID, db)

		case OpAddColumn:
			if err := c.mutateTable(dbID, o.TableID, func(table *Table) error {
				addColumn(table, o)
				return nil
			}); err != nil {
				return err
			}

		case OpCreateLastCache:
			if err := c.mutateTable(dbID, o.TableID, func(table *Table) error {
				table.LastCaches[o.Def.Name] = o.Def
				return nil
			}); err != nil {
				return err
			}

		case OpCreateDistinctCache:
			if err := c.mutateTable(dbID, o.TableID, func(table *Table) error {
				table.DistinctCaches[o.Def.Name] = o.Def
				return nil
			}); err != nil {
				return err
			}

		case OpCreateTrigger:
			if err := c.mutateDatabase(dbID, func(db *Database) error {
				db.Triggers.Insert(o.ID, Trigger{ID: o.ID, Name: o.Name, State: TriggerDisabled})
				return nil
			}); err != nil {
				return err
			}

		case OpEnableTrigger:
			if err := c.mutateDatabase(dbID, func(db *Database) error {
				t, ok := db.Triggers.Get(o.ID)
				if !ok {
					return fmt.Errorf("catalog: apply: trigger %d not found", o.ID)
				}
				t.State = TriggerEnabled
				db.Triggers.Insert(o.ID, t)
				return nil
			}); err != nil {
				return err
			}

		case OpDisableTrigger:
			if err := c.mutateDatabase(dbID, func(db *Database) error {
				t, ok := db.Triggers.Get(o.ID)
				if !ok {
					return fmt.Errorf("catalog: apply: trigger %d not found", o.ID)
				}
				t.State = TriggerDisabled
				db.Triggers.Insert(o.ID, t)
				return nil
			}); err != nil {
				return err
			}

		case OpDeleteTrigger:
			if err := c.mutateDatabase(dbID, func(db *Database) error {
				t, ok := db.Triggers.Get(o.ID)
				if !ok {
					return fmt.Errorf("catalog: apply: trigger %d not found", o.ID)
				}
				t.State = TriggerDeleted
				db.Triggers.Insert(o.ID, t)
				return nil
			}); err != nil {
				return err
			}

		case OpSoftDeleteDatabase:
			if err := c.mutateDatabase(o.ID, func(db *Database) error {
				db.Name = o.RenameTo
				db.Deleted = true
				applyHardDeleteSelector(&db.HardDeleteTime, o.HardTime)
				return nil
			}); err != nil {
				return err
			}

		case OpSoftDeleteTable:
			if err := c.mutateTable(dbID, o.TableID, func(table *Table) error {
				table.Name = o.RenameTo
				table.Deleted = true
				applyHardDeleteSelector(&table.HardDeleteTime, o.HardTime)
				return nil
			}); err != nil {
				return err
			}

		case OpSetRetention:
			if err := c.mutateDatabase(dbID, func(db *Database) error {
				db.Retention = o.Retention
				return nil
			}); err != nil {
				return err
			}

		case OpClearRetention:
			if err := c.mutateDatabase(dbID, func(db *Database) error {
				db.Retention = Retention{Kind: RetentionIndefinite}
				return nil
			}); err != nil {
				return err
			}

		default:
			return fmt.Errorf("catalog: apply: unexpected database op %T", op)
		}
	}
	return nil
}

func (c *Catalog) applyTokenOps(ops []Op) error {
	for _, op := range ops {
		switch o := op.(type) {
		case OpCreateToken:
			c.tokens.insert(Token{
				ID:          o.ID,
				Name:        o.Name,
				Hash:        o.Hash,
				CreatedAt:   o.CreatedAt,
				Expiry:      o.Expiry,
				Permissions: o.Permissions,
				IsAdmin:     o.IsAdmin,
			})
		case OpRegenerateToken:
			t, ok := c.tokens.get(o.ID)
			if !ok {
				return fmt.Errorf("catalog: apply: token %d not found", o.ID)
			}
			t.Hash = o.Hash
			updated := o.UpdatedAt
			t.UpdatedAt = &updated
			c.tokens.insert(t)
		case OpDeleteToken:
			t, ok := c.tokens.get(o.ID)
			if !ok {
				return fmt.Errorf("catalog: apply: token %d not found", o.ID)
			}
			t.Deleted = true
			c.tokens.insert(t)
		default:
			return fmt.Errorf("catalog: apply: unexpected token op %T", op)
		}
	}
	return nil
}

func (c *Catalog) applyDeleteOps(ops []Op) error {
	for _, op := range ops {
		switch o := op.(type) {
		case OpDeleteDatabase:
			c.databases.Delete(o.ID)
		case OpDeleteTable:
			for _, db := range c.databases.List() {
				if _, ok := db.Tables.Get(o.TableID); ok {
					db.Tables = db.Tables.Clone()
					db.Tables.Delete(o.TableID)
					c.databases.Insert(db.ID, db)
					break
				}
			}
		default:
			return fmt.Errorf("catalog: apply: unexpected delete op %T", op)
		}
	}
	return nil
}

func (c *Catalog) applyGenerationOps(ops []Op) error {
	for _, op := range ops {
		switch o := op.(type) {
		case OpSetGenerationDuration:
			c.genDurations[o.Level] = o.Duration
		default:
			return fmt.Errorf("catalog: apply: unexpected generation op %T", op)
		}
	}
	return nil
}

// mutateDatabase fetches dbID, clones its Tables/Triggers repositories so
// the mutation never touches a map a concurrent reader's copy still
// points at, runs fn against the clone, and republishes it. This
// copy-on-write discipline means readers never see a half-mutated
// Database.
func (c *Catalog) mutateDatabase(dbID DbID, fn func(*Database) error) error {
	db, ok := c.databases.Get(dbID)
	if !ok {
		return fmt.Errorf("catalog: apply: database %d not found", dbID)
	}
	db.Tables = db.Tables.Clone()
	db.Triggers = db.Triggers.Clone()
	if err := fn(&db); err != nil {
		return err
	}
	c.databases.Insert(dbID, db)
	return nil
}

// mutateTable fetches (dbID, tableID), clones the table's Columns
// repository, runs fn against the clone, and republishes both the table
// and its owning database (itself cloned by mutateDatabase).
func (c *Catalog) mutateTable(dbID DbID, tableID TableID, fn func(*Table) error) error {
	return c.mutateDatabase(dbID, func(db *Database) error {
		table, ok := db.Tables.Get(tableID)
		if !ok {
			return fmt.Errorf("catalog: apply: table %d not found", tableID)
		}
		table.Columns = table.Columns.Clone()
		table.LastCaches = cloneMap(table.LastCaches)
		table.DistinctCaches = cloneMap(table.DistinctCaches)
		if err := fn(&table); err != nil {
			return err
		}
		db.Tables.Insert(tableID, table)
		return nil
	})
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// addColumn appends a column to table and maintains the series-key /
// sort-key invariant: Tag columns are appended to the series key in
// arrival order, and the sort key is rebuilt as series_key followed by
// the table's Timestamp column, if any, last.
func addColumn(table *Table, op OpAddColumn) {
	if existing, ok := table.Columns.Get(op.ID); ok && existing.Name == op.Name {
		return // no-op: same id/name already applied (replay safety)
	}
	col := Column{ID: op.ID, Name: op.Name, Type: op.Type, Nullable: op.Nullable}
	table.Columns.Insert(op.ID, col)

	if op.Type == ColumnTag {
		table.SeriesKey = append(table.SeriesKey, op.ID)
	}
	rebuildSortKey(table)
}

func rebuildSortKey(table *Table) {
	sortKey := append([]ColumnID(nil), table.SeriesKey...)
	if tc, ok := table.TimeColumn(); ok {
		sortKey = append(sortKey, tc.ID)
	}
	table.SortKey = sortKey
}

// applyHardDeleteSelector resolves a HardDeleteSelector against the
// entity's current scheduled hard-delete time. Default is idempotent:
// if a time is already scheduled, it is left unchanged (the caller, not
// apply, is responsible for signaling AlreadyDeleted in that case —
// apply trusts it was only reached when a real change is warranted).
// Timestamp values in the past are normalized to now.
func applyHardDeleteSelector(current **time.Time, sel HardDeleteSelector) {
	switch sel.Kind {
	case HardDeleteNever:
		*current = nil
	case HardDeleteNow:
		now := time.Now().UTC()
		*current = &now
	case HardDeleteDefault:
		if *current == nil {
			t := defaultHardDeleteTime()
			*current = &t
		}
	case HardDeleteTimestamp:
		at := sel.At
		if at.Before(time.Now()) {
			at = time.Now().UTC()
		}
		*current = &at
	}
}

// defaultHardDeleteTime is the "default hard time" scheduled for a fresh
// soft-delete: seven days out, far enough to give operators a window to
// recover.
func defaultHardDeleteTime() time.Time {
	return time.Now().UTC().Add(7 * 24 * time.Hour)
}
