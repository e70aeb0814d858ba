package catalog

import (
	"context"
	"time"
)

// RegisterNode registers node name with instanceUUID, or validates that
// a re-registration carries the same instanceUUID. instance_uuid is
// immutable once registered; a mismatch is rejected before any batch is
// composed.
func (c *Catalog) RegisterNode(ctx context.Context, name string, instanceUUID [16]byte, modes []NodeMode, coreCount int) (Node, error) {
	c.mu.RLock()
	existing, _, ok := c.nodes.GetByName(name)
	c.mu.RUnlock()
	if ok && existing.InstanceUUID != instanceUUID {
		return Node{}, newErr("RegisterNode", KindInvalidConfiguration, nil)
	}

	ordered, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		id := existing.ID
		if !ok {
			c.mu.RLock()
			id = c.nodes.NextID()
			c.mu.RUnlock()
		}
		op := OpCreateNode{ID: id, Name: name, InstanceUUID: instanceUUID, Modes: modes, CoreCount: coreCount}
		return newBatch(BatchNode, 0, op), nil
	})
	if err != nil {
		return Node{}, err
	}
	n, _ := c.nodes.Get(ordered.Batch.Ops[0].(OpCreateNode).ID)
	return n, nil
}

// StopNode transitions a node to Stopped; only legal from Running.
func (c *Catalog) StopNode(ctx context.Context, id NodeID) error {
	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		n, ok := c.nodes.Get(id)
		if !ok {
			return CatalogBatch{}, newErr("StopNode", KindNotFound, nil)
		}
		if n.State != NodeStateRunning {
			return CatalogBatch{}, newErr("StopNode", KindInvalidConfiguration, nil)
		}
		return newBatch(BatchNode, 0, OpNodeStopped{ID: id, At: time.Now().UTC()}), nil
	})
	return err
}

// DbOrCreate returns the database named name, creating it if absent.
func (c *Catalog) DbOrCreate(ctx context.Context, name string) (Database, error) {
	c.mu.RLock()
	if db, _, ok := c.databases.GetByName(name); ok {
		c.mu.RUnlock()
		return db, nil
	}
	count := c.databases.Len()
	c.mu.RUnlock()

	if count >= c.limits.MaxDatabases {
		return Database{}, limitErr("DbOrCreate", KindTooManyDatabases, count+1, c.limits.MaxDatabases)
	}

	ordered, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		if _, ok := c.GetDatabase(name); ok {
			return CatalogBatch{Kind: BatchDatabase}, nil // lost the race benignly; caller re-fetches below
		}
		c.mu.RLock()
		id := c.databases.NextID()
		c.mu.RUnlock()
		return newBatch(BatchDatabase, id, OpCreateDatabase{ID: id, Name: name}), nil
	})
	if err != nil {
		return Database{}, err
	}
	if len(ordered.Batch.Ops) == 0 {
		db, _ := c.GetDatabase(name)
		return db, nil
	}
	db, _ := c.databases.Get(ordered.Batch.DbID)
	return db, nil
}

// CreateTable creates a table under db with the given initial columns.
// columns are (name, type, nullable) triples; IDs are allocated here.
func (c *Catalog) CreateTable(ctx context.Context, dbID DbID, name string, columns []ColumnSpec) (Table, error) {
	db, ok := c.GetDatabaseByID(dbID)
	if !ok {
		return Table{}, newErr("CreateTable", KindNotFound, nil)
	}
	if _, _, exists := db.Tables.GetByName(name); exists {
		return Table{}, newErr("CreateTable", KindAlreadyExists, nil)
	}
	if db.Tables.Len() >= c.limits.MaxTablesPerDatabase {
		return Table{}, limitErr("CreateTable", KindTooManyTables, db.Tables.Len()+1, c.limits.MaxTablesPerDatabase)
	}
	if err := validateColumnSpecs(columns, c.limits); err != nil {
		return Table{}, err
	}

	ordered, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		db, _ := c.GetDatabaseByID(dbID)
		tableID := db.Tables.NextID()
		colOps := make([]OpAddColumn, 0, len(columns))
		nextColID := ColumnID(0)
		for _, spec := range columns {
			colOps = append(colOps, OpAddColumn{TableID: tableID, ID: nextColID, Name: spec.Name, Type: spec.Type, Nullable: spec.Nullable})
			nextColID++
		}
		return newBatch(BatchDatabase, dbID, OpCreateTable{ID: tableID, Name: name, Columns: colOps}), nil
	})
	if err != nil {
		return Table{}, err
	}
	db, _ = c.GetDatabaseByID(dbID)
	table, _ := db.Tables.Get(ordered.Batch.Ops[0].(OpCreateTable).ID)
	return table, nil
}

// ColumnSpec describes one column for CreateTable/AddColumns.
type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

func validateColumnSpecs(columns []ColumnSpec, limits Limits) error {
	tags, fields := 0, 0
	for _, spec := range columns {
		if spec.Type == ColumnTag {
			tags++
		} else if spec.Type.IsField() {
			fields++
		}
	}
	if tags > limits.MaxTagColumnsPerTable {
		return limitErr("validateColumnSpecs", KindTooManyTagColumns, tags, limits.MaxTagColumnsPerTable)
	}
	if fields > limits.MaxFieldColumnsPerTable {
		return limitErr("validateColumnSpecs", KindTooManyFieldColumns, fields, limits.MaxFieldColumnsPerTable)
	}
	return nil
}

// AddColumns extends table with new columns, applying the schema
// evolution rules: a column that already exists with the same type is a
// no-op; a different type fails FieldTypeMismatch; new Tag columns are
// appended to the series key and the sort key is rebuilt to match.
func (c *Catalog) AddColumns(ctx context.Context, dbID DbID, tableID TableID, columns []ColumnSpec) (Table, error) {
	db, ok := c.GetDatabaseByID(dbID)
	if !ok {
		return Table{}, newErr("AddColumns", KindNotFound, nil)
	}
	table, ok := db.Tables.Get(tableID)
	if !ok {
		return Table{}, newErr("AddColumns", KindNotFound, nil)
	}

	tagCount, fieldCount := 0, 0
	for _, col := range table.Columns.List() {
		if col.Type == ColumnTag {
			tagCount++
		} else if col.Type.IsField() {
			fieldCount++
		}
	}

	var toAdd []ColumnSpec
	for _, spec := range columns {
		existing, _, exists := table.Columns.GetByName(spec.Name)
		if exists {
			if existing.Type != spec.Type {
				return Table{}, newErr("AddColumns", KindFieldTypeMismatch, nil)
			}
			continue // no-op: identical redefinition
		}
		if spec.Type == ColumnTag {
			tagCount++
			if tagCount > c.limits.MaxTagColumnsPerTable {
				return Table{}, limitErr("AddColumns", KindTooManyTagColumns, tagCount, c.limits.MaxTagColumnsPerTable)
			}
		} else if spec.Type.IsField() {
			fieldCount++
			if fieldCount > c.limits.MaxFieldColumnsPerTable {
				return Table{}, limitErr("AddColumns", KindTooManyFieldColumns, fieldCount, c.limits.MaxFieldColumnsPerTable)
			}
		}
		toAdd = append(toAdd, spec)
	}
	if len(toAdd) == 0 {
		return table, nil
	}

	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		db, _ := c.GetDatabaseByID(dbID)
		table, _ := db.Tables.Get(tableID)
		nextID := table.Columns.NextID()
		var ops []Op
		for _, spec := range toAdd {
			ops = append(ops, OpAddColumn{TableID: tableID, ID: nextID, Name: spec.Name, Type: spec.Type, Nullable: spec.Nullable})
			nextID++
		}
		return newBatch(BatchDatabase, dbID, ops...), nil
	})
	if err != nil {
		return Table{}, err
	}
	db, _ = c.GetDatabaseByID(dbID)
	table, _ = db.Tables.Get(tableID)
	return table, nil
}

// CreateLastCache validates and registers a last-value cache on table.
// Key columns must be a subset of the table's series key.
func (c *Catalog) CreateLastCache(ctx context.Context, dbID DbID, tableID TableID, def LastCacheDef) error {
	db, ok := c.GetDatabaseByID(dbID)
	if !ok {
		return newErr("CreateLastCache", KindNotFound, nil)
	}
	table, ok := db.Tables.Get(tableID)
	if !ok {
		return newErr("CreateLastCache", KindNotFound, nil)
	}
	if !columnsSubsetOf(def.KeyColumns, table.SeriesKey) {
		return newErr("CreateLastCache", KindInvalidConfiguration, nil)
	}
	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchDatabase, dbID, OpCreateLastCache{TableID: tableID, Def: def}), nil
	})
	return err
}

// CreateDistinctCache validates and registers a distinct-value cache.
// MaxCardinality must be positive, and key columns must be a subset of
// the series key, same as CreateLastCache.
func (c *Catalog) CreateDistinctCache(ctx context.Context, dbID DbID, tableID TableID, def DistinctCacheDef) error {
	db, ok := c.GetDatabaseByID(dbID)
	if !ok {
		return newErr("CreateDistinctCache", KindNotFound, nil)
	}
	table, ok := db.Tables.Get(tableID)
	if !ok {
		return newErr("CreateDistinctCache", KindNotFound, nil)
	}
	if def.MaxCardinality <= 0 {
		return newErr("CreateDistinctCache", KindInvalidConfiguration, nil)
	}
	if !columnsSubsetOf(def.KeyColumns, table.SeriesKey) {
		return newErr("CreateDistinctCache", KindInvalidConfiguration, nil)
	}
	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchDatabase, dbID, OpCreateDistinctCache{TableID: tableID, Def: def}), nil
	})
	return err
}

func columnsSubsetOf(keys, seriesKey []ColumnID) bool {
	set := make(map[ColumnID]bool, len(seriesKey))
	for _, id := range seriesKey {
		set[id] = true
	}
	for _, k := range keys {
		if !set[k] {
			return false
		}
	}
	return true
}

// CreateTrigger registers a new trigger in state Disabled.
func (c *Catalog) CreateTrigger(ctx context.Context, dbID DbID, name string) (TriggerID, error) {
	db, ok := c.GetDatabaseByID(dbID)
	if !ok {
		return 0, newErr("CreateTrigger", KindNotFound, nil)
	}
	if _, _, exists := db.Triggers.GetByName(name); exists {
		return 0, newErr("CreateTrigger", KindAlreadyExists, nil)
	}

	ordered, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		db, _ := c.GetDatabaseByID(dbID)
		id := db.Triggers.NextID()
		return newBatch(BatchDatabase, dbID, OpCreateTrigger{TableID: 0, ID: id, Name: name}), nil
	})
	if err != nil {
		return 0, err
	}
	return ordered.Batch.Ops[0].(OpCreateTrigger).ID, nil
}

// EnableTrigger transitions a trigger Disabled -> Enabled.
func (c *Catalog) EnableTrigger(ctx context.Context, dbID DbID, id TriggerID) error {
	return c.transitionTrigger(ctx, dbID, id, TriggerDisabled, OpEnableTrigger{ID: id})
}

// DisableTrigger transitions a trigger Enabled -> Disabled.
func (c *Catalog) DisableTrigger(ctx context.Context, dbID DbID, id TriggerID) error {
	return c.transitionTrigger(ctx, dbID, id, TriggerEnabled, OpDisableTrigger{ID: id})
}

// DeleteTrigger transitions a trigger to Deleted; only legal from
// Disabled.
func (c *Catalog) DeleteTrigger(ctx context.Context, dbID DbID, id TriggerID) error {
	return c.transitionTrigger(ctx, dbID, id, TriggerDisabled, OpDeleteTrigger{ID: id})
}

func (c *Catalog) transitionTrigger(ctx context.Context, dbID DbID, id TriggerID, requiredState TriggerState, op Op) error {
	db, ok := c.GetDatabaseByID(dbID)
	if !ok {
		return newErr("transitionTrigger", KindNotFound, nil)
	}
	t, ok := db.Triggers.Get(id)
	if !ok {
		return newErr("transitionTrigger", KindNotFound, nil)
	}
	if t.State != requiredState {
		return newErr("transitionTrigger", KindInvalidConfiguration, nil)
	}
	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchDatabase, dbID, op), nil
	})
	return err
}

// SoftDeleteDatabase renames db to "<name>-<UTC timestamp>" and marks it
// deleted. A second Default soft-delete after one is already scheduled
// is a no-op that reports AlreadyDeleted.
func (c *Catalog) SoftDeleteDatabase(ctx context.Context, dbID DbID, hardTime HardDeleteSelector) error {
	db, ok := c.GetDatabaseByID(dbID)
	if !ok {
		return newErr("SoftDeleteDatabase", KindNotFound, nil)
	}
	if db.Deleted && hardTime.Kind == HardDeleteDefault && db.HardDeleteTime != nil {
		return ErrAlreadyDeleted
	}

	renameTo := db.Name
	if !db.Deleted {
		renameTo = softDeleteName(db.Name, time.Now().UTC())
	}

	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchDatabase, dbID, OpSoftDeleteDatabase{ID: dbID, RenameTo: renameTo, HardTime: hardTime}), nil
	})
	return err
}

// SoftDeleteTable is SoftDeleteDatabase's table-scoped counterpart.
func (c *Catalog) SoftDeleteTable(ctx context.Context, dbID DbID, tableID TableID, hardTime HardDeleteSelector) error {
	db, ok := c.GetDatabaseByID(dbID)
	if !ok {
		return newErr("SoftDeleteTable", KindNotFound, nil)
	}
	table, ok := db.Tables.Get(tableID)
	if !ok {
		return newErr("SoftDeleteTable", KindNotFound, nil)
	}
	if table.Deleted && hardTime.Kind == HardDeleteDefault && table.HardDeleteTime != nil {
		return ErrAlreadyDeleted
	}

	renameTo := table.Name
	if !table.Deleted {
		renameTo = softDeleteName(table.Name, time.Now().UTC())
	}

	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchDatabase, dbID, OpSoftDeleteTable{TableID: tableID, RenameTo: renameTo, HardTime: hardTime}), nil
	})
	return err
}

func softDeleteName(name string, at time.Time) string {
	return name + "-" + at.Format("20060102T150405")
}

// HardDeleteDatabase removes db from the catalog entirely. The reserved
// internal database can never be hard-deleted.
func (c *Catalog) HardDeleteDatabase(ctx context.Context, dbID DbID) error {
	db, ok := c.GetDatabaseByID(dbID)
	if !ok {
		return newErr("HardDeleteDatabase", KindNotFound, nil)
	}
	if db.Name == InternalDatabaseName {
		return ErrCannotDeleteInternalDatabase
	}
	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchDelete, 0, OpDeleteDatabase{ID: dbID}), nil
	})
	return err
}

// HardDeleteTable removes a table entirely from its database.
func (c *Catalog) HardDeleteTable(ctx context.Context, tableID TableID) error {
	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchDelete, 0, OpDeleteTable{TableID: tableID}), nil
	})
	return err
}

// SetRetention sets db's retention policy.
func (c *Catalog) SetRetention(ctx context.Context, dbID DbID, r Retention) error {
	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchDatabase, dbID, OpSetRetention{Retention: r}), nil
	})
	return err
}

// ClearRetention resets db's retention to Indefinite.
func (c *Catalog) ClearRetention(ctx context.Context, dbID DbID) error {
	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchDatabase, dbID, OpClearRetention{}), nil
	})
	return err
}

// SetGenerationDuration sets the immutable duration for level. Re-setting
// the same value is a no-op; a different value is rejected with
// CannotChangeGenerationDuration.
func (c *Catalog) SetGenerationDuration(ctx context.Context, level Generation, d time.Duration) error {
	c.mu.RLock()
	existing, has := c.genDurations[level]
	c.mu.RUnlock()
	if has {
		if existing == d {
			return nil
		}
		return newErr("SetGenerationDuration", KindCannotChangeGenerationDuration, nil)
	}
	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchGeneration, 0, OpSetGenerationDuration{Level: level, Duration: d}), nil
	})
	return err
}

// GenerationDuration returns the configured duration for level, if set.
func (c *Catalog) GenerationDuration(level Generation) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.genDurations[level]
	return d, ok
}

// CreateAdminToken creates the reserved _admin operator token. It fails
// with TokenNameAlreadyExists if one has already been created; use
// RegenerateAdminToken to rotate it instead.
func (c *Catalog) CreateAdminToken(ctx context.Context) (plaintext string, token Token, err error) {
	return c.CreateNamedAdminToken(ctx, AdminTokenName)
}

// CreateNamedAdminToken creates an admin-privileged token under a
// caller-chosen name. Unlike the reserved _admin token these can be
// deleted once no longer needed.
func (c *Catalog) CreateNamedAdminToken(ctx context.Context, name string) (plaintext string, token Token, err error) {
	if _, ok := c.tokens.getByName(name); ok {
		return "", Token{}, ErrTokenNameAlreadyExists
	}
	plaintext, hash, err := GeneratePlaintext()
	if err != nil {
		return "", Token{}, newErr("CreateNamedAdminToken", KindUnknown, err)
	}

	ordered, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		if _, ok := c.tokens.getByName(name); ok {
			return CatalogBatch{}, ErrTokenNameAlreadyExists
		}
		id := c.tokens.peekNextID()
		return newBatch(BatchToken, 0, OpCreateToken{
			ID:        id,
			Name:      name,
			Hash:      hash,
			CreatedAt: time.Now().UTC(),
			IsAdmin:   true,
		}), nil
	})
	if err != nil {
		return "", Token{}, err
	}
	t, _ := c.tokens.get(ordered.Batch.Ops[0].(OpCreateToken).ID)
	return plaintext, t, nil
}

// CreateScopedToken creates a non-admin token restricted to permissions.
func (c *Catalog) CreateScopedToken(ctx context.Context, name string, permissions []Permission) (plaintext string, token Token, err error) {
	if _, ok := c.tokens.getByName(name); ok {
		return "", Token{}, ErrTokenNameAlreadyExists
	}
	plaintext, hash, err := GeneratePlaintext()
	if err != nil {
		return "", Token{}, newErr("CreateScopedToken", KindUnknown, err)
	}

	ordered, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		if _, ok := c.tokens.getByName(name); ok {
			return CatalogBatch{}, ErrTokenNameAlreadyExists
		}
		id := c.tokens.peekNextID()
		return newBatch(BatchToken, 0, OpCreateToken{
			ID:          id,
			Name:        name,
			Hash:        hash,
			CreatedAt:   time.Now().UTC(),
			Permissions: permissions,
		}), nil
	})
	if err != nil {
		return "", Token{}, err
	}
	t, _ := c.tokens.get(ordered.Batch.Ops[0].(OpCreateToken).ID)
	return plaintext, t, nil
}

// RegenerateAdminToken mints a fresh plaintext/hash pair for an existing
// token, invalidating its previous plaintext immediately.
func (c *Catalog) RegenerateAdminToken(ctx context.Context, id TokenID) (plaintext string, err error) {
	if _, ok := c.tokens.get(id); !ok {
		return "", newErr("RegenerateAdminToken", KindNotFound, nil)
	}
	plaintext, hash, err := GeneratePlaintext()
	if err != nil {
		return "", newErr("RegenerateAdminToken", KindUnknown, err)
	}
	_, err = c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchToken, 0, OpRegenerateToken{ID: id, Hash: hash, UpdatedAt: time.Now().UTC()}), nil
	})
	if err != nil {
		return "", err
	}
	return plaintext, nil
}

// DeleteToken soft-deletes a token. The reserved _admin token can never
// be deleted.
func (c *Catalog) DeleteToken(ctx context.Context, id TokenID) error {
	t, ok := c.tokens.get(id)
	if !ok {
		return newErr("DeleteToken", KindNotFound, nil)
	}
	if t.Name == AdminTokenName {
		return ErrCannotDeleteOperatorToken
	}
	_, err := c.withRetry(ctx, func(observed CatalogSequenceNumber) (CatalogBatch, error) {
		return newBatch(BatchToken, 0, OpDeleteToken{ID: id}), nil
	})
	return err
}

// Authenticate looks up the token whose plaintext hashes to hash.
func (c *Catalog) Authenticate(hash [64]byte) (Token, bool) {
	return c.tokens.Authenticate(hash)
}

// GetToken returns a token by id.
func (c *Catalog) GetToken(id TokenID) (Token, bool) {
	return c.tokens.get(id)
}

// ListTokens returns every token, including soft-deleted ones.
func (c *Catalog) ListTokens() []Token {
	return c.tokens.list()
}
