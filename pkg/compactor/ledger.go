package compactor

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketInFlight = []byte("jobs_in_flight")

// Ledger durably records which compaction jobs have started but not yet
// committed their fileindex swap: one bucket, JSON values, Update/View
// transactions, used as a single-bucket "in flight" marker. A crash
// between writing output Parquet files and swapping the
// index leaves an entry behind; executeJob checks Pending and refuses
// (with an error) any later job for the same (db, table, source
// generation) while that entry remains, avoiding a double-run that would
// register the same outputs twice. Only Commit removes an entry.
type Ledger struct {
	db *bolt.DB
}

// OpenLedger opens (creating if absent) the ledger database under
// dataDir.
func OpenLedger(dataDir string) (*Ledger, error) {
	path := filepath.Join(dataDir, "compactor.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("compactor: opening ledger: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketInFlight)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("compactor: initializing ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// entry is the durable record for one in-flight job.
type entry struct {
	DbID     uint64
	TableID  uint64
	Source   int
	Target   int
	InputIDs []uint64
}

func jobKey(j job) []byte {
	return []byte(fmt.Sprintf("%d/%d/%d", j.DbID, j.Table.ID, j.Source))
}

// Begin records j as started, before any output is written.
func (l *Ledger) Begin(j job) error {
	e := entry{DbID: uint64(j.DbID), TableID: uint64(j.Table.ID), Source: int(j.Source), Target: int(j.Target)}
	for _, f := range j.Inputs {
		e.InputIDs = append(e.InputIDs, f.ID)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInFlight).Put(jobKey(j), data)
	})
}

// Commit clears j's in-flight marker once its index swap has landed.
func (l *Ledger) Commit(j job) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInFlight).Delete(jobKey(j))
	})
}

// Pending reports whether a job is already recorded in flight for the
// same (db, table, source generation), so executeJob can refuse to run
// it again while the entry remains.
func (l *Ledger) Pending(j job) (bool, error) {
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketInFlight).Get(jobKey(j)) != nil
		return nil
	})
	return found, err
}
