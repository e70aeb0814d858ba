// Package cataloglog persists the catalog's append-only batch sequence
// and periodic checkpoints to an objstore.Store, and replays them on
// startup. A single process owns the write permit, so there is one log
// writer, never a quorum of them; conflicting writers on the same
// sequence are resolved by the object store's conditional put.
package cataloglog
