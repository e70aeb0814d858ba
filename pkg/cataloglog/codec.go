package cataloglog

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/cuemby/chronicle/pkg/catalog"
)

// envelopeVersion is the version tag stamped into every encoded batch
// record. It is bumped only if the wire shape changes in a way old
// readers can't decode.
const envelopeVersion uint16 = 1

func init() {
	gob.Register(catalog.OpCreateNode{})
	gob.Register(catalog.OpNodeRunning{})
	gob.Register(catalog.OpNodeStopped{})
	gob.Register(catalog.OpCreateDatabase{})
	gob.Register(catalog.OpCreateTable{})
	gob.Register(catalog.OpAddColumn{})
	gob.Register(catalog.OpCreateLastCache{})
	gob.Register(catalog.OpCreateDistinctCache{})
	gob.Register(catalog.OpCreateTrigger{})
	gob.Register(catalog.OpEnableTrigger{})
	gob.Register(catalog.OpDisableTrigger{})
	gob.Register(catalog.OpDeleteTrigger{})
	gob.Register(catalog.OpSoftDeleteDatabase{})
	gob.Register(catalog.OpSoftDeleteTable{})
	gob.Register(catalog.OpSetRetention{})
	gob.Register(catalog.OpClearRetention{})
	gob.Register(catalog.OpDeleteDatabase{})
	gob.Register(catalog.OpDeleteTable{})
	gob.Register(catalog.OpSetGenerationDuration{})
	gob.Register(catalog.OpCreateToken{})
	gob.Register(catalog.OpRegenerateToken{})
	gob.Register(catalog.OpDeleteToken{})
}

// envelope is the on-the-wire shape of one log record: {version, kind,
// time_ns, ops}, gob-encoded for byte-stable, content-addressable output
// given the same input — gob's deterministic field order for a fixed,
// registered type set gives that for free, where a JSON encoding (subject
// to map key ordering) would not.
type envelope struct {
	Version uint16
	Kind    catalog.BatchKind
	TimeNS  int64
	DbID    catalog.DbID
	Ops     []catalog.Op
}

// Encode serializes batch into the versioned binary envelope.
func Encode(batch catalog.CatalogBatch) ([]byte, error) {
	env := envelope{Version: envelopeVersion, Kind: batch.Kind, TimeNS: batch.TimeNS, DbID: batch.DbID, Ops: batch.Ops}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("cataloglog: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a binary envelope back into a CatalogBatch.
func Decode(data []byte) (catalog.CatalogBatch, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return catalog.CatalogBatch{}, fmt.Errorf("cataloglog: decode: %w", err)
	}
	if env.Version != envelopeVersion {
		return catalog.CatalogBatch{}, fmt.Errorf("cataloglog: decode: unsupported envelope version %d", env.Version)
	}
	return catalog.CatalogBatch{Kind: env.Kind, TimeNS: env.TimeNS, DbID: env.DbID, Ops: env.Ops}, nil
}
