// Package catalogevents fans out applied catalog batches to interested
// subscribers — currently the cataloglog Checkpointer — without making
// pkg/catalog depend on any of them.
//
// A buffered intake channel feeds a single broadcast goroutine, with one
// buffered channel per subscriber so a slow reader can't stall Publish.
// Every applied CatalogBatch already carries everything a subscriber
// needs, so the Bus is just catalog.Publisher wired to per-subscriber
// fan-out. A dropped event would be invisible data loss for a component
// tracking catalog state, so instead each subscriber channel carries a
// Lagged count: the next event delivered to a subscriber that missed N
// batches reports N, letting it resynchronize (typically by re-reading
// the catalog directly) instead of silently drifting stale.
package catalogevents
