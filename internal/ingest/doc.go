// Package ingest runs the batch pipeline: discover captures, normalize them,
// correlate against the vehicle catalog, store with deduplication, and write
// new or replaced records to the corpus.
//
// Loading, normalizing, and correlating run on a worker pool. Results are
// committed on one goroutine in a fixed order: replays before scrapes, each by
// path. A match id is written at most once per run, and a stored record the
// corpus lost is written back when its capture is seen again.
//
// Per-capture problems are counted and reported but never stop a run. Only
// store and corpus I/O failures are fatal. A lock file next to the database
// keeps two runs from interleaving against the same store.
package ingest
