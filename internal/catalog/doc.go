// Package catalog maintains the version-indexed vehicle catalog used to
// resolve vehicle codes found in match captures.
//
// Each game release contributes one immutable Snapshot whose entries carry the
// battle ratings, class, and premium status in force for that release. The
// Manager keeps snapshots ordered by their effective-from instant so a match is
// always evaluated against the catalog that was live when it was played, not
// the newest one. Snapshots come from the external datamine feed (Feed), are
// persisted in a disk cache (DiskCache), and release dates live in a JSON
// release index (ReleaseIndex).
package catalog
