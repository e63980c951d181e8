// Package store persists correlated match records keyed by match id.
//
// The default backend is SQLite (modernc.org/sqlite). A PostgreSQL backend
// built on pgxpool is selected with store.driver = "postgres". Both make the
// check-and-insert atomic with INSERT ... ON CONFLICT, so concurrent workers
// can call Put without further coordination.
//
// A bloom filter seeded from the stored ids sits in front of the database.
// A negative answer lets Put go straight to the insert; a positive answer is
// confirmed with a read before any write is attempted.
package store
