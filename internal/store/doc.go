// Package store provides persistent storage for the chat gateway using SQLite.
//
// # Interfaces
//
//   - RecordStore: JSON record bodies per collection, the hub's Persister
//   - AccountStore: login accounts with bcrypt password hashes
//   - Store: both, plus Close
//
// SQLiteStore implements Store in a single struct. MockStore is an in-memory
// implementation with the same ordering and uniqueness rules, for tests.
//
// # Records
//
// A record is keyed by (collection, id). Saving an existing key replaces the
// body but keeps the record's original position, so LoadRecords returns
// bodies in first-insert order.
//
// # Accounts
//
// Emails are normalized with NormalizeEmail before storage and lookup and
// are unique. CreateAccount returns ErrEmailExists on a duplicate; lookups
// return ErrNotFound for unknown ids and emails.
//
// # SQLite Configuration
//
// File databases run in WAL mode with a busy timeout. ":memory:" opens a
// private in-memory database limited to one connection. The schema is
// created on open and column migrations are idempotent.
package store
