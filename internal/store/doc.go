// Package store is the SQLite storage collaborator of the contacts engine.
//
// It implements storage.Engine on top of database/sql and
// github.com/mattn/go-sqlite3:
//   - Execute runs one parameterized statement on the connection pool
//   - BeginAtomic pins a connection and issues BEGIN IMMEDIATE, so the
//     write lock is taken up front and conflicts surface as Locked
//   - Commit may be retried after a Locked failure; Rollback always
//     releases the connection
//
// # Database Configuration
//
//   - WAL mode: readers do not block the writer
//   - synchronous=NORMAL
//   - busy_timeout: configurable, 50ms by default so txn retries do
//     the waiting
//   - foreign_keys=ON: child rows cascade with their contact
//
// Driver errors are mapped onto errs codes: BUSY and LOCKED become
// Locked, unique and primary-key violations AlreadyExists, other
// constraint violations InvalidArgument, NOMEM OutOfMemory, and anything
// else Io.
package store
