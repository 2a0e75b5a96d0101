// Package storage defines the narrow contract between the engine and the
// persistent row store.
//
// The engine never sees tables or connections. It hands opaque statements
// (built by the SQL compiler and the view plugins) to an Executor and
// reads back rows. Atomic units give it commit and rollback; Transient
// tells the transaction manager which failures are worth retrying.
package storage

import (
	"context"
	"strings"
)

// Kind distinguishes row-returning statements from mutations.
type Kind int

const (
	// Select returns rows.
	Select Kind = iota
	// Mutate changes rows and reports the affected count and last insert id.
	Mutate
)

// Statement is one parameterized statement.
type Statement struct {
	Kind Kind
	SQL  string
	Args []any
}

// Query returns a Select statement.
func Query(sql string, args ...any) Statement {
	return Statement{Kind: Select, SQL: sql, Args: args}
}

// Exec returns a Mutate statement.
func Exec(sql string, args ...any) Statement {
	return Statement{Kind: Mutate, SQL: sql, Args: args}
}

// Result is the outcome of a statement. Rows hold driver values in
// column order.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	LastInsertID int64
}

// Executor runs statements.
type Executor interface {
	Execute(ctx context.Context, st Statement) (*Result, error)
}

// Atomic is an open storage-level atomic unit. After Commit succeeds or
// Rollback is called the unit is finished. A failed Commit leaves the unit
// open so that it can be retried or rolled back.
type Atomic interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Engine is the storage collaborator.
type Engine interface {
	Executor

	// BeginAtomic opens an atomic unit. Lock conflicts are reported as
	// errors for which Transient returns true.
	BeginAtomic(ctx context.Context) (Atomic, error)

	// Transient reports whether err is a lock conflict worth retrying.
	Transient(err error) bool
}

// FoldFunc names the SQL function engines provide for case-insensitive
// string matching. It returns filter.Fold of a TEXT argument and NULL for
// anything else.
const FoldFunc = "contacts_fold"

// Fold wraps an SQL expression in FoldFunc.
func Fold(expr string) string {
	return FoldFunc + "(" + expr + ")"
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
