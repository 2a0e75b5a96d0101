package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/filter"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Change-version indexes for incremental sync
const currentSchemaVersion = 1

// DriverName is the database/sql driver Open uses: go-sqlite3 with
// storage.FoldFunc registered on every connection.
const DriverName = "sqlite3_contacts"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) error {
			return c.RegisterFunc(storage.FoldFunc, foldText, true)
		},
	})
}

// foldText backs storage.FoldFunc. NULL arrives as a nil []byte.
func foldText(v any) any {
	if s, ok := v.(string); ok {
		return filter.Fold(s)
	}
	return nil
}

// Store is the SQLite implementation of storage.Engine.
type Store struct {
	db   *sql.DB
	path string
}

var _ storage.Engine = (*Store)(nil)

type options struct {
	maxOpenConns int
	busyTimeout  time.Duration
}

// Option configures Open.
type Option func(*options)

// WithMaxOpenConns bounds the connection pool. One connection is pinned by
// each open atomic unit, so the pool must allow at least two for readers
// to proceed while a transaction is active.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}

// DefaultBusyTimeout is kept short so lock waits are paced by the
// transaction retry policy rather than inside SQLite.
const DefaultBusyTimeout = 50 * time.Millisecond

// WithBusyTimeout sets how long SQLite itself waits on a lock before
// reporting BUSY.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.busyTimeout = d
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{maxOpenConns: 4, busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	// Per-connection pragmas go in the DSN so every pooled connection
	// gets them, not just the first one.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on&_synchronous=NORMAL",
		path, o.busyTimeout.Milliseconds())
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	slog.Info("store opened", "path", path, "max_open_conns", o.maxOpenConns, "busy_timeout", o.busyTimeout)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Execute.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Execute runs one statement on the pool.
func (s *Store) Execute(ctx context.Context, st storage.Statement) (*storage.Result, error) {
	return execute(ctx, s.db, st)
}

// Transient reports whether err is a lock conflict.
func (s *Store) Transient(err error) bool {
	return errs.Is(err, errs.Locked)
}

// BeginAtomic pins a connection and starts an IMMEDIATE transaction on it.
func (s *Store) BeginAtomic(ctx context.Context) (storage.Atomic, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, classify("store.begin", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		conn.Close()
		return nil, classify("store.begin", err)
	}
	return &atomicUnit{conn: conn}, nil
}

// EnsureTables creates the tables of views that are not part of the
// built-in schema. Columns are derived from property types; the key
// becomes the INTEGER PRIMARY KEY.
func (s *Store) EnsureTables(ctx context.Context, views ...*schema.View) error {
	for _, v := range views {
		if _, err := s.db.ExecContext(ctx, tableDDL(v)); err != nil {
			return classify("store.ensure_tables", fmt.Errorf("view %q: %w", v.Name, err))
		}
	}
	return nil
}

func tableDDL(v *schema.View) string {
	var cols []string
	for _, p := range v.Properties() {
		if p.Type == schema.TypeRecord {
			continue
		}
		col := storage.QuoteIdent(p.Column) + " " + columnType(p.Type)
		if p.ID == v.Key {
			col += " PRIMARY KEY AUTOINCREMENT"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", storage.QuoteIdent(v.Table), strings.Join(cols, ", "))
}

func columnType(t schema.Type) string {
	switch t {
	case schema.TypeString:
		return "TEXT"
	case schema.TypeDouble:
		return "REAL"
	}
	return "INTEGER"
}

type atomicUnit struct {
	conn *sql.Conn
	done bool
}

func (a *atomicUnit) Execute(ctx context.Context, st storage.Statement) (*storage.Result, error) {
	if a.done {
		return nil, errs.New(errs.InvalidState, "store.execute", "atomic unit already finished")
	}
	return execute(ctx, a.conn, st)
}

// Commit issues COMMIT. On failure the unit stays open.
func (a *atomicUnit) Commit(ctx context.Context) error {
	if a.done {
		return errs.New(errs.InvalidState, "store.commit", "atomic unit already finished")
	}
	if _, err := a.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return classify("store.commit", err)
	}
	a.done = true
	return a.conn.Close()
}

// Rollback issues ROLLBACK and releases the connection. A connection whose
// rollback failed is discarded rather than returned to the pool.
func (a *atomicUnit) Rollback(ctx context.Context) error {
	if a.done {
		return nil
	}
	a.done = true
	_, err := a.conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
	if err != nil {
		_ = a.conn.Raw(func(any) error { return driver.ErrBadConn })
		a.conn.Close()
		return classify("store.rollback", err)
	}
	return a.conn.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execute(ctx context.Context, q queryer, st storage.Statement) (*storage.Result, error) {
	if st.Kind == storage.Mutate {
		res, err := q.ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return nil, classify("store.exec", err)
		}
		out := &storage.Result{}
		out.RowsAffected, _ = res.RowsAffected()
		out.LastInsertID, _ = res.LastInsertId()
		return out, nil
	}

	rows, err := q.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, classify("store.query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify("store.query", err)
	}
	out := &storage.Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify("store.query", err)
		}
		for i, v := range vals {
			// TEXT may come back as []byte depending on the declared type.
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("store.query", err)
	}
	return out, nil
}

// classify maps a driver error onto an errs code.
func classify(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errs.Wrap(errs.Locked, op, err)
		case sqlite3.ErrNomem:
			return errs.Wrap(errs.OutOfMemory, op, err)
		case sqlite3.ErrConstraint:
			switch se.ExtendedCode {
			case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
				return errs.Wrap(errs.AlreadyExists, op, err)
			}
			return errs.Wrap(errs.InvalidArgument, op, err)
		}
	}
	var ee *errs.Error
	if errors.As(err, &ee) {
		return err
	}
	return errs.Wrap(errs.Io, op, err)
}

// applyPragmas sets database-wide SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes changed_ver on the synced tables and deleted_ver on
// the tombstone table, which ChangesSince scans.
func migrateToV1(db *sql.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_contacts_changed_ver ON contacts(changed_ver)",
		"CREATE INDEX IF NOT EXISTS idx_groups_changed_ver ON contact_groups(changed_ver)",
		"CREATE INDEX IF NOT EXISTS idx_phone_logs_changed_ver ON phone_logs(changed_ver)",
		"CREATE INDEX IF NOT EXISTS idx_deleted_records_ver ON deleted_records(deleted_ver)",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
