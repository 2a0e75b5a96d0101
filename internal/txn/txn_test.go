package txn

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contactsd/internal/errs"
	"github.com/roach88/contactsd/internal/metrics"
	"github.com/roach88/contactsd/internal/storage"
	"github.com/roach88/contactsd/internal/store"
)

type flushRecorder struct {
	flushes [][]string
}

func (f *flushRecorder) Flush(views []string) {
	f.flushes = append(f.flushes, views)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func openStore(t *testing.T, path string, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *flushRecorder) {
	t.Helper()
	s := openStore(t, filepath.Join(t.TempDir(), "txn.db"))
	n := &flushRecorder{}
	return New(s, n, WithRetry(fastRetry())), s, n
}

func version(t *testing.T, m *Manager) int {
	t.Helper()
	v, err := m.Version(context.Background())
	require.NoError(t, err)
	return v
}

func insertBook(t *testing.T, s *Session, name string) {
	t.Helper()
	_, err := s.Executor().Execute(context.Background(), storage.Exec("INSERT INTO address_books (name) VALUES (?)", name))
	require.NoError(t, err)
}

func countBooks(t *testing.T, st *store.Store) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB().QueryRow("SELECT COUNT(*) FROM address_books").Scan(&n))
	return n
}

func TestCommit_BumpsVersionOnceForManyMutations(t *testing.T) {
	m, st, n := newTestManager(t)
	ctx := context.Background()
	s := m.Session()

	require.NoError(t, s.Begin(ctx))
	next, err := s.NextVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	insertBook(t, s, "a")
	insertBook(t, s, "b")
	insertBook(t, s, "c")
	require.NoError(t, s.MarkChanged("address_book"))
	require.NoError(t, s.End(ctx, true))

	assert.Equal(t, 1, version(t, m))
	assert.Equal(t, 3, countBooks(t, st))
	assert.Equal(t, [][]string{{"address_book"}}, n.flushes)
	assert.False(t, s.Active())
}

func TestCommit_WithoutMutationsStillBumps(t *testing.T) {
	m, _, n := newTestManager(t)
	ctx := context.Background()
	s := m.Session()

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.End(ctx, true))
	assert.Equal(t, 1, version(t, m))
	assert.Empty(t, n.flushes)
}

func TestRollback_LeavesStateAndVersionUnchanged(t *testing.T) {
	m, st, n := newTestManager(t)
	ctx := context.Background()
	s := m.Session()

	require.NoError(t, s.Begin(ctx))
	insertBook(t, s, "kept")
	require.NoError(t, s.End(ctx, true))

	require.NoError(t, s.Begin(ctx))
	insertBook(t, s, "dropped")
	require.NoError(t, s.MarkChanged("address_book"))
	require.NoError(t, s.End(ctx, false))

	assert.Equal(t, 1, version(t, m))
	assert.Equal(t, 1, countBooks(t, st))
	assert.Len(t, n.flushes, 1, "rolled back changes must not notify")
}

func TestRollback_ContactNoteRestored(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()
	_, err := st.DB().Exec(`INSERT INTO address_books (id, name) VALUES (1, 'local')`)
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO contacts (id, address_book_id, note) VALUES (5, 1, 'before')`)
	require.NoError(t, err)

	s := m.Session()
	require.NoError(t, s.Begin(ctx))
	_, err = s.Executor().Execute(ctx, storage.Exec("UPDATE contacts SET note = ? WHERE id = 5", "x"))
	require.NoError(t, err)
	require.NoError(t, s.MarkChanged("contact"))
	require.NoError(t, s.End(ctx, false))

	res, err := m.Engine().Execute(ctx, storage.Query("SELECT note FROM contacts WHERE id = 5"))
	require.NoError(t, err)
	assert.Equal(t, "before", res.Rows[0][0])
}

func TestNested_SingleIncrementAndFlush(t *testing.T) {
	m, st, n := newTestManager(t)
	ctx := context.Background()
	s := m.Session()

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.Begin(ctx))
	assert.Equal(t, 2, s.Depth())
	insertBook(t, s, "inner")
	require.NoError(t, s.MarkChanged("address_book"))
	require.NoError(t, s.MarkChanged("address_book"))
	require.NoError(t, s.End(ctx, true))

	assert.Equal(t, 0, version(t, m), "inner end must not commit")
	assert.Empty(t, n.flushes)

	require.NoError(t, s.MarkChanged("contact"))
	require.NoError(t, s.End(ctx, true))

	assert.Equal(t, 1, version(t, m))
	assert.Equal(t, 1, countBooks(t, st))
	assert.Equal(t, [][]string{{"address_book", "contact"}}, n.flushes)
}

func TestEnd_WithoutBegin(t *testing.T) {
	m, _, _ := newTestManager(t)
	s := m.Session()

	err := s.End(context.Background(), true)
	assert.True(t, errs.Is(err, errs.NoActiveTransaction))
	assert.Equal(t, 0, s.Depth())

	_, err = s.NextVersion()
	assert.True(t, errs.Is(err, errs.NoActiveTransaction))
	assert.True(t, errs.Is(s.MarkChanged("contact"), errs.NoActiveTransaction))
}

func TestExecutor_IdleUsesEngine(t *testing.T) {
	m, st, _ := newTestManager(t)
	s := m.Session()
	assert.Same(t, st, s.Executor())

	require.NoError(t, s.Begin(context.Background()))
	assert.NotSame(t, st, s.Executor())
	s.Abort(context.Background())
	assert.Equal(t, 0, s.Depth())
	assert.Same(t, st, s.Executor())
}

func TestSessionsAreIndependent(t *testing.T) {
	m, _, _ := newTestManager(t)
	a, b := m.Session(), m.Session()

	require.NoError(t, a.Begin(context.Background()))
	assert.False(t, b.Active())
	assert.True(t, errs.Is(b.End(context.Background(), true), errs.NoActiveTransaction))
	require.NoError(t, a.End(context.Background(), true))
}

func TestBegin_LockedAfterRetryBudget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.db")
	holder := openStore(t, path, store.WithBusyTimeout(0))
	waiter := openStore(t, path, store.WithBusyTimeout(0))
	ctx := context.Background()

	hs := New(holder, nil).Session()
	require.NoError(t, hs.Begin(ctx))
	defer hs.Abort(ctx)

	mt := metrics.Unregistered()
	ws := New(waiter, nil, WithRetry(fastRetry()), WithMetrics(mt)).Session()
	err := ws.Begin(ctx)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Locked), "got %v", err)
	assert.False(t, ws.Active())
	assert.Equal(t, 2.0, testutil.ToFloat64(mt.Retries.WithLabelValues("begin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.LockFailures.WithLabelValues("begin")))
}

func TestBegin_SucceedsOnceLockReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release.db")
	holder := openStore(t, path, store.WithBusyTimeout(0))
	waiter := openStore(t, path, store.WithBusyTimeout(0))
	ctx := context.Background()

	hs := New(holder, nil).Session()
	require.NoError(t, hs.Begin(ctx))

	ws := New(waiter, nil, WithRetry(RetryPolicy{Attempts: 50, Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2})).Session()
	done := make(chan error, 1)
	go func() { done <- ws.Begin(ctx) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, hs.End(ctx, true))

	require.NoError(t, <-done)
	require.NoError(t, ws.End(ctx, true))

	v, err := New(waiter, nil).Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

// fakeEngine scripts commit outcomes for the commit-path tests.
type fakeEngine struct {
	commitErrs []error
	unit       *fakeUnit
}

type fakeUnit struct {
	engine     *fakeEngine
	commits    int
	rolledBack bool
	statements []storage.Statement
}

func (e *fakeEngine) Execute(context.Context, storage.Statement) (*storage.Result, error) {
	return &storage.Result{Rows: [][]any{{int64(7)}}}, nil
}

func (e *fakeEngine) BeginAtomic(context.Context) (storage.Atomic, error) {
	e.unit = &fakeUnit{engine: e}
	return e.unit, nil
}

func (e *fakeEngine) Transient(err error) bool {
	return errs.Is(err, errs.Locked)
}

func (u *fakeUnit) Execute(_ context.Context, st storage.Statement) (*storage.Result, error) {
	u.statements = append(u.statements, st)
	return &storage.Result{Rows: [][]any{{int64(7)}}}, nil
}

func (u *fakeUnit) Commit(context.Context) error {
	u.commits++
	if len(u.engine.commitErrs) > 0 {
		err := u.engine.commitErrs[0]
		u.engine.commitErrs = u.engine.commitErrs[1:]
		return err
	}
	return nil
}

func (u *fakeUnit) Rollback(context.Context) error {
	u.rolledBack = true
	return nil
}

func TestCommit_RetriesTransientFailure(t *testing.T) {
	e := &fakeEngine{commitErrs: []error{errs.New(errs.Locked, "commit", "busy")}}
	n := &flushRecorder{}
	mt := metrics.Unregistered()
	s := New(e, n, WithRetry(fastRetry()), WithMetrics(mt)).Session()
	ctx := context.Background()

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.MarkChanged("contact"))
	require.NoError(t, s.End(ctx, true))

	assert.Equal(t, 2, e.unit.commits)
	assert.False(t, e.unit.rolledBack)
	assert.Equal(t, []any{8}, e.unit.statements[len(e.unit.statements)-1].Args)
	assert.Len(t, n.flushes, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Commits))
}

func TestCommit_FatalFailureRollsBack(t *testing.T) {
	e := &fakeEngine{commitErrs: []error{errs.Wrap(errs.Io, "commit", errors.New("disk full"))}}
	n := &flushRecorder{}
	mt := metrics.Unregistered()
	s := New(e, n, WithRetry(fastRetry()), WithMetrics(mt)).Session()
	ctx := context.Background()

	require.NoError(t, s.Begin(ctx))
	require.NoError(t, s.MarkChanged("contact"))
	err := s.End(ctx, true)

	assert.True(t, errs.Is(err, errs.Io))
	assert.Equal(t, 1, e.unit.commits)
	assert.True(t, e.unit.rolledBack)
	assert.Empty(t, n.flushes)
	assert.False(t, s.Active())
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Rollbacks))
}

func TestCommit_PersistentLockGivesUp(t *testing.T) {
	locked := errs.New(errs.Locked, "commit", "busy")
	e := &fakeEngine{commitErrs: []error{locked, locked, locked, locked}}
	s := New(e, nil, WithRetry(fastRetry())).Session()
	ctx := context.Background()

	require.NoError(t, s.Begin(ctx))
	err := s.End(ctx, true)
	assert.True(t, errs.Is(err, errs.Locked))
	assert.Equal(t, 3, e.unit.commits)
	assert.True(t, e.unit.rolledBack)
}
